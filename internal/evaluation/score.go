package evaluation

import (
	"regexp"
	"strconv"
)

var scorePattern = regexp.MustCompile(`\d+\.?\d*`)

// ExtractScore 从评分文本中提取第一个数字
//
// 有损：只取第一个出现的数字（"得分: 4.5, 满分5" → 4.5），
// 没有数字或解析失败时返回 0。
func ExtractScore(text string) float64 {
	m := scorePattern.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}
