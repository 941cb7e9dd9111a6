// Package model 定义核心数据模型
//
// evaluation_set.go 包含评测集相关的数据模型定义：
//   - EvaluationSet：评测集（语料集合）
//   - EvaluationSetStatus：评测集生命周期状态
//   - Corpus：单条测试语料
package model

import (
	"time"
)

// ============================================================================
// EvaluationSetStatus - 评测集状态
// ============================================================================

// EvaluationSetStatus 评测集生命周期状态
type EvaluationSetStatus string

const (
	// EvaluationSetActive 可用：出现在列表中，可被选择执行
	EvaluationSetActive EvaluationSetStatus = "active"

	// EvaluationSetInactive 停用：保留数据但不再参与评测
	EvaluationSetInactive EvaluationSetStatus = "inactive"
)

// IsValid 是否为合法状态
func (s EvaluationSetStatus) IsValid() bool {
	return s == EvaluationSetActive || s == EvaluationSetInactive
}

// ============================================================================
// EvaluationSet - 评测集
// ============================================================================

// EvaluationSet 评测集
//
// 评测集是一组命名的测试语料，由表格导入创建：
//   - Name 全局唯一
//   - 删除评测集会级联删除其语料、执行记录和结果
//   - 停用后不再出现在可执行列表中
type EvaluationSet struct {
	ID          string              `json:"id" db:"id"`
	Name        string              `json:"name" db:"name"`
	Description string              `json:"description,omitempty" db:"description"`
	Status      EvaluationSetStatus `json:"status" db:"status"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`

	// CorpusCount 语料数量（查询时填充，不落库）
	CorpusCount int `json:"corpus_count" db:"-"`
}

// ============================================================================
// Corpus - 测试语料
// ============================================================================

// Corpus 单条测试语料
//
// 语料一经创建不可修改。Seq 为导入时的行序号（从 1 开始），
// 执行时按 (Seq, CreatedAt) 排序，保证与创建顺序一致。
type Corpus struct {
	ID               string    `json:"id" db:"id"`
	EvaluationSetID  string    `json:"evaluation_set_id" db:"evaluation_set_id"`
	Seq              int       `json:"seq" db:"seq"`
	Content          string    `json:"content" db:"content"`
	ExpectedResponse *string   `json:"expected_response,omitempty" db:"expected_response"`
	Intent           *string   `json:"intent,omitempty" db:"intent"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Expected 返回预期结果，未设置时为空串
func (c *Corpus) Expected() string {
	if c.ExpectedResponse == nil {
		return ""
	}
	return *c.ExpectedResponse
}

// IntentLabel 返回意图标签，未设置时为空串
func (c *Corpus) IntentLabel() string {
	if c.Intent == nil {
		return ""
	}
	return *c.Intent
}

// IntentCount 意图统计
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}
