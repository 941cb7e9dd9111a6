package agentapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// 单行事件最大长度
const maxLineSize = 1 << 20

const dataPrefix = "data: "

// 事件类型
const (
	eventWorkflowFinished = "workflow_finished"
	eventAgentThought     = "agent_thought"
)

// streamEvent 事件流中的单条事件（只解析用到的字段）
type streamEvent struct {
	Event   string `json:"event"`
	Thought string `json:"thought"`
	Data    struct {
		Outputs map[string]any `json:"outputs"`
	} `json:"data"`
}

// answer 返回 workflow_finished 事件的 data.outputs.answer
func (e *streamEvent) answer() string {
	v, ok := e.Data.Outputs["answer"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// scanEvents 逐行读取事件流
//
// 去掉 "data: " 前缀后按 JSON 解码，空行和无法解析的行直接跳过。
// fn 返回 true 时停止读取，scanEvents 返回 found=true。
func scanEvents(r io.Reader, fn func(ev *streamEvent) bool) (found bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte(dataPrefix))
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if fn(&ev) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
