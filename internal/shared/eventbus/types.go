// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// RunEvent 评测执行事件
type RunEvent struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// 事件类型
const (
	EventRunStarted    = "run_started"
	EventCaseCompleted = "case_completed"
	EventCaseFailed    = "case_failed"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventRunCancelled  = "run_cancelled"
)

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyRunEvents = "eval_run_events:"

	// Stream 最大长度
	MaxStreamLength = 10000

	// TTLRunEvents 事件流保留时间（每次发布时刷新）
	TTLRunEvents = 24 * time.Hour
)
