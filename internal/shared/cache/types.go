// Package cache 缓存层类型定义
package cache

import (
	"errors"
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// SnapshotStatus 运行快照状态（面向轮询方的展示状态）
type SnapshotStatus string

const (
	StatusProcessing SnapshotStatus = "processing"
	StatusCompleted  SnapshotStatus = "completed"
	StatusFailed     SnapshotStatus = "failed"
	StatusCancelled  SnapshotStatus = "cancelled"
)

// IsTerminal 是否为终态
func (s SnapshotStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunStatus 评测执行的实时状态快照
//
// 由编排执行体在每条语料处理后整体发布；Cancelled 由取消请求写入，
// 编排执行体的后续发布必须保留该标记。
type RunStatus struct {
	Status            SnapshotStatus `json:"status"`
	Processed         int            `json:"processed"`
	Total             int            `json:"total"`
	Data              []ResultRow    `json:"data"`
	Error             string         `json:"error,omitempty"`
	Cancelled         bool           `json:"cancelled"`
	EvaluationSetID   string         `json:"evaluation_set_id,omitempty"`
	EvaluationSetName string         `json:"evaluation_set_name,omitempty"`
	CorpusCount       int            `json:"corpus_count"`
	Version           string         `json:"version,omitempty"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
}

// ResultRow 快照中的单条展示行
type ResultRow struct {
	CorpusID         string    `json:"corpus_id"`
	ExecutionOrder   int       `json:"execution_order"`
	Content          string    `json:"content"`
	ExpectedResponse string    `json:"expected_response"`
	ActualResponse   string    `json:"actual_response"`
	Score            *float64  `json:"score"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CorpusType       string    `json:"corpus_type"`
	CreatedAt        time.Time `json:"created_at"`
	Version          string    `json:"version"`
}

// UpdateFunc 读-改-写回调
//
// cur 为当前快照（不存在时为 nil）。返回 nil 快照表示放弃写入；
// 返回的错误原样传给 UpdateRunStatus 的调用方。
type UpdateFunc func(cur *RunStatus) (*RunStatus, error)

// ErrConflict 乐观事务多次重试后仍有并发写入
var ErrConflict = errors.New("cache: run status modified concurrently")

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyRunStatus = "eval_run_status:"

	// TTL 常量
	TTLRunActive   = 1 * time.Hour
	TTLRunTerminal = 5 * time.Minute
)

// RunStatusKey 返回运行快照的 key
func RunStatusKey(runID string) string {
	return KeyRunStatus + runID
}
