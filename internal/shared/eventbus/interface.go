// Package eventbus 事件总线抽象接口
//
// 提供评测执行进度事件的发布与回放能力，当前由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// RunEventBus 评测执行事件总线接口
type RunEventBus interface {
	PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error
	// GetRunEvents 按发布顺序返回事件，count <= 0 表示不限
	GetRunEvents(ctx context.Context, runID string, count int64) ([]*RunEvent, error)
	GetRunEventCount(ctx context.Context, runID string) (int64, error)
	DeleteRunEvents(ctx context.Context, runID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	RunEventBus
	Close() error
}
