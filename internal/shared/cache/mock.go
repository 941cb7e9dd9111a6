// Package cache 缓存层 mock 实现
package cache

import (
	"context"
	"time"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（用于测试）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现
type NoOpCache struct{}

var _ Cache = (*NoOpCache)(nil)

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

// RunStatusCache 方法

func (c *NoOpCache) SetRunStatus(ctx context.Context, runID string, status *RunStatus, ttl time.Duration) error {
	return nil
}
func (c *NoOpCache) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	return nil, nil
}
func (c *NoOpCache) UpdateRunStatus(ctx context.Context, runID string, ttl time.Duration, fn UpdateFunc) error {
	_, err := fn(nil)
	return err
}
