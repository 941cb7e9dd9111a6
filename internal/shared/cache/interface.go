// Package cache 缓存层抽象接口
//
// 提供临时状态的存取能力：评测执行的实时快照按 run_id 命名空间隔离，
// 带 TTL 自动过期。生产环境由 Redis 实现，单机/测试使用内存实现。
package cache

import (
	"context"
	"time"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// RunStatusCache 运行状态快照缓存接口
type RunStatusCache interface {
	// SetRunStatus 整体覆盖写入快照
	SetRunStatus(ctx context.Context, runID string, status *RunStatus, ttl time.Duration) error
	// GetRunStatus 不存在或已过期时返回 nil, nil
	GetRunStatus(ctx context.Context, runID string) (*RunStatus, error)
	// UpdateRunStatus 原子地读-改-写快照
	UpdateRunStatus(ctx context.Context, runID string, ttl time.Duration, fn UpdateFunc) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	RunStatusCache
	Close() error
}
