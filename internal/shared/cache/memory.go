package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ============================================================================
// MemoryCache - 进程内 Cache 实现
// ============================================================================

// MemoryCache 进程内快照缓存，未配置 Redis 时使用
//
// 快照以 JSON 形式保存，读写都经过编解码，调用方拿到的是独立副本。
// 过期在读取时判断；写入时按 sweepInterval 顺带清理全部过期条目，
// 从未被轮询的执行也不会一直占用内存。
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// sweepInterval 两次全量清理之间的最短间隔
const sweepInterval = time.Minute

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache 创建 MemoryCache 实例
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Close 关闭缓存
func (c *MemoryCache) Close() error {
	return nil
}

// SetRunStatus 写入快照
func (c *MemoryCache) SetRunStatus(ctx context.Context, runID string, status *RunStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(runID, data, ttl)
	return nil
}

// GetRunStatus 读取快照
func (c *MemoryCache) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(runID)
}

// UpdateRunStatus 在同一把锁内完成读-改-写
func (c *MemoryCache) UpdateRunStatus(ctx context.Context, runID string, ttl time.Duration, fn UpdateFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.get(runID)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	c.put(runID, data, ttl)
	return nil
}

func (c *MemoryCache) put(runID string, data []byte, ttl time.Duration) {
	now := c.now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		c.sweep(now)
	}
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.entries[RunStatusKey(runID)] = e
}

// sweep 删除全部已过期条目
func (c *MemoryCache) sweep(now time.Time) {
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (c *MemoryCache) get(runID string) (*RunStatus, error) {
	key := RunStatusKey(runID)
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, nil
	}
	var status RunStatus
	if err := json.Unmarshal(e.data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
