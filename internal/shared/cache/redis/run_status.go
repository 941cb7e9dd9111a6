// Package redis RunStatus 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-eval/internal/shared/cache"
)

// SetRunStatus 整体写入运行快照
func (s *Store) SetRunStatus(ctx context.Context, runID string, status *cache.RunStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal run status: %w", err)
	}
	return s.client.Set(ctx, cache.RunStatusKey(runID), data, ttl).Err()
}

// GetRunStatus 获取运行快照
func (s *Store) GetRunStatus(ctx context.Context, runID string) (*cache.RunStatus, error) {
	data, err := s.client.Get(ctx, cache.RunStatusKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRunStatus(data)
}

// UpdateRunStatus 基于 WATCH/MULTI 的乐观读-改-写
//
// 事务期间 key 被其他客户端修改时整体重试，超过上限返回 cache.ErrConflict。
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, ttl time.Duration, fn cache.UpdateFunc) error {
	key := cache.RunStatusKey(runID)

	txf := func(tx *redis.Tx) error {
		var cur *cache.RunStatus
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			if cur, err = decodeRunStatus(data); err != nil {
				return err
			}
		}

		next, err := fn(cur)
		if err != nil || next == nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal run status: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return cache.ErrConflict
}

func decodeRunStatus(data []byte) (*cache.RunStatus, error) {
	var status cache.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	return &status, nil
}
