// Package redis 基于 Redis Streams 的事件总线实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-eval/internal/shared/eventbus"
)

// Store Redis Streams 事件总线
type Store struct {
	client *redis.Client
}

var _ eventbus.EventBus = (*Store)(nil)

// NewStoreFromClient 从现有 Redis 客户端创建事件总线
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

func runEventsKey(runID string) string {
	return eventbus.KeyRunEvents + runID
}

// PublishRunEvent 发布执行事件
func (s *Store) PublishRunEvent(ctx context.Context, runID string, event *eventbus.RunEvent) error {
	key := runEventsKey(runID)

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":      event.Type,
			"timestamp": ts.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	})
	pipe.Expire(ctx, key, eventbus.TTLRunEvents)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Printf("[Redis/EventBus] Published event: run_id=%s type=%s", runID, event.Type)
	return nil
}

// GetRunEvents 获取执行事件列表
func (s *Store) GetRunEvents(ctx context.Context, runID string, count int64) ([]*eventbus.RunEvent, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, runEventsKey(runID), "-", "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, runEventsKey(runID), "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	events := make([]*eventbus.RunEvent, 0, len(msgs))
	for i, msg := range msgs {
		event := &eventbus.RunEvent{
			ID:    msg.ID,
			RunID: runID,
			Seq:   i + 1,
		}
		if typ, ok := msg.Values["type"].(string); ok {
			event.Type = typ
		}
		if ts, ok := msg.Values["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				event.Timestamp = t
			}
		}
		if payloadStr, ok := msg.Values["payload"].(string); ok {
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(payloadStr), &payload); err == nil {
				event.Payload = payload
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// GetRunEventCount 获取事件数量
func (s *Store) GetRunEventCount(ctx context.Context, runID string) (int64, error) {
	return s.client.XLen(ctx, runEventsKey(runID)).Result()
}

// DeleteRunEvents 删除事件流
func (s *Store) DeleteRunEvents(ctx context.Context, runID string) error {
	return s.client.Del(ctx, runEventsKey(runID)).Err()
}
