// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（PostgreSQL / SQLite）
//   - Cache：运行快照缓存（Redis，未启用时为进程内缓存）
//   - EventBus：执行事件流（Redis Streams，未启用时为空操作）
//   - ObjectStore：结果归档（MinIO，可选）
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"agent-eval/internal/config"
	"agent-eval/internal/shared/cache"
	"agent-eval/internal/shared/eventbus"
	"agent-eval/internal/shared/objstore"
	"agent-eval/internal/shared/storage"
	"agent-eval/internal/shared/storage/dbutil"
	"agent-eval/internal/shared/storage/repository"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Cache 运行快照缓存
	Cache cache.Cache

	// EventBus 事件总线
	EventBus eventbus.EventBus

	// ObjectStore 对象存储（未启用时为 nil）
	ObjectStore *objstore.Client

	// redis 共享连接（Cache 与 EventBus 共用，只关闭一次）
	redis *RedisInfra
}

// New 根据配置初始化全部基础设施
func New(cfg *config.Config) (*Infrastructure, error) {
	store, err := repository.Open(dbutil.DriverType(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Printf("[infra] Storage ready: driver=%s", cfg.DatabaseDriver)

	inf := &Infrastructure{Storage: store}

	if cfg.RedisURL != "" {
		r, err := NewRedisInfra(cfg.RedisURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		inf.redis = r
		inf.Cache = r.Cache()
		inf.EventBus = r.EventBus()
	} else {
		log.Printf("[infra] Redis disabled, using in-process run status cache")
		inf.Cache = cache.NewMemoryCache()
		inf.EventBus = eventbus.NewNoOpEventBus()
	}

	if cfg.MinIO.Enabled {
		oc, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			inf.Close()
			return nil, fmt.Errorf("init minio: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := oc.EnsureBucket(ctx); err != nil {
			log.Printf("[infra] MinIO bucket check failed, archiving disabled: %v", err)
		} else {
			inf.ObjectStore = oc
		}
	}

	return inf, nil
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			lastErr = err
		}
		return lastErr
	}

	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			lastErr = err
		}
	}

	if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Cache:    cache.NewNoOpCache(),
		EventBus: eventbus.NewNoOpEventBus(),
	}
}
