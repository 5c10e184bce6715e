package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchFunc 在缓存未命中时获取最新值。
type FetchFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// TTL 为带过期时间的并发安全缓存。
// 刷新失败时保留并返回过期值，避免上游抖动放大到调用方。
// 并发未命中通过 singleflight 合并为一次上游请求。
type TTL[V any] struct {
	name   string
	ttl    time.Duration
	logger *zap.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
}

// NewTTL 创建命名的TTL缓存，name 仅用于日志。
func NewTTL[V any](name string, ttl time.Duration, logger *zap.Logger) *TTL[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TTL[V]{
		name:    name,
		ttl:     ttl,
		logger:  logger,
		clock:   time.Now,
		entries: make(map[string]entry[V]),
	}
}

// Get 返回未过期的缓存值。
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrFetch 返回缓存值，过期或缺失时调用 fetch 刷新。
// 刷新失败且存在旧值时返回旧值并记录告警；没有旧值才返回错误。
func (c *TTL[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !c.expired(e) {
		return e.value, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 双检：等待期间可能已被并发请求填充。
		c.mu.RLock()
		fresh, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && !c.expired(fresh) {
			return fresh.value, nil
		}

		value, fetchErr := fetch(ctx)
		if fetchErr != nil {
			if ok {
				c.logger.Warn("缓存刷新失败，返回过期值",
					zap.String("cache", c.name),
					zap.String("key", key),
					zap.Duration("age", c.clock().Sub(fresh.updatedAt)),
					zap.Error(fetchErr),
				)
				return fresh.value, nil
			}
			return nil, fmt.Errorf("缓存 %s 刷新失败: %w", c.name, fetchErr)
		}

		c.mu.Lock()
		c.entries[key] = entry[V]{value: value, updatedAt: c.clock()}
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return result.(V), nil
}

// Set 直接写入缓存值。
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, updatedAt: c.clock()}
	c.mu.Unlock()
}

// Invalidate 删除指定键。
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len 返回当前缓存条目数，包含已过期条目。
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTL[V]) expired(e entry[V]) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.clock().Sub(e.updatedAt) >= c.ttl
}
