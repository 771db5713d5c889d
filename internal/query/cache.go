package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/redis"
)

const keyPrefix = "pair:"

// KV is the part of the Redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	FlushPrefix(ctx context.Context, prefix string) (int64, error)
}

// PairCache caches the title ids indexed under one (source, genre) pair.
type PairCache interface {
	GetOrLoad(ctx context.Context, sourceID, genreID catalog.ID, load func(context.Context) ([]catalog.ID, error)) ([]catalog.ID, bool, error)
	Invalidate(ctx context.Context, sourceID, genreID catalog.ID) error
}

// RedisCache is a PairCache in Redis. Concurrent misses on the same pair
// share one load.
type RedisCache struct {
	kv      KV
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewRedisCache creates a cache with the given entry lifetime. m may be nil.
func NewRedisCache(kv KV, ttl time.Duration, m *metrics.Metrics) *RedisCache {
	return &RedisCache{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func pairKey(sourceID, genreID catalog.ID) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, sourceID, genreID)
}

func (c *RedisCache) get(ctx context.Context, key string) ([]catalog.ID, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
			c.observe("error")
		}
		return nil, false
	}
	var ids []catalog.ID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return ids, true
}

func (c *RedisCache) set(ctx context.Context, key string, ids []catalog.ID) {
	data, err := json.Marshal(ids)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached ids for the pair, or loads and caches them.
// The boolean reports a cache hit. Cache faults fall through to load.
func (c *RedisCache) GetOrLoad(ctx context.Context, sourceID, genreID catalog.ID, load func(context.Context) ([]catalog.ID, error)) ([]catalog.ID, bool, error) {
	key := pairKey(sourceID, genreID)
	if ids, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		c.observe("hit")
		return ids, true, nil
	}
	c.misses.Add(1)
	c.observe("miss")

	val, err, _ := c.group.Do(key, func() (any, error) {
		if ids, ok := c.get(ctx, key); ok {
			return ids, nil
		}
		ids, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, ids)
		return ids, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]catalog.ID), false, nil
}

// Invalidate drops the cached ids of one pair.
func (c *RedisCache) Invalidate(ctx context.Context, sourceID, genreID catalog.ID) error {
	key := pairKey(sourceID, genreID)
	if err := c.kv.Del(ctx, key); err != nil {
		return fmt.Errorf("invalidating %s: %w", key, err)
	}
	return nil
}

// InvalidateAll drops every cached pair.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	deleted, err := c.kv.FlushPrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *RedisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RedisCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.QueryCacheTotal.WithLabelValues(result).Inc()
	}
}
