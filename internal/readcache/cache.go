// Package readcache is a two tier read-through cache for per-requester
// views: an in-process expiring LRU in front of redis.
package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow/internal/logger"
	"contractflow/internal/redis"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractflow_cache_hits_total",
		Help: "Read-through cache hits by tier.",
	}, []string{"tier"})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contractflow_cache_misses_total",
		Help: "Read-through cache misses that fell through to the database.",
	})
)

// Store is the shared (L2) tier. *redis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) error
}

// ttlReader is implemented by stores that can report a key's remaining
// lifetime. *redis.Client does.
type ttlReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Cache holds serialized views. A nil remote keeps everything in process.
type Cache struct {
	local    *expirable.LRU[string, localEntry]
	localTTL time.Duration
	remote   Store
	now      func() time.Time
}

// localEntry never outlives the ttl it was stored with, even when that is
// shorter than the in-process tier's own expiry.
type localEntry struct {
	raw     []byte
	expires time.Time
}

// New builds a cache. localSize and localTTL bound the in-process tier.
func New(remote Store, localSize int, localTTL time.Duration) *Cache {
	if localSize <= 0 {
		localSize = 1024
	}
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &Cache{
		local:    expirable.NewLRU[string, localEntry](localSize, nil, localTTL),
		localTTL: localTTL,
		remote:   remote,
		now:      time.Now,
	}
}

// ContractKey identifies the cached view of contract id as seen by requester.
func ContractKey(id int64, requesterUUID string) string {
	return fmt.Sprintf("%s%s", ContractPrefix(id), requesterUUID)
}

// ContractPrefix matches every requester's view of contract id.
func ContractPrefix(id int64) string {
	return fmt.Sprintf("contract:%d:", id)
}

// GetOrCompute returns the cached value for key or runs compute and stores
// its result with ttl. Errors from compute are returned and never cached.
// Undecodable entries and backend failures count as misses.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return compute(ctx)
	}
	if raw, tier, ok := c.lookup(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			cacheHitsTotal.WithLabelValues(tier).Inc()
			return v, nil
		}
		logger.FromContext(ctx).Warn("discarding undecodable cache entry", "key", key, "tier", tier)
		c.local.Remove(key)
	}
	cacheMissesTotal.Inc()

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		logger.FromContext(ctx).Warn("cache encode failed", "key", key, "error", err)
		return v, nil
	}
	c.storeLocal(key, raw, ttl)
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, raw, ttl); err != nil {
			logger.FromContext(ctx).Warn("cache set failed", "key", key, "error", err)
		}
	}
	return v, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, string, bool) {
	if e, ok := c.local.Get(key); ok {
		if c.now().Before(e.expires) {
			return e.raw, "local", true
		}
		c.local.Remove(key)
	}
	if c.remote == nil {
		return nil, "", false
	}
	raw, err := c.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.FromContext(ctx).Warn("cache get failed", "key", key, "error", err)
		}
		return nil, "", false
	}
	var probe json.RawMessage
	if json.Unmarshal(raw, &probe) == nil {
		c.storeLocal(key, raw, c.remainingTTL(ctx, key))
	}
	return raw, "redis", true
}

func (c *Cache) storeLocal(key string, raw []byte, ttl time.Duration) {
	d := c.localTTL
	if ttl > 0 && ttl < d {
		d = ttl
	}
	c.local.Add(key, localEntry{raw: raw, expires: c.now().Add(d)})
}

// remainingTTL is zero when the store cannot tell.
func (c *Cache) remainingTTL(ctx context.Context, key string) time.Duration {
	r, ok := c.remote.(ttlReader)
	if !ok {
		return 0
	}
	ttl, err := r.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return 0
	}
	return ttl
}

// Invalidate drops every entry whose key starts with prefix from both tiers.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	if c == nil {
		return
	}
	for _, k := range c.local.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.local.Remove(k)
		}
	}
	if c.remote != nil {
		if err := c.remote.DelPrefix(ctx, prefix); err != nil {
			logger.FromContext(ctx).Warn("cache invalidate failed", "prefix", prefix, "error", err)
		}
	}
}

var (
	_ Store     = (*redis.Client)(nil)
	_ ttlReader = (*redis.Client)(nil)
)
