// Package cache provides a two-tier read cache for graph lookups and query
// results: an in-process Ristretto tier backed by an optional shared Redis
// tier. Both tiers are best-effort; a cache failure never fails the caller.
package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Key prefixes, one per cached object family. Invalidation works on whole
// families after graph mutations.
const (
	PrefixEntity    = "entity:"
	PrefixCommunity = "community:"
	PrefixQuery     = "query:"
	PrefixRetrieval = "retrieval:"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultL1MaxCost = 10000
)

// Metrics counts tier hits and misses.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// Tiered is the two-tier cache. The Redis client may be nil, leaving only
// the in-process tier.
type Tiered struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New creates a Tiered cache. l1MaxCost bounds the in-process tier in bytes
// of cached payload; ttl applies to both tiers.
func New(l1MaxCost int64, ttl time.Duration, rdb *redis.Client, logger *zap.Logger) (*Tiered, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l1MaxCost <= 0 {
		l1MaxCost = defaultL1MaxCost
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10 * l1MaxCost,
		MaxCost:     l1MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create l1 cache: %w", err)
	}

	return &Tiered{
		l1:     l1,
		l2:     rdb,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}, nil
}

// Get reads a key, promoting L2 hits into L1.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, ok := c.l1.Get(key); ok {
		c.count(func(m *Metrics) { m.L1Hits++ })
		return val, true
	}
	c.count(func(m *Metrics) { m.L1Misses++ })

	if c.l2 == nil {
		return nil, false
	}
	data, err := c.l2.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		c.count(func(m *Metrics) { m.L2Misses++ })
		return nil, false
	}
	c.count(func(m *Metrics) { m.L2Hits++ })
	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
	return data, true
}

// Set writes a key to both tiers. The L2 write is synchronous but its
// failure is only logged.
func (c *Tiered) Set(ctx context.Context, key string, data []byte) {
	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("l2 set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes a key from both tiers.
func (c *Tiered) Delete(ctx context.Context, key string) {
	c.l1.Del(key)
	if c.l2 == nil {
		return
	}
	if err := c.l2.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("l2 delete failed", zap.String("key", key), zap.Error(err))
	}
}

// GetOrCompute returns the cached value for key or computes, caches, and
// returns it.
func (c *Tiered) GetOrCompute(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(ctx, key); ok {
		return data, nil
	}
	data, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, data)
	return data, nil
}

// InvalidatePrefix drops every key in a family. The L1 tier cannot enumerate
// keys, so it is cleared wholesale; L2 keys are scanned and deleted.
func (c *Tiered) InvalidatePrefix(ctx context.Context, prefix string) {
	c.l1.Clear()
	if c.l2 == nil {
		return
	}
	iter := c.l2.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("l2 scan failed", zap.String("prefix", prefix), zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := c.l2.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("l2 bulk delete failed", zap.Int("keys", len(keys)), zap.Error(err))
		}
	}
}

// Wait flushes pending L1 writes. Ristretto applies sets asynchronously;
// call this before reading back a value you just wrote.
func (c *Tiered) Wait() {
	c.l1.Wait()
}

// Stats returns a snapshot of the hit counters.
func (c *Tiered) Stats() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close releases the in-process tier. The Redis client is owned by the
// caller.
func (c *Tiered) Close() {
	c.l1.Close()
}

func (c *Tiered) count(fn func(*Metrics)) {
	c.mu.Lock()
	fn(&c.metrics)
	c.mu.Unlock()
}

// QueryKey derives a stable cache key for a question, so semantically
// identical requests share an entry regardless of length.
func QueryKey(question string) string {
	sum := blake2b.Sum256([]byte(question))
	return PrefixQuery + hex.EncodeToString(sum[:16])
}

// EntityKey keys a cached entity lookup by normalized name and type.
func EntityKey(name, entityType string) string {
	return PrefixEntity + name + "|" + entityType
}

// CommunityKey keys a cached community record.
func CommunityKey(id int) string {
	return fmt.Sprintf("%s%d", PrefixCommunity, id)
}

// RetrievalKey keys a cached retrieval result by mode and seed.
func RetrievalKey(mode, seed string) string {
	return PrefixRetrieval + mode + "|" + seed
}
