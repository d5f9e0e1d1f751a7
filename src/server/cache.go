package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"serf-ci/src/refs"
)

// DefaultCacheTTL bounds how stale a served snapshot may be.
const DefaultCacheTTL = 15 * time.Second

// ErrCacheMiss is returned by a RefCache that has no fresh entry.
var ErrCacheMiss = errors.New("cache miss")

// RefCache holds recent snapshots per repository.
type RefCache interface {
	Get(ctx context.Context, nwo string) (refs.Snapshot, error)
	Set(ctx context.Context, nwo string, snapshot refs.Snapshot) error
}

type cacheEntry struct {
	snapshot refs.Snapshot
	expires  time.Time
}

// MemoryCache is a process-local RefCache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, nwo string) (refs.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[nwo]
	if !ok || !c.now().Before(entry.expires) {
		delete(c.entries, nwo)
		return nil, ErrCacheMiss
	}
	return entry.snapshot, nil
}

func (c *MemoryCache) Set(ctx context.Context, nwo string, snapshot refs.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[nwo] = cacheEntry{snapshot: snapshot, expires: c.now().Add(c.ttl)}
	return nil
}

// RedisCache stores snapshots as JSON in Redis with a TTL, so several serve
// processes share one view.
type RedisCache struct {
	rdb       redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisCache creates a RedisCache. Keys are "{keyPrefix}:refs:{nwo}".
func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "serf"
	}
	return &RedisCache{rdb: rdb, ttl: ttl, keyPrefix: keyPrefix}
}

func (c *RedisCache) key(nwo string) string {
	return fmt.Sprintf("%s:refs:%s", c.keyPrefix, nwo)
}

func (c *RedisCache) Get(ctx context.Context, nwo string) (refs.Snapshot, error) {
	raw, err := c.rdb.Get(ctx, c.key(nwo)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached refs for %s: %w", nwo, err)
	}

	var snapshot refs.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached refs for %s: %w", nwo, err)
	}
	return snapshot, nil
}

func (c *RedisCache) Set(ctx context.Context, nwo string, snapshot refs.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode refs for %s: %w", nwo, err)
	}
	if err := c.rdb.Set(ctx, c.key(nwo), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache refs for %s: %w", nwo, err)
	}
	return nil
}
