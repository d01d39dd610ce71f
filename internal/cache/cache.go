// Package cache provides a small byte-oriented TTL cache with Redis and
// in-memory implementations.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores opaque values under string keys with an explicit TTL.
type Cache interface {
	// Get returns the value and true on a hit; a miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

var _ Cache = (*Redis)(nil)
var _ Cache = (*Memory)(nil)

// Redis is a Cache backed by Redis; eviction follows the server's
// maxmemory-policy in addition to per-key TTLs.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "quiz:cache"
	}
	return &Redis{client: client, prefix: prefix}
}

func (c *Redis) key(k string) string {
	return c.prefix + ":" + k
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

const (
	defaultMemorySize   = 512
	defaultMemoryMaxTTL = time.Hour
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a bounded in-process Cache. Entries are evicted least recently
// used once Size is reached, expire at their own TTL, and are dropped
// unconditionally after MaxTTL.
type Memory struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// MemoryOptions tunes Memory.
type MemoryOptions struct {
	Size   int
	MaxTTL time.Duration
	Now    func() time.Time
}

func NewMemory(opts MemoryOptions) *Memory {
	size := opts.Size
	if size <= 0 {
		size = defaultMemorySize
	}
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = defaultMemoryMaxTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: now,
	}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, memoryEntry{value: stored, expiresAt: c.now().Add(ttl)})
	return nil
}

// Len reports the number of live entries, including not-yet-swept expired ones.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
