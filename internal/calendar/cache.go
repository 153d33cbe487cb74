package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryCache keeps calendar years in process memory.
type MemoryCache struct {
	mu    sync.RWMutex
	years map[int][]Day
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{years: make(map[int][]Day)}
}

func (c *MemoryCache) Get(_ context.Context, year int) ([]Day, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	days, ok := c.years[year]
	return days, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, year int, days []Day) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.years[year] = days
	return nil
}

// RedisCache shares calendar years between processes through Redis. Each
// year is one JSON value under "<prefix>:<year>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps a connected client. A non-positive ttl keeps entries
// forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "barsync:calendar", ttl: ttl}
}

func (c *RedisCache) key(year int) string {
	return fmt.Sprintf("%s:%d", c.prefix, year)
}

func (c *RedisCache) Get(ctx context.Context, year int) ([]Day, bool, error) {
	raw, err := c.client.Get(ctx, c.key(year)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key(year), err)
	}
	var days []Day
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, false, fmt.Errorf("decoding cached calendar %d: %w", year, err)
	}
	return days, true, nil
}

func (c *RedisCache) Set(ctx context.Context, year int, days []Day) error {
	raw, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("encoding calendar %d: %w", year, err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(year), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key(year), err)
	}
	return nil
}
