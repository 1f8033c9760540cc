// Package cache stores JSON-encoded API responses in redis, falling back to an
// in-process TTL store when redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
)

// Cache is a JSON key/value cache with a fixed TTL.
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// AthleteKey is the cache key for an athlete valuation response.
func AthleteKey(id string) string { return "athlete:" + id }

// LeaderboardKey is the cache key for a leaderboard response.
func LeaderboardKey(limit int) string { return fmt.Sprintf("leaderboard:%d", limit) }

const (
	backendRedis  = "redis"
	backendMemory = "memory"
)

// Client caches in redis, routing to the in-process store when redis errors
// or the circuit breaker is open.
type Client struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker
	fallback *Memory
	metrics  *metrics.Registry
}

var _ Cache = (*Client)(nil)

// New connects to redis at cfg.Addr. An empty address or a failed ping
// yields a memory-only client.
func New(ctx context.Context, cfg config.RedisConfig, m *metrics.Registry) *Client {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	log := zap.L().With(zap.String("component", "cache"))

	if cfg.Addr == "" {
		log.Info("cache: no redis address, using in-memory store")
		return NewWithClient(nil, ttl, m)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("cache: redis unavailable, falling back to in-memory store",
			zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rdb.Close()
		return NewWithClient(nil, ttl, m)
	}

	log.Info("cache: connected to redis", zap.String("addr", cfg.Addr))
	return NewWithClient(rdb, ttl, m)
}

// NewWithClient wraps an existing redis client. A nil client is memory-only.
func NewWithClient(rdb redis.Cmdable, ttl time.Duration, m *metrics.Registry) *Client {
	st := gobreaker.Settings{
		Name:     "redis-cache",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("cache: circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Client{
		rdb:      rdb,
		ttl:      ttl,
		breaker:  gobreaker.NewCircuitBreaker(st),
		fallback: NewMemory(ttl),
		metrics:  m,
	}
}

// Get implements Cache.
func (c *Client) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.rdb == nil {
		return c.memoryGet(key, dest)
	}

	v, err := c.breaker.Execute(func() (any, error) {
		payload, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		return payload, err
	})
	if err != nil {
		zap.L().Warn("cache: redis get failed, using in-memory store",
			zap.String("key", key), zap.Error(err))
		c.metrics.CacheFellBack()
		return c.memoryGet(key, dest)
	}

	payload, _ := v.([]byte)
	if payload == nil {
		c.metrics.CacheLookup(backendRedis, false)
		return false, nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	c.metrics.CacheLookup(backendRedis, true)
	return true, nil
}

// Set implements Cache.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}

	if c.rdb == nil {
		c.fallback.put(key, payload)
		return nil
	}

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.rdb.Set(ctx, key, payload, c.ttl).Err()
	})
	if err != nil {
		zap.L().Warn("cache: redis set failed, using in-memory store",
			zap.String("key", key), zap.Error(err))
		c.metrics.CacheFellBack()
		c.fallback.put(key, payload)
	}
	return nil
}

// Close releases the redis connection, if any.
func (c *Client) Close() error {
	if closer, ok := c.rdb.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) memoryGet(key string, dest any) (bool, error) {
	found, err := c.fallback.Get(context.Background(), key, dest)
	if err == nil {
		c.metrics.CacheLookup(backendMemory, found)
	}
	return found, err
}

// Memory is an in-process TTL cache holding JSON payloads, so values read
// back are identical to the redis path.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	payload []byte
	expires time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-process cache. A non-positive ttl never expires.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.payload, dest); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	m.put(key, payload)
	return nil
}

func (m *Memory) put(key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}
	m.entries[key] = entry{payload: payload, expires: expires}
}
