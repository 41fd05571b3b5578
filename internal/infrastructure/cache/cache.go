// Package cache stores computed results across runs: an in-process layer
// always, and a shared redis layer behind a circuit breaker when
// configured.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Store is a byte-oriented key/value cache.
type Store interface {
	// Get reports found=false with a nil error on a miss
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config holds cache configuration.
type Config struct {
	Addr     string        `yaml:"addr" envconfig:"ADDR"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
	Prefix   string        `yaml:"prefix"`
}

// DefaultConfig keeps entries for a week with no redis layer.
func DefaultConfig() Config {
	return Config{TTL: 7 * 24 * time.Hour, Prefix: "signalrun:"}
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Store.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Store.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store. A non-positive ttl never expires.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisCache implements Store using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg Config) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisCacheWithClient(rdb, cfg.Prefix), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get retrieves a value from cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // Cache miss
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores a value in cache with TTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Layered reads through the memory layer to an optional remote layer.
// Remote failures are logged and count as misses; repeated failures open
// the breaker so a dead redis stops costing a timeout per lookup.
type Layered struct {
	local   *MemoryCache
	remote  Store
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewLayered combines a memory layer with remote, which may be nil.
func NewLayered(remote Store, ttl time.Duration, logger zerolog.Logger) *Layered {
	return &Layered{
		local:  NewMemoryCache(),
		remote: remote,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cache",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		ttl:    ttl,
		logger: logger,
	}
}

// Get implements Store and never returns an error.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, _ := l.local.Get(ctx, key); ok {
		return v, true, nil
	}
	if l.remote == nil {
		return nil, false, nil
	}
	res, err := l.breaker.Execute(func() (interface{}, error) {
		v, ok, err := l.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return v, nil
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Remote cache read failed")
		return nil, false, nil
	}
	v, _ := res.([]byte)
	if v == nil {
		return nil, false, nil
	}
	_ = l.local.Set(ctx, key, v, l.ttl)
	return v, true, nil
}

// Set implements Store. The memory layer is always written; remote
// failures are logged only.
func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.ttl
	}
	_ = l.local.Set(ctx, key, value, ttl)
	if l.remote == nil {
		return nil
	}
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, l.remote.Set(ctx, key, value, ttl)
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Remote cache write failed")
	}
	return nil
}

// BreakerState returns the remote breaker state.
func (l *Layered) BreakerState() gobreaker.State {
	return l.breaker.State()
}
