// Package cache implements the OHLCV cache engine: an abstract key/value
// store with native TTL (Redis-backed, with an in-process fallback) and the
// per-(symbol,timeframe) segment cache built on top of it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/errs"
)

// TTL introspection sentinels, matching the Redis TTL command contract.
const (
	TTLNone    int64 = -1 // key exists with no expiry
	TTLMissing int64 = -2 // key missing or store unreachable
)

// Store is the abstract key/value store with native TTL. Keys are raw;
// namespacing is the caller's concern.
type Store interface {
	// Get returns the raw value and whether the key exists. Transient store
	// failures surface as ErrCacheUnavailable so callers can degrade to miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns remaining seconds, TTLNone for no expiry, TTLMissing for
	// a missing key or unreachable store.
	TTL(ctx context.Context, key string) int64
}

// RedisStore backs Store with a remote Redis instance.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, log zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", errs.ErrCacheUnavailable, err)
	}
	return &RedisStore{
		client: rdb,
		log:    log.With().Str("component", "redis_store").Logger(),
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: redis get: %v", errs.ErrCacheUnavailable, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", errs.ErrCacheUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", errs.ErrCacheUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis keys: %v", errs.ErrCacheUnavailable, err)
	}
	return keys, nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) int64 {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return TTLMissing
	}
	switch {
	case d == -1*time.Second || d == -1:
		return TTLNone
	case d < 0:
		return TTLMissing
	default:
		return int64(d / time.Second)
	}
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error { return r.client.Close() }

// memEntry is one in-process store entry.
type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is the in-process Store used when Redis is disabled and in
// tests. TTL expiry is checked lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var keys []string
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) int64 {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return TTLMissing
	}
	if e.expiresAt.IsZero() {
		return TTLNone
	}
	remaining := time.Until(e.expiresAt)
	if remaining <= 0 {
		return TTLMissing
	}
	return int64(remaining / time.Second)
}
