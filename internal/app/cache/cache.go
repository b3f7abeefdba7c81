// Package cache provides a small key/value cache with per-entry expiry,
// backed by an in-process LRU or by Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores JSON-encodable values. A zero ttl uses the backend's
// default lifetime.
type Cache interface {
	// Get decodes the value at key into dest and reports whether it was
	// present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal cache value: %w", err)
		}
		return data, nil
	}
}

func decode(data []byte, dest any) error {
	if raw, ok := dest.(*[]byte); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal cache value: %w", err)
	}
	return nil
}

// --- memory ---------------------------------------------------------------

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU cache.
type Memory struct {
	lru        *expirable.LRU[string, entry]
	defaultTTL time.Duration
}

// NewMemory creates a cache holding at most size entries. Entries live for
// defaultTTL unless Set asks for less.
func NewMemory(size int, defaultTTL time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Memory{lru: expirable.NewLRU[string, entry](size, nil, defaultTTL), defaultTTL: defaultTTL}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.lru.Remove(key)
		return false, nil
	}
	return true, decode(e.value, dest)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if ttl <= 0 || ttl > m.defaultTTL {
		ttl = m.defaultTTL
	}
	m.lru.Add(key, entry{value: data, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.lru.Remove(key)
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory) Len() int { return m.lru.Len() }

// --- redis ----------------------------------------------------------------

// Redis stores entries in a Redis server under a key prefix.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedis creates a cache on client.
func NewRedis(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Redis{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// NewRedisClient builds a client from a redis:// URL or a host:port address.
func NewRedisClient(addr, password string, db int) redis.UniversalClient {
	if opts, err := redis.ParseURL(addr); err == nil {
		if password != "" {
			opts.Password = password
		}
		return redis.NewClient(opts)
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return true, decode(data, dest)
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
