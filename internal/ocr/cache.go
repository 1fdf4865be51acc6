package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache stores recognized text by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, text string) error
}

// CachedRecognizer serves repeated crops from a cache. Only successful
// recognitions are stored, so an identical crop always yields identical text.
type CachedRecognizer struct {
	next   Engine
	cache  Cache
	prefix string
	log    logrus.FieldLogger
}

// NewCachedRecognizer wraps next with cache; prefix namespaces the keys per backend.
func NewCachedRecognizer(next Engine, cache Cache, prefix string, log logrus.FieldLogger) *CachedRecognizer {
	return &CachedRecognizer{next: next, cache: cache, prefix: prefix, log: log}
}

// Key returns the cache key for a crop.
func (c *CachedRecognizer) Key(png []byte) string {
	return fmt.Sprintf("tally:ocr:%s:%016x", c.prefix, xxhash.Sum64(png))
}

// Recognize returns cached text when present, otherwise delegates.
// Cache failures are logged and bypassed.
func (c *CachedRecognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	key := c.Key(png)

	text, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.WithField("error", err).Warn("OCR cache lookup failed")
	} else if ok {
		return text, nil
	}

	text, err = c.next.Recognize(ctx, png)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, text); err != nil {
		c.log.WithField("error", err).Warn("OCR cache store failed")
	}
	return text, nil
}

// Close closes the wrapped engine and, if it holds one, the cache connection.
func (c *CachedRecognizer) Close() error {
	err := c.next.Close()
	if closer, ok := c.cache.(interface{ Close() error }); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

// Get looks up key.
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.entries[key]
	return text, ok, nil
}

// Set stores text under key.
func (m *MemoryCache) Set(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = text
	return nil
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get looks up key; a missing key is not an error.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	text, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// Set stores text under key with the configured TTL (0 keeps it forever).
func (r *RedisCache) Set(ctx context.Context, key, text string) error {
	return r.client.Set(ctx, key, text, r.ttl).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
