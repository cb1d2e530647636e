package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores vectors by key
type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vec []float64) error
}

// MemoryCache is an unbounded in-process Cache
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]float64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: map[string][]float64{}}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, vec []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = vec
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// RedisCache keeps vectors in Redis so every replica shares them
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get key %s: %w", key, err)
	}
	var vec []float64
	if err := json.Unmarshal(val, &vec); err != nil {
		return nil, false, fmt.Errorf("decode key %s: %w", key, err)
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float64) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode key %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CacheKey derives the cache key of text embedded by model
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("govpulse:emb:%s:%x", model, sum[:12])
}

// Cached wraps an Embedder with a Cache. Cache errors are logged and
// treated as misses.
type Cached struct {
	inner  Embedder
	cache  Cache
	logger *slog.Logger
}

func NewCached(inner Embedder, cache Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: cache, logger: logger}
}

func (c *Cached) Model() string { return c.inner.Model() }

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, CacheKey(c.inner.Model(), t))
		if err != nil {
			c.logger.Warn("Embedding cache read failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		if err := c.cache.Set(ctx, CacheKey(c.inner.Model(), missing[j]), vec); err != nil {
			c.logger.Warn("Embedding cache write failed", "error", err)
		}
	}
	return out, nil
}
