package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/logger"
)

// Cache stores embeddings by key. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (vec []float64, ok bool, err error)
	Set(ctx context.Context, key string, vec []float64, ttl time.Duration) error
}

// Cached memoizes an underlying Service. Cache failures are logged and the
// call falls through to the service; they never fail an embed.
type Cached struct {
	next  Service
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCached(next Service, cache Cache, ttl time.Duration, log *logger.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, log: log.With("component", "EmbeddingCache")}
}

func (c *Cached) Model() string   { return c.next.Model() }
func (c *Cached) Dimensions() int { return c.next.Dimensions() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	key := CacheKey(c.next.Model(), text)

	vec, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.log.Warn("embedding cache read failed", "error", err)
	case ok && len(vec) == c.next.Dimensions():
		return vec, nil
	case ok:
		c.log.Warn("discarding cached embedding", "error", atom.CheckDimension("semantic", vec, c.next.Dimensions()))
	}

	vec, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, vec, c.ttl); err != nil {
		c.log.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

// CacheKey namespaces text by model so switching models never serves a
// stale vector.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "dermagraph:embed:" + model + ":" + hex.EncodeToString(sum[:])
}

// RedisCache keeps embeddings in redis as JSON arrays.
type RedisCache struct {
	rdb *goredis.Client
}

// NewRedisCache connects to addr and pings it.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis cache: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float64, ttl time.Duration) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, raw, ttl).Err()
}

func (r *RedisCache) Close() error { return r.rdb.Close() }
