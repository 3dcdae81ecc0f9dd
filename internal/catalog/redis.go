package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/evbooking/internal/model"
)

const (
	cacheKey      = "evbooking:catalog:v1"
	defaultTTL    = 5 * time.Minute
	maxJitterSecs = 30
)

// RedisCache хранит снимок каталога в Redis в виде JSON.
type RedisCache struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

// NewRedisCache создаёт кэш с базовым TTL. К TTL каждой записи добавляется случайный сдвиг.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: ttl,
	}
}

// Get возвращает снимок из Redis или ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context) (*model.Catalog, error) {
	data, err := r.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get catalog: %w", err)
	}

	var c model.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return &c, nil
}

// Set сохраняет снимок.
func (r *RedisCache) Set(ctx context.Context, c *model.Catalog) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	// Разброс TTL, чтобы реплики не ходили в бэкенд одновременно.
	ttl := r.baseTTL + time.Duration(rand.Intn(maxJitterSecs))*time.Second
	if err := r.client.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set catalog: %w", err)
	}
	return nil
}

// Delete сбрасывает снимок.
func (r *RedisCache) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("redis delete catalog: %w", err)
	}
	return nil
}
