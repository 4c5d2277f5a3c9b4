package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache is the shared-deployment ResponseCache backend. Multiple
// gateway processes serving the same tenants see each other's entries;
// Redis owns expiry, so there is no sweep to run.
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewRedisCache creates a Redis-backed response cache. keyPrefix
// namespaces gateway entries inside a shared Redis ("gateway:resp:"
// when empty).
func NewRedisCache(client *redis.Client, keyPrefix string, defaultTTL time.Duration, logger *zap.Logger) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "gateway:resp:"
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "redis_cache")),
	}
}

// Get implements ResponseCache. Transport errors degrade to a miss so
// a Redis hiccup never fails a generation request.
func (c *RedisCache) Get(ctx context.Context, key string) (*GenerateResponse, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed, treating as miss", zap.Error(err))
		}
		return nil, ErrCacheMiss
	}
	var resp GenerateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, c.keyPrefix+key)
		return nil, ErrCacheMiss
	}
	return &resp, nil
}

// Set implements ResponseCache.
func (c *RedisCache) Set(ctx context.Context, key string, resp *GenerateResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err()
}
