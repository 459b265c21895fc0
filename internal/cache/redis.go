package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/metrics"
)

// RedisCache is an alternative backend for deployments that share a cache
// across hosts. Semantics match FileCache, including the today guard.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, now: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	if isToday(key.Date, c.now) {
		return nil, false
	}
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("redis cache read failed")
		}
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(key.Provider).Inc()
	return data, true
}

func (c *RedisCache) Put(ctx context.Context, key Key, data []byte) error {
	if isToday(key.Date, c.now) {
		return nil
	}
	if err := c.client.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache write failed")
		return err
	}
	return nil
}

func redisKey(key Key) string {
	return fmt.Sprintf("signalrun:%s:%s:%s:%s", key.Provider, key.Endpoint, key.Date, key.Symbol)
}
