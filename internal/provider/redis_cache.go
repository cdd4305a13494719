package provider

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisHealthKeyPrefix namespaces health entries in a shared Redis.
const redisHealthKeyPrefix = "aethergate:provider-health:"

// RedisHealthCache is a HealthCache backed by Redis so multiple engine
// instances share probe results. Redis expiry implements the TTL.
type RedisHealthCache struct {
	client *redis.Client
}

// NewRedisHealthCache constructs a Redis-backed health cache.
func NewRedisHealthCache(client *redis.Client) *RedisHealthCache {
	return &RedisHealthCache{client: client}
}

// Get returns the cached liveness for a provider. Redis errors degrade to
// a cache miss so a flaky Redis never blocks selection.
func (c *RedisHealthCache) Get(ctx context.Context, providerID string) (bool, bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	value, errGet := c.client.Get(ctx, redisHealthKeyPrefix+providerID).Result()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Warnf("health cache: redis get failed (provider=%s)", providerID)
		}
		return false, false
	}
	return value == "1", true
}

// Set stores a probe result with the given TTL.
func (c *RedisHealthCache) Set(ctx context.Context, providerID string, alive bool, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}
	value := "0"
	if alive {
		value = "1"
	}
	if errSet := c.client.Set(ctx, redisHealthKeyPrefix+providerID, value, ttl).Err(); errSet != nil {
		log.WithError(errSet).Warnf("health cache: redis set failed (provider=%s)", providerID)
	}
}

var _ HealthCache = (*RedisHealthCache)(nil)
