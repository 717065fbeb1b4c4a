package core

import (
	"context"
	"fmt"
	"time"

	"explorviz/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache wraps the optional Redis connection shared by the REST rate
// limiter.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance. No connection is made
// until the first command; call Ping to verify reachability.
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// IncrWindow increments the counter for key and refreshes its expiry in the
// same transaction, so a counter never outlives its window. It returns the
// count after the increment.
func (rc *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		rc.logger.Warnw("Rate limit window update failed", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "incr").Inc()
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Cache key prefixes
const (
	CacheKeyRateLimitPrefix = "explorviz:ratelimit:"
)

// RateLimitKey builds the fixed-window key for a client and window index.
func RateLimitKey(client string, window int64) string {
	return fmt.Sprintf("%s%s:%d", CacheKeyRateLimitPrefix, client, window)
}
