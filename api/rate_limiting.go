package api

import (
	"context"
	"math"
	"sync"
	"time"

	"explorviz/config"
	"explorviz/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL         = 10 * time.Minute
	limiterCleanupInterval = time.Minute
	redisWindow            = time.Second
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client key. With Redis it enforces a
// fixed one-second window shared by every replica and falls back to the
// in-memory token bucket when Redis fails.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	// windowLimit is the Redis per-window allowance: the larger of burst
	// and the per-second rate.
	windowLimit int64

	mu       sync.Mutex
	limiters map[string]*limiterEntry

	redis  *core.RedisCache
	logger *zap.SugaredLogger

	stopCh    chan struct{}
	stopOnce  sync.Once
	cleanupWg sync.WaitGroup
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine; call
// Close to stop it. redis may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, redis *core.RedisCache, logger *zap.SugaredLogger) *RateLimiter {
	windowLimit := int64(math.Ceil(cfg.RequestsPerSecond))
	if int64(cfg.Burst) > windowLimit {
		windowLimit = int64(cfg.Burst)
	}

	rl := &RateLimiter{
		rps:         rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		windowLimit: windowLimit,
		limiters:    make(map[string]*limiterEntry),
		redis:       redis,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	rl.cleanupWg.Add(1)
	go rl.cleanup()

	return rl
}

// Allow checks if a request from the given key is allowed
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.redis != nil {
		return rl.allowRedis(ctx, key)
	}
	return rl.allowMemory(key)
}

// allowMemory checks rate limit using in-memory storage
func (rl *RateLimiter) allowMemory(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// allowRedis counts the request in the current Redis window.
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) bool {
	window := time.Now().Unix() / int64(redisWindow/time.Second)
	count, err := rl.redis.IncrWindow(ctx, core.RateLimitKey(key, window), 2*redisWindow)
	if err != nil {
		rl.logger.Warnw("Redis rate limit check failed, falling back to memory", "error", err)
		return rl.allowMemory(key)
	}
	return count <= rl.windowLimit
}

// cleanup periodically removes idle in-memory limiters
func (rl *RateLimiter) cleanup() {
	defer rl.cleanupWg.Done()
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
}

// Close stops the cleanup goroutine. It is idempotent.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	rl.cleanupWg.Wait()
}
