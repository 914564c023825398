// Package ratelimit provides a fixed-window request limiter keyed by client IP.
// Counters live in Redis so every API instance shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter increments the hit count of key inside a window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR + EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Config tunes a limiter instance.
type Config struct {
	Name   string
	Limit  int
	Window time.Duration
	Logger *zap.Logger
	// OnLimited renders the rejection; defaults to a bare 429.
	OnLimited func(c *gin.Context)
}

// New returns middleware enforcing cfg.Limit requests per window. A nil
// counter or non-positive limit disables limiting. Counter failures let the
// request through.
func New(counter Counter, cfg Config) gin.HandlerFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = func(c *gin.Context) { c.AbortWithStatus(http.StatusTooManyRequests) }
	}
	return func(c *gin.Context) {
		if counter == nil || cfg.Limit <= 0 {
			c.Next()
			return
		}
		bucket := time.Now().Unix() / int64(cfg.Window.Seconds())
		key := fmt.Sprintf("rl:%s:%s:%d", cfg.Name, c.ClientIP(), bucket)
		hits, err := counter.Incr(c.Request.Context(), key, cfg.Window)
		if err != nil {
			cfg.Logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		remaining := int64(cfg.Limit) - hits
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if hits > int64(cfg.Limit) {
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
			cfg.OnLimited(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
