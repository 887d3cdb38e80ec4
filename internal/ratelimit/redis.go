package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "synapse:ratelimit:"

// RedisLimiter is a fixed-window counter: INCR the key, set its expiry
// on the first hit of a window, and reject with the remaining TTL once
// the count passes the maximum. Window boundaries are wall-clock
// aligned to Redis; callers must not assume sliding behavior.
type RedisLimiter struct {
	client      *redis.Client
	maxRequests int64
	window      time.Duration
}

// NewRedisLimiter connects to the given Redis URL.
func NewRedisLimiter(url string, maxRequests int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLimiter{
		client:      redis.NewClient(opts),
		maxRequests: int64(maxRequests),
		window:      window,
	}, nil
}

// Check counts one request against the key's current window.
func (r *RedisLimiter) Check(ctx context.Context, key string) error {
	rateKey := redisKeyPrefix + key

	count, err := r.client.Incr(ctx, rateKey).Result()
	if err != nil {
		return fmt.Errorf("rate limit INCR: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, rateKey, r.window).Err(); err != nil {
			return fmt.Errorf("rate limit EXPIRE: %w", err)
		}
	}

	if count > r.maxRequests {
		ttl, err := r.client.TTL(ctx, rateKey).Result()
		if err != nil {
			return fmt.Errorf("rate limit TTL: %w", err)
		}
		if ttl < time.Second {
			ttl = time.Second
		}
		return &ErrExceeded{RetryAfter: ttl}
	}

	return nil
}

// Close releases the Redis connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
