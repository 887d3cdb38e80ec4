// Package ratelimit provides request rate limiting with two scopes
// (global, per-IP) and two backends (in-memory token bucket, Redis
// fixed-window counter).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/omnidotdev/synapse/internal/config"
)

// ErrExceeded is returned when a limit is hit. RetryAfter is at least
// one second.
type ErrExceeded struct {
	RetryAfter time.Duration
}

func (e *ErrExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", int(e.RetryAfter/time.Second))
}

// Limiter is one keyed limit. Check is linearizable per key within a
// backend and never double-counts.
type Limiter interface {
	Check(ctx context.Context, key string) error
}

// RequestLimiter holds the configured global and per-IP limits; either
// may be absent.
type RequestLimiter struct {
	global Limiter
	perIP  Limiter
}

// New builds a RequestLimiter from configuration.
func New(cfg *config.RateLimitConfig) (*RequestLimiter, error) {
	rl := &RequestLimiter{}

	build := func(bucket *config.RateLimitBucket) (Limiter, error) {
		if bucket == nil {
			return nil, nil
		}
		if bucket.MaxRequests <= 0 {
			return nil, fmt.Errorf("max_requests must be > 0")
		}
		if bucket.Window.Std() <= 0 {
			return nil, fmt.Errorf("rate limit window must be > 0")
		}
		switch cfg.Backend() {
		case config.RateLimitRedis:
			return NewRedisLimiter(cfg.RedisURL, bucket.MaxRequests, bucket.Window.Std())
		default:
			return NewMemoryLimiter(bucket.MaxRequests, bucket.Window.Std()), nil
		}
	}

	var err error
	if rl.global, err = build(cfg.Global); err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	if rl.perIP, err = build(cfg.PerIP); err != nil {
		return nil, fmt.Errorf("per_ip: %w", err)
	}

	return rl, nil
}

// CheckGlobal applies the global limit, if configured.
func (r *RequestLimiter) CheckGlobal(ctx context.Context) error {
	if r.global == nil {
		return nil
	}
	return r.global.Check(ctx, "global")
}

// CheckIP applies the per-IP limit, if configured.
func (r *RequestLimiter) CheckIP(ctx context.Context, ip string) error {
	if r.perIP == nil {
		return nil
	}
	return r.perIP.Check(ctx, ip)
}
