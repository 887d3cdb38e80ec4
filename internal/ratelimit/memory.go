package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter is a per-key token bucket: burst of maxRequests,
// smooth replenishment at maxRequests/window per second. Bucket state
// is kept per key and never shrinks proactively.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryLimiter builds a limiter allowing maxRequests per window.
func NewMemoryLimiter(maxRequests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Check consumes one token for the key. A single read-modify-write
// under the per-limiter lock means a request is never double-counted.
func (m *MemoryLimiter) Check(_ context.Context, key string) error {
	m.mu.Lock()
	bucket, ok := m.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = bucket
	}
	m.mu.Unlock()

	r := bucket.Reserve()
	if r.OK() && r.Delay() == 0 {
		return nil
	}

	retry := r.Delay()
	r.Cancel()
	if retry < time.Second {
		retry = time.Second
	}
	return &ErrExceeded{RetryAfter: retry}
}
