package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, max int, window time.Duration) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)

	limiter, err := NewRedisLimiter("redis://"+mr.Addr(), max, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	return mr, limiter
}

func TestRedisLimiter_CountsPerWindow(t *testing.T) {
	_, limiter := newRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "1.2.3.4"))
	require.NoError(t, limiter.Check(ctx, "1.2.3.4"))

	err := limiter.Check(ctx, "1.2.3.4")
	require.Error(t, err)

	var exceeded *ErrExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.LessOrEqual(t, exceeded.RetryAfter, time.Minute)
	assert.GreaterOrEqual(t, exceeded.RetryAfter, time.Second)
}

func TestRedisLimiter_WindowExpiryResets(t *testing.T) {
	mr, limiter := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "k"))
	require.Error(t, limiter.Check(ctx, "k"))

	mr.FastForward(61 * time.Second)

	assert.NoError(t, limiter.Check(ctx, "k"))
}

func TestRedisLimiter_KeyPrefix(t *testing.T) {
	mr, limiter := newRedisLimiter(t, 5, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "9.9.9.9"))
	assert.True(t, mr.Exists("synapse:ratelimit:9.9.9.9"))
}

func TestRedisLimiter_KeysIndependent(t *testing.T) {
	_, limiter := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "a"))
	require.Error(t, limiter.Check(ctx, "a"))
	assert.NoError(t, limiter.Check(ctx, "b"))
}
