package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FirstNSucceed(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
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

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "1.2.3.4"))
	require.Error(t, limiter.Check(ctx, "1.2.3.4"))
	require.NoError(t, limiter.Check(ctx, "5.6.7.8"))
}

func TestMemoryLimiter_Replenishes(t *testing.T) {
	limiter := NewMemoryLimiter(10, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Check(ctx, "k"))
	}
	require.Error(t, limiter.Check(ctx, "k"))

	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, limiter.Check(ctx, "k"))
}

func TestMemoryLimiter_RejectionDoesNotConsume(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Hour)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "k"))

	// Repeated rejected checks must not push the retry horizon out.
	first := limiter.Check(ctx, "k")
	var e1 *ErrExceeded
	require.True(t, errors.As(first, &e1))

	for i := 0; i < 5; i++ {
		require.Error(t, limiter.Check(ctx, "k"))
	}

	last := limiter.Check(ctx, "k")
	var e2 *ErrExceeded
	require.True(t, errors.As(last, &e2))
	assert.LessOrEqual(t, e2.RetryAfter, e1.RetryAfter+time.Second)
}

func TestRequestLimiter_UnconfiguredScopesPass(t *testing.T) {
	rl := &RequestLimiter{}
	assert.NoError(t, rl.CheckGlobal(context.Background()))
	assert.NoError(t, rl.CheckIP(context.Background(), "1.2.3.4"))
}
