package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupRateLimiter(t *testing.T) (RateLimiter, *redis.Client) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisRateLimiter(client, zaptest.NewLogger(t)), client
}

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "login:203.0.113.9", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "login:203.0.113.9", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "request over the limit should be denied")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "login:203.0.113.9", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "login:203.0.113.9", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	// A different key has its own window.
	allowed, err = limiter.Allow(ctx, "login:198.51.100.7", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_CountAndRemaining(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "verify:abc", 5, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	count, err := limiter.Count(ctx, "verify:abc", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := limiter.Remaining(ctx, "verify:abc", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimiter_Reset(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "login:reset", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "login:reset", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	err = limiter.Reset(ctx, "login:reset")
	require.NoError(t, err)

	allowed, err = limiter.Allow(ctx, "login:reset", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	rl, ok := limiter.(*redisRateLimiter)
	require.True(t, ok)
	base := time.Now()
	rl.now = func() time.Time { return base }

	window := time.Minute

	allowed, err := limiter.Allow(ctx, "login:slide", 1, window)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "login:slide", 1, window)
	require.NoError(t, err)
	require.False(t, allowed)

	// Once the first request ages out of the window the key reopens.
	rl.now = func() time.Time { return base.Add(window + time.Second) }

	allowed, err = limiter.Allow(ctx, "login:slide", 1, window)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_ConcurrentBurstHoldsLimit(t *testing.T) {
	limiter, _ := setupRateLimiter(t)
	ctx := context.Background()

	const attempts = 20
	const limit = 5

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.Allow(ctx, "login:burst", limit, time.Minute)
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// The admit runs server side, so contention can never push the
	// window past its limit.
	assert.Equal(t, int64(limit), admitted.Load())
}

func TestRateLimiter_CleanupExpiredKeys(t *testing.T) {
	limiter, client := setupRateLimiter(t)
	ctx := context.Background()

	// Seed a window key without an expiration. Allow never produces
	// one, so the janitor should remove it.
	err := client.ZAdd(ctx, RateLimitPrefix+"stuck", redis.Z{Score: 1, Member: "m"}).Err()
	require.NoError(t, err)

	allowed, err := limiter.Allow(ctx, "healthy", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	rl, ok := limiter.(*redisRateLimiter)
	require.True(t, ok)

	deleted, err := rl.CleanupExpiredKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	exists, err := client.Exists(ctx, RateLimitPrefix+"healthy").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "keys with an expiration survive cleanup")
}
