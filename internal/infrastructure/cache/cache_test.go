package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
)

func testRedisConfig(addr string) *config.RedisConfig {
	return &config.RedisConfig{
		URL:          addr,
		Password:     "",
		DB:           0,
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func setupTestRedis(t *testing.T) (*redisCache, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)

	cache, err := NewRedisCache(testRedisConfig(mr.Addr()), logger)
	require.NoError(t, err)

	redisCache := cache.(*redisCache)

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return redisCache, mr, cleanup
}

func TestNewRedisCache(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cache, _, cleanup := setupTestRedis(t)
		defer cleanup()

		assert.NotNil(t, cache)
		assert.NotNil(t, cache.client)
		assert.NotNil(t, cache.logger)
	})

	t.Run("nil logger", func(t *testing.T) {
		cfg := &config.RedisConfig{URL: "localhost:6379"}
		_, err := NewRedisCache(cfg, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		_, err := NewRedisCache(nil, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{
			URL:         "localhost:9999", // Non-existent port
			DialTimeout: 100 * time.Millisecond,
		}
		logger := zaptest.NewLogger(t)

		_, err := NewRedisCache(cfg, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
	})
}

func TestRedisCache_BasicOperations(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		key := "aab:test:key"
		value := "test_value"

		err := cache.Set(ctx, key, value, time.Hour)
		require.NoError(t, err)

		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := cache.Get(ctx, "non_existent_key")
		assert.Error(t, err)

		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, "non_existent_key", notFoundErr.Key)
	})

	t.Run("Delete", func(t *testing.T) {
		key := "aab:test:delete"

		err := cache.Set(ctx, key, "delete_me", time.Hour)
		require.NoError(t, err)

		exists, err := cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		err = cache.Delete(ctx, key)
		require.NoError(t, err)

		exists, err = cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Exists", func(t *testing.T) {
		key := "aab:test:exists"

		exists, err := cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		err = cache.Set(ctx, key, "value", time.Hour)
		require.NoError(t, err)

		exists, err = cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestRedisCache_AtomicOperations(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("SetNX", func(t *testing.T) {
		key := "aab:test:setnx"

		success, err := cache.SetNX(ctx, key, "first_value", time.Hour)
		require.NoError(t, err)
		assert.True(t, success)

		// Second SetNX should fail (key exists)
		success, err = cache.SetNX(ctx, key, "second_value", time.Hour)
		require.NoError(t, err)
		assert.False(t, success)

		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "first_value", result)
	})

	t.Run("Increment", func(t *testing.T) {
		key := "aab:test:incr"

		for want := int64(1); want <= 3; want++ {
			result, err := cache.Increment(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, want, result)
		}
	})

	t.Run("Expire", func(t *testing.T) {
		key := "aab:test:expire"

		err := cache.Set(ctx, key, "expire_me", 0)
		require.NoError(t, err)

		err = cache.Expire(ctx, key, 1*time.Second)
		require.NoError(t, err)

		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "expire_me", result)

		// Fast forward time in miniredis to trigger expiration
		mr.FastForward(1100 * time.Millisecond)

		_, err = cache.Get(ctx, key)
		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
	})

	t.Run("Expire on missing key", func(t *testing.T) {
		err := cache.Expire(ctx, "aab:test:never_set", time.Minute)
		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
	})
}

func TestRedisCache_JSONOperations(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	type fingerprint struct {
		Identity string   `json:"identity"`
		Score    float64  `json:"score"`
		Flags    []string `json:"flags"`
	}

	t.Run("SetJSON and GetJSON", func(t *testing.T) {
		key := "aab:test:json"
		original := fingerprint{
			Identity: "4a1c9b8e",
			Score:    0.42,
			Flags:    []string{"new_device", "vpn"},
		}

		err := cache.SetJSON(ctx, key, original, time.Hour)
		require.NoError(t, err)

		var result fingerprint
		err = cache.GetJSON(ctx, key, &result)
		require.NoError(t, err)

		assert.Equal(t, original, result)
	})

	t.Run("GetJSON with invalid JSON", func(t *testing.T) {
		key := "aab:test:invalid_json"

		err := cache.Set(ctx, key, "not json at all", time.Hour)
		require.NoError(t, err)

		var result fingerprint
		err = cache.GetJSON(ctx, key, &result)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "json unmarshal failed")
	})

	t.Run("SetJSON with unmarshalable value", func(t *testing.T) {
		err := cache.SetJSON(ctx, "aab:test:bad_value", make(chan int), time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "json marshal failed")
	})
}

func TestRedisCache_TTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	key := "aab:test:ttl"

	err := cache.Set(ctx, key, "expires_soon", 1*time.Second)
	require.NoError(t, err)

	result, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "expires_soon", result)

	mr.FastForward(1100 * time.Millisecond)

	_, err = cache.Get(ctx, key)
	var notFoundErr ErrCacheKeyNotFound
	assert.ErrorAs(t, err, &notFoundErr)
}
