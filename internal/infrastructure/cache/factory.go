package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
)

// CacheManager provides access to all cache-related services
type CacheManager struct {
	Cache        Cache
	RateLimiter  RateLimiter
	SessionStore SessionStore
	Decisions    *DecisionCache
	client       *redis.Client
	logger       *zap.Logger
}

// NewCacheManager creates a cache manager with all cache services
// sharing one connection pool. sessionTTL controls the default session
// lifetime; zero falls back to SessionTTL.
func NewCacheManager(cfg *config.RedisConfig, sessionTTL time.Duration, logger *zap.Logger) (*CacheManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	cache := newRedisCacheWithClient(client, logger)
	rateLimiter := NewRedisRateLimiter(client, logger)
	sessionStore := NewRedisSessionStore(client, sessionTTL, logger)

	decisions, err := NewDecisionCache(client, logger, DecisionTTL)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	logger.Info("cache manager initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return &CacheManager{
		Cache:        cache,
		RateLimiter:  rateLimiter,
		SessionStore: sessionStore,
		Decisions:    decisions,
		client:       client,
		logger:       logger,
	}, nil
}

// Close closes the shared Redis connection
func (cm *CacheManager) Close() error {
	if err := cm.client.Close(); err != nil {
		return fmt.Errorf("redis client close failed: %w", err)
	}

	cm.logger.Info("cache manager closed")
	return nil
}

// HealthCheck verifies that all cache services are operational
func (cm *CacheManager) HealthCheck(ctx context.Context) error {
	// Check Redis connection
	if err := cm.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	// Test basic cache operations
	testKey := "aab:health:test"
	testValue := time.Now().Unix()

	if err := cm.Cache.Set(ctx, testKey, testValue, 10*time.Second); err != nil {
		return fmt.Errorf("cache set health check failed: %w", err)
	}

	if _, err := cm.Cache.Get(ctx, testKey); err != nil {
		return fmt.Errorf("cache get health check failed: %w", err)
	}

	if err := cm.Cache.Delete(ctx, testKey); err != nil {
		return fmt.Errorf("cache delete health check failed: %w", err)
	}

	// Test rate limiter
	allowed, err := cm.RateLimiter.Allow(ctx, "health_check", 1, time.Minute)
	if err != nil {
		return fmt.Errorf("rate limiter health check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("rate limiter health check unexpected result")
	}

	// Clean up rate limiter test
	if err := cm.RateLimiter.Reset(ctx, "health_check"); err != nil {
		cm.logger.Warn("failed to clean up rate limiter health check", zap.Error(err))
	}

	return nil
}

// GetStats returns cache statistics for monitoring
func (cm *CacheManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	poolStats := cm.client.PoolStats()
	stats["pool_stats"] = map[string]interface{}{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}

	dbSize, err := cm.client.DBSize(ctx).Result()
	if err != nil {
		cm.logger.Warn("failed to get database size", zap.Error(err))
	} else {
		stats["db_size"] = dbSize
	}

	return stats, nil
}

// StartBackgroundCleanup starts background cleanup routines for sessions and rate limits
func (cm *CacheManager) StartBackgroundCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				cm.logger.Info("background cleanup stopped")
				return
			case <-ticker.C:
				cm.runCleanup(ctx)
			}
		}
	}()

	cm.logger.Info("background cleanup started", zap.Duration("interval", interval))
}

// runCleanup performs periodic cleanup of expired cache entries
func (cm *CacheManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sessionsCleaned, err := cm.SessionStore.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("session cleanup failed", zap.Error(err))
	} else if sessionsCleaned > 0 {
		cm.logger.Info("session cleanup completed", zap.Int64("cleaned", sessionsCleaned))
	}

	if rateLimiter, ok := cm.RateLimiter.(*redisRateLimiter); ok {
		rateLimitsCleaned, err := rateLimiter.CleanupExpiredKeys(cleanupCtx)
		if err != nil {
			cm.logger.Error("rate limit cleanup failed", zap.Error(err))
		} else if rateLimitsCleaned > 0 {
			cm.logger.Info("rate limit cleanup completed", zap.Int64("cleaned", rateLimitsCleaned))
		}
	}
}
