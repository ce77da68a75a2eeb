package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindowScript admits one request atomically: trim entries that fell
// out of the window, count what is left, and record the request only when it
// still fits. Running server side means concurrent logins against the same
// account or address can never race the count past the limit.
//
// KEYS[1] window key
// ARGV[1] window start (unix nanos)
// ARGV[2] limit
// ARGV[3] request timestamp (unix nanos)
// ARGV[4] request member
// ARGV[5] key TTL in milliseconds
//
// Returns 1 when admitted, 0 when the window is full.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// redisRateLimiter enforces sliding-window limits on Redis sorted sets, one
// set per throttled subject (login address, challenge, identity).
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
	seq    atomic.Uint64
}

// NewRedisRateLimiter creates a Redis-backed sliding window limiter.
func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Allow records the request and reports whether it fits under limit within
// the trailing window. Denied requests are not recorded, so a client hammering
// a closed window does not push its own recovery further out.
func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()

	// The sequence suffix keeps members unique when two requests land on
	// the same clock tick.
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	admitted, err := slidingWindowScript.Run(ctx, r.client,
		[]string{RateLimitPrefix + key},
		now.Add(-window).UnixNano(),
		limit,
		now.UnixNano(),
		member,
		(window + time.Minute).Milliseconds(),
	).Int()
	if err != nil {
		r.logger.Error("rate limit window script failed",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, fmt.Errorf("rate limit check for %q: %w", key, err)
	}

	if admitted == 0 {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window))
		return false, nil
	}
	return true, nil
}

// Count returns how many requests the key has recorded inside the current
// window.
func (r *redisRateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	windowKey := RateLimitPrefix + key
	cutoff := strconv.FormatInt(r.now().Add(-window).UnixNano(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", cutoff)
	card := pipe.ZCard(ctx, windowKey)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limit count failed",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("rate limit count for %q: %w", key, err)
	}

	return int(card.Val()), nil
}

// Reset drops the key's window entirely, reopening it immediately. Login
// handlers call this after a verified challenge so a recovered user is not
// still serving out their lockout.
func (r *redisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, RateLimitPrefix+key).Err(); err != nil {
		r.logger.Error("rate limit reset failed",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("rate limit reset for %q: %w", key, err)
	}

	r.logger.Debug("rate limit reset", zap.String("key", key))
	return nil
}

// Remaining reports how many more requests the key can make in the current
// window, never negative.
func (r *redisRateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := r.Count(ctx, key, window)
	if err != nil {
		return 0, err
	}
	if count >= limit {
		return 0, nil
	}
	return limit - count, nil
}

// CleanupExpiredKeys drops window keys that lost their expiration. Allow
// always sets one, so a persistent key is left over from a partial write and
// would otherwise never age out. Called periodically by the cache janitor.
func (r *redisRateLimiter) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	var deleted int64

	iter := r.client.Scan(ctx, 0, RateLimitPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		ttl, err := r.client.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		// TTL of -1 means the key exists without an expiration.
		if ttl == -1 {
			if err := r.client.Del(ctx, key).Err(); err == nil {
				deleted++
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("rate limit key scan failed", zap.Error(err))
		return deleted, fmt.Errorf("rate limit key scan: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("dropped persistent rate limit keys",
			zap.Int64("deleted_keys", deleted))
	}
	return deleted, nil
}
