package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
)

// DefaultLockoutThreshold is the failed-attempt count that locks an
// account key for the remainder of its window.
const DefaultLockoutThreshold = 10

// Lockout tracks consecutive primary-factor failures per account and
// refuses further attempts once the threshold is crossed. Counters decay
// with the window TTL, so a lockout clears itself.
type Lockout struct {
	cache     cache.Cache
	threshold int
	window    time.Duration
}

// NewLockout builds a lockout tracker. Non-positive threshold and window
// fall back to DefaultLockoutThreshold and cache.LoginFailureTTL.
func NewLockout(c cache.Cache, threshold int, window time.Duration) *Lockout {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if window <= 0 {
		window = cache.LoginFailureTTL
	}
	return &Lockout{cache: c, threshold: threshold, window: window}
}

func lockoutKey(account string) string {
	return cache.LoginFailurePrefix + strings.ToLower(strings.TrimSpace(account))
}

// Locked reports whether the account has exhausted its attempts.
func (l *Lockout) Locked(ctx context.Context, account string) (bool, error) {
	value, err := l.cache.Get(ctx, lockoutKey(account))
	if err != nil {
		if _, ok := err.(cache.ErrCacheKeyNotFound); ok {
			return false, nil
		}
		return false, fmt.Errorf("lockout lookup failed: %w", err)
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("lockout counter corrupt: %w", err)
	}

	return count >= int64(l.threshold), nil
}

// RecordFailure bumps the account's failure counter and returns the new
// count. The first failure in a window starts its decay clock.
func (l *Lockout) RecordFailure(ctx context.Context, account string) (int64, error) {
	key := lockoutKey(account)

	count, err := l.cache.Increment(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("lockout increment failed: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, key, l.window); err != nil {
			return count, fmt.Errorf("lockout expire failed: %w", err)
		}
	}

	return count, nil
}

// Clear wipes the account's failure counter after a successful login.
func (l *Lockout) Clear(ctx context.Context, account string) error {
	if err := l.cache.Delete(ctx, lockoutKey(account)); err != nil {
		return fmt.Errorf("lockout clear failed: %w", err)
	}
	return nil
}
