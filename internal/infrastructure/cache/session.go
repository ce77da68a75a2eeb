package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisSessionStore implements the SessionStore interface using Redis
type redisSessionStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewRedisSessionStore creates a new Redis-based session store. A zero
// defaultTTL falls back to SessionTTL.
func NewRedisSessionStore(client *redis.Client, defaultTTL time.Duration, logger *zap.Logger) SessionStore {
	if defaultTTL <= 0 {
		defaultTTL = SessionTTL
	}
	return &redisSessionStore{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func identitySessionsKey(identity uuid.UUID) string {
	return IdentityPrefix + identity.String() + ":sessions"
}

// CreateSession creates a new session for an identity
func (s *redisSessionStore) CreateSession(ctx context.Context, identity uuid.UUID, data map[string]interface{}, ttl time.Duration) (string, error) {
	if identity == uuid.Nil {
		return "", fmt.Errorf("identity is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	sessionID := uuid.New().String()
	sessionKey := SessionPrefix + sessionID

	sessionData := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		sessionData[k] = v
	}
	sessionData["identity"] = identity.String()
	sessionData["created_at"] = time.Now().Unix()
	if _, ok := sessionData["state"]; !ok {
		sessionData["state"] = SessionStateActive
	}

	// Use pipeline for atomic operations
	pipe := s.client.Pipeline()

	// Store session data
	pipe.HSet(ctx, sessionKey, sessionData)
	pipe.Expire(ctx, sessionKey, ttl)

	// Track the session under its identity. The set lives slightly
	// longer than the sessions so ListSessions can prune orphans.
	sessionsKey := identitySessionsKey(identity)
	pipe.SAdd(ctx, sessionsKey, sessionID)
	pipe.Expire(ctx, sessionsKey, s.defaultTTL+time.Hour)

	_, err := pipe.Exec(ctx)
	if err != nil {
		s.logger.Error("session creation failed",
			zap.String("session_id", sessionID),
			zap.String("identity", identity.String()),
			zap.Error(err))
		return "", fmt.Errorf("session creation failed: %w", err)
	}

	s.logger.Debug("session created",
		zap.String("session_id", sessionID),
		zap.String("identity", identity.String()),
		zap.Duration("ttl", ttl))

	return sessionID, nil
}

// GetSession retrieves session data by session ID
func (s *redisSessionStore) GetSession(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	sessionKey := SessionPrefix + sessionID

	result, err := s.client.HGetAll(ctx, sessionKey).Result()
	if err != nil {
		s.logger.Error("session get failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("session get failed: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrSessionExpired{SessionID: sessionID}
	}

	sessionData := make(map[string]interface{}, len(result))
	for k, v := range result {
		if k == "created_at" {
			if timestamp, err := strconv.ParseInt(v, 10, 64); err == nil {
				sessionData[k] = timestamp
				continue
			}
		}
		sessionData[k] = v
	}

	return sessionData, nil
}

// UpdateSession merges fields into existing session data
func (s *redisSessionStore) UpdateSession(ctx context.Context, sessionID string, data map[string]interface{}) error {
	sessionKey := SessionPrefix + sessionID

	exists, err := s.client.Exists(ctx, sessionKey).Result()
	if err != nil {
		s.logger.Error("session exists check failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("session exists check failed: %w", err)
	}

	if exists == 0 {
		return ErrSessionExpired{SessionID: sessionID}
	}

	err = s.client.HSet(ctx, sessionKey, data).Err()
	if err != nil {
		s.logger.Error("session update failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("session update failed: %w", err)
	}

	s.logger.Debug("session updated", zap.String("session_id", sessionID))
	return nil
}

// DeleteSession removes a session
func (s *redisSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	sessionKey := SessionPrefix + sessionID

	// Find the owning identity first to clean up its session set
	identity, err := s.client.HGet(ctx, sessionKey, "identity").Result()
	if err != nil && err != redis.Nil {
		s.logger.Error("failed to get identity for session cleanup",
			zap.String("session_id", sessionID),
			zap.Error(err))
		// Continue with deletion even if the set cleanup is skipped
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionKey)

	if err == nil && identity != "" {
		pipe.SRem(ctx, IdentityPrefix+identity+":sessions", sessionID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		s.logger.Error("session deletion failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("session deletion failed: %w", err)
	}

	s.logger.Debug("session deleted", zap.String("session_id", sessionID))
	return nil
}

// ExtendSession updates the session TTL
func (s *redisSessionStore) ExtendSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	sessionKey := SessionPrefix + sessionID

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	exists, err := s.client.Exists(ctx, sessionKey).Result()
	if err != nil {
		s.logger.Error("session exists check failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("session exists check failed: %w", err)
	}

	if exists == 0 {
		return ErrSessionExpired{SessionID: sessionID}
	}

	err = s.client.Expire(ctx, sessionKey, ttl).Err()
	if err != nil {
		s.logger.Error("session extend failed",
			zap.String("session_id", sessionID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("session extend failed: %w", err)
	}

	s.logger.Debug("session extended",
		zap.String("session_id", sessionID),
		zap.Duration("ttl", ttl))

	return nil
}

// ListSessions returns all active session IDs for an identity
func (s *redisSessionStore) ListSessions(ctx context.Context, identity uuid.UUID) ([]string, error) {
	sessionsKey := identitySessionsKey(identity)

	sessionIDs, err := s.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		s.logger.Error("list sessions failed",
			zap.String("identity", identity.String()),
			zap.Error(err))
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}

	// Filter out expired sessions
	var activeSessions []string
	for _, sessionID := range sessionIDs {
		sessionKey := SessionPrefix + sessionID
		exists, err := s.client.Exists(ctx, sessionKey).Result()
		if err != nil {
			s.logger.Warn("failed to check session existence",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}

		if exists > 0 {
			activeSessions = append(activeSessions, sessionID)
		} else {
			// Clean up orphaned session ID
			s.client.SRem(ctx, sessionsKey, sessionID)
		}
	}

	return activeSessions, nil
}

// CleanupExpired removes expired sessions (called by background job)
func (s *redisSessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	pattern := SessionPrefix + "*"

	var cursor uint64
	var deletedCount int64

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Error("session cleanup scan failed", zap.Error(err))
			return deletedCount, fmt.Errorf("session cleanup scan failed: %w", err)
		}

		for _, key := range keys {
			ttl, err := s.client.TTL(ctx, key).Result()
			if err != nil {
				continue
			}

			// -2 means already gone, -1 means no expiration was set.
			// Either way the session should not linger.
			if ttl == -2 || ttl == -1 {
				sessionID := key[len(SessionPrefix):]
				s.DeleteSession(ctx, sessionID)
				deletedCount++
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	if deletedCount > 0 {
		s.logger.Info("session cleanup completed",
			zap.Int64("deleted_sessions", deletedCount))
	}

	return deletedCount, nil
}
