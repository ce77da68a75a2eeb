package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxRecentDecisions caps the shared recent-decisions list. The list is
// a rolling operational window, not an audit trail; auth_events in
// Postgres is the durable record.
const maxRecentDecisions = 256

// DecisionRecord is the cached projection of an authentication decision.
type DecisionRecord struct {
	Identity    uuid.UUID          `json:"identity"`
	Outcome     string             `json:"outcome"`
	Score       float64            `json:"score"`
	Confidence  float64            `json:"confidence"`
	Factors     map[string]float64 `json:"factors,omitempty"`
	Analysis    string             `json:"analysis,omitempty"`
	ChallengeID *uuid.UUID         `json:"challenge_id,omitempty"`
	ObservedAt  time.Time          `json:"observed_at"`
}

// DecisionCache keeps a rolling window of recent authentication
// decisions plus the latest decision per identity for fast dashboard
// reads.
type DecisionCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDecisionCache creates a decision cache. A zero ttl falls back to
// DecisionTTL.
func NewDecisionCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) (*DecisionCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if ttl <= 0 {
		ttl = DecisionTTL
	}

	return &DecisionCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}, nil
}

func latestDecisionKey(identity uuid.UUID) string {
	return DecisionPrefix + "latest:" + identity.String()
}

// Record pushes a decision onto the rolling window and updates the
// identity's latest decision.
func (dc *DecisionCache) Record(ctx context.Context, rec *DecisionRecord) error {
	if rec == nil {
		return fmt.Errorf("decision record is required")
	}
	if rec.Identity == uuid.Nil {
		return fmt.Errorf("decision identity is required")
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decision marshal failed: %w", err)
	}

	pipe := dc.client.Pipeline()
	pipe.LPush(ctx, RecentDecisionsKey, data)
	pipe.LTrim(ctx, RecentDecisionsKey, 0, maxRecentDecisions-1)
	pipe.Expire(ctx, RecentDecisionsKey, dc.ttl)
	pipe.Set(ctx, latestDecisionKey(rec.Identity), data, dc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		dc.logger.Error("decision record failed",
			zap.String("identity", rec.Identity.String()),
			zap.String("outcome", rec.Outcome),
			zap.Error(err))
		return fmt.Errorf("decision record failed: %w", err)
	}

	return nil
}

// Recent returns up to limit decisions, newest first. A non-positive
// limit returns the full window.
func (dc *DecisionCache) Recent(ctx context.Context, limit int) ([]*DecisionRecord, error) {
	if limit <= 0 || limit > maxRecentDecisions {
		limit = maxRecentDecisions
	}

	entries, err := dc.client.LRange(ctx, RecentDecisionsKey, 0, int64(limit-1)).Result()
	if err != nil {
		dc.logger.Error("decision list failed", zap.Error(err))
		return nil, fmt.Errorf("decision list failed: %w", err)
	}

	records := make([]*DecisionRecord, 0, len(entries))
	for _, entry := range entries {
		var rec DecisionRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			// Skip malformed entries rather than failing the read.
			dc.logger.Warn("skipping malformed decision entry", zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// Latest returns the most recent decision for an identity, or
// ErrCacheKeyNotFound when none is cached.
func (dc *DecisionCache) Latest(ctx context.Context, identity uuid.UUID) (*DecisionRecord, error) {
	key := latestDecisionKey(identity)

	data, err := dc.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheKeyNotFound{Key: key}
		}
		dc.logger.Error("decision latest failed",
			zap.String("identity", identity.String()),
			zap.Error(err))
		return nil, fmt.Errorf("decision latest failed: %w", err)
	}

	var rec DecisionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decision unmarshal failed: %w", err)
	}

	return &rec, nil
}
