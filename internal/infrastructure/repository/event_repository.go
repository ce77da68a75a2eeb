package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultEventListLimit = 100

// eventRepository implements EventRepository using PostgreSQL
type eventRepository struct {
	db interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// NewEventRepositoryWithTx creates a new event repository with a transaction
func NewEventRepositoryWithTx(tx *sql.Tx) EventRepository {
	return &eventRepository{db: tx}
}

// Insert records one authentication decision.
func (r *eventRepository) Insert(ctx context.Context, event *AuthEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event cannot be nil", ErrInvalidInput)
	}
	if event.Identity == uuid.Nil {
		return fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}
	if event.Outcome == "" {
		return fmt.Errorf("%w: outcome cannot be empty", ErrInvalidInput)
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	factorsJSON, err := json.Marshal(event.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	query := `
		INSERT INTO auth_events (
			id, identity, outcome, score, confidence,
			factors, analysis, challenge_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.Identity, event.Outcome, event.Score, event.Confidence,
		factorsJSON, event.Analysis, event.ChallengeID, event.CreatedAt,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to insert auth event")
	}

	return nil
}

// ListRecent returns an identity's newest decisions, newest first.
func (r *eventRepository) ListRecent(ctx context.Context, identity uuid.UUID, limit int) ([]*AuthEvent, error) {
	if identity == uuid.Nil {
		return nil, fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultEventListLimit
	}

	query := `
		SELECT id, identity, outcome, score, confidence,
		       factors, analysis, challenge_id, created_at
		FROM auth_events
		WHERE identity = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}
	defer rows.Close()

	var events []*AuthEvent
	for rows.Next() {
		var e AuthEvent
		var factorsJSON []byte
		var challengeID uuid.NullUUID

		err := rows.Scan(
			&e.ID, &e.Identity, &e.Outcome, &e.Score, &e.Confidence,
			&factorsJSON, &e.Analysis, &challengeID, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}

		if err := json.Unmarshal(factorsJSON, &e.Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
		}
		if challengeID.Valid {
			e.ChallengeID = &challengeID.UUID
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auth events: %w", err)
	}

	return events, nil
}

// CountByOutcome returns decision counts per outcome since the given time.
func (r *eventRepository) CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM auth_events
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count auth events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome counts: %w", err)
	}

	return counts, nil
}

// DeleteOlderThan prunes one batch of events past the retention cutoff.
func (r *eventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultEventListLimit
	}

	query := `
		DELETE FROM auth_events
		WHERE id IN (
			SELECT id
			FROM auth_events
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`

	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune auth events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned auth events: %w", err)
	}
	return deleted, nil
}
