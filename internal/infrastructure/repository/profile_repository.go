package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// profileRepository implements ProfileRepository using PostgreSQL. Sample
// history lives in a JSONB column so the whole baseline reads and writes as
// one row.
type profileRepository struct {
	db interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sql.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// NewProfileRepositoryWithTx creates a new profile repository with a transaction
func NewProfileRepositoryWithTx(tx *sql.Tx) ProfileRepository {
	return &profileRepository{db: tx}
}

// Get retrieves the baseline for an identity. A missing row returns (nil, nil)
// so callers can distinguish cold start from storage failure.
func (r *profileRepository) Get(ctx context.Context, identity uuid.UUID) (*biometric.Profile, error) {
	if identity == uuid.Nil {
		return nil, fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	query := `
		SELECT identity, samples, created_at, updated_at
		FROM biometric_profiles
		WHERE identity = $1
	`

	var p biometric.Profile
	var samplesJSON []byte

	err := r.db.QueryRowContext(ctx, query, identity).Scan(
		&p.Identity, &samplesJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal(samplesJSON, &p.Samples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal samples: %w", err)
	}

	return &p, nil
}

// Append adds one session summary to an identity's history, creating the row
// on first use. The history is trimmed to the newest biometric.MaxSamples
// entries inside the same statement, so concurrent appends serialize on the
// row lock and the bound holds without a separate read.
func (r *profileRepository) Append(ctx context.Context, identity uuid.UUID, sample biometric.SampleSummary) error {
	if identity == uuid.Nil {
		return fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	query := `
		INSERT INTO biometric_profiles (identity, samples, created_at, updated_at)
		VALUES ($1, jsonb_build_array($2::jsonb), NOW(), NOW())
		ON CONFLICT (identity) DO UPDATE SET
			samples = (
				SELECT COALESCE(jsonb_agg(sample ORDER BY pos), '[]'::jsonb)
				FROM (
					SELECT sample, pos
					FROM jsonb_array_elements(biometric_profiles.samples || jsonb_build_array($2::jsonb))
						WITH ORDINALITY AS grown(sample, pos)
					ORDER BY pos DESC
					LIMIT $3
				) newest
			),
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, identity, sampleJSON, biometric.MaxSamples)
	if err != nil {
		return fmt.Errorf("failed to append sample: %w", err)
	}

	return nil
}

// Delete removes an identity's baseline entirely.
func (r *profileRepository) Delete(ctx context.Context, identity uuid.UUID) error {
	if identity == uuid.Nil {
		return fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	query := `DELETE FROM biometric_profiles WHERE identity = $1`

	result, err := r.db.ExecContext(ctx, query, identity)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
