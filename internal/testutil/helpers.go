package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestContext returns a context that respects the test binary's deadline,
// capped at 30 seconds so a hung repository call fails the test instead of
// the whole run.
func TestContext(t *testing.T) context.Context {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := t.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}

// GenerateUUID returns a fresh random ID, failing the test on entropy errors.
func GenerateUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return id
}

// AssertTimeWithin checks two timestamps agree to within delta. Postgres
// round-trips truncate to microseconds, so exact equality is too strict.
func AssertTimeWithin(t *testing.T, actual, expected time.Time, delta time.Duration) {
	t.Helper()
	require.WithinDuration(t, expected, actual, delta)
}

// Ptr returns &v, for populating optional fields inline.
func Ptr[T any](v T) *T {
	return &v
}

// WithTransaction runs fn inside a transaction that is always rolled back,
// so repository tests sharing one database container leave no rows behind.
func WithTransaction(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.Errorf("rollback failed: %v", err)
		}
	}()

	fn(tx)
}
