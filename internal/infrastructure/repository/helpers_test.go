package repository

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/testutil"
)

var emailCounter atomic.Int64

// createTestUser inserts a user row and returns it, satisfying the foreign
// keys on biometric_profiles and auth_events.
func createTestUser(t *testing.T, testDB *testutil.TestDB) *User {
	t.Helper()

	repo := NewUserRepository(testDB.DB())
	user := &User{
		Email:        fmt.Sprintf("user%d-%d@example.com", time.Now().UnixNano(), emailCounter.Add(1)),
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$c29tZWhhc2g",
	}

	err := repo.Create(testutil.TestContext(t), user)
	require.NoError(t, err)
	return user
}

// newTestSample builds a session summary whose AvgHoldTime doubles as an
// ordering marker.
func newTestSample(marker int) biometric.SampleSummary {
	return biometric.SampleSummary{
		AvgHoldTime:      float64(marker),
		AvgFlightTime:    135,
		HoldVariance:     12,
		FlightVariance:   11,
		ErrorRate:        2.5,
		TypingSpeedWPM:   52,
		HoldJerkVariance: testutil.Ptr(24.0),
		CreatedAt:        time.Now().UTC(),
	}
}
