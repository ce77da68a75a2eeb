package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// ProfileRepository persists typing baselines keyed by identity.
//
// Get returns (nil, nil) when no profile exists yet: a missing baseline is the
// cold-start case, not a failure.
type ProfileRepository interface {
	Get(ctx context.Context, identity uuid.UUID) (*biometric.Profile, error)
	Append(ctx context.Context, identity uuid.UUID, sample biometric.SampleSummary) error
	Delete(ctx context.Context, identity uuid.UUID) error
}

// User is the credential record behind an identity.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRepository resolves login credentials to identities.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// AuthEvent is one row of the decision audit trail.
type AuthEvent struct {
	ID          uuid.UUID          `json:"id"`
	Identity    uuid.UUID          `json:"identity"`
	Outcome     string             `json:"outcome"`
	Score       float64            `json:"score"`
	Confidence  float64            `json:"confidence"`
	Factors     map[string]float64 `json:"factors"`
	Analysis    string             `json:"analysis,omitempty"`
	ChallengeID *uuid.UUID         `json:"challenge_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// EventRepository stores authentication decisions for audit and review.
// DeleteOlderThan removes at most limit rows past the cutoff and reports how
// many went; retention jobs call it in a loop until it returns zero.
type EventRepository interface {
	Insert(ctx context.Context, event *AuthEvent) error
	ListRecent(ctx context.Context, identity uuid.UUID, limit int) ([]*AuthEvent, error)
	CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
