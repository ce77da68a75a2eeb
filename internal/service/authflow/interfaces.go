package authflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
)

// Service defines the authentication orchestrator interface
type Service interface {
	// Login runs one credential + biometric authentication attempt
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)
	// CompleteChallenge verifies a step-up solution and issues the token on success
	CompleteChallenge(ctx context.Context, input ChallengeInput) (*ChallengeResult, error)
}

// CredentialVerifier checks the primary factor and resolves the identity
type CredentialVerifier interface {
	// Verify returns the identity behind the credentials or an unauthorized error
	Verify(ctx context.Context, email, password string) (uuid.UUID, error)
}

// TokenIssuer mints session credentials for authenticated identities
type TokenIssuer interface {
	Issue(ctx context.Context, identity uuid.UUID) (Token, error)
}

// ProfileStore persists biometric baselines. Get returns (nil, nil) for an
// identity with no stored profile; that is the cold-start signal, not an
// error.
type ProfileStore interface {
	Get(ctx context.Context, identity uuid.UUID) (*biometric.Profile, error)
	Append(ctx context.Context, identity uuid.UUID, sample biometric.SampleSummary) error
}

// Challenger owns the step-up challenge lifecycle
type Challenger interface {
	Create(ctx context.Context, owner uuid.UUID, kinds ...challenge.Kind) (challenge.PublicView, error)
	Verify(ctx context.Context, id uuid.UUID, solution string) challenge.VerifyResult
}

// ClientScorer produces the preliminary risk estimate when the request does
// not carry one. Implementations must answer immediately; a model that is
// still loading returns its neutral fallback rather than blocking.
type ClientScorer interface {
	Score(v biometric.FeatureVector) localrisk.Estimate
}

// DecisionPublisher fans risk decisions out to observers. Implementations
// must not block the login path.
type DecisionPublisher interface {
	PublishDecision(event DecisionEvent)
}
