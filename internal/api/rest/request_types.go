package rest

import (
	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/keystroke"
)

// RegisterRequest creates a credential record for a new identity.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=12,max=512"`
}

// LoginRequest carries one authentication attempt. The keystroke telemetry
// arrives either as a precomputed feature vector or as the raw event stream
// the server replays; at least one must be present (the orchestrator
// enforces that, with raw events winning validation detail).
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=512"`

	Features   *biometric.FeatureVector `json:"features,omitempty"`
	Events     []keystroke.Event        `json:"events,omitempty" validate:"omitempty,max=5000"`
	ClientRisk *float64                 `json:"client_risk,omitempty" validate:"omitempty,riskscore"`
}

// VerifyChallengeRequest is one solution attempt against a pending step-up.
// StepUpSession binds the attempt to the login transaction that created the
// challenge.
type VerifyChallengeRequest struct {
	StepUpSession string    `json:"step_up_session" validate:"required"`
	ChallengeID   uuid.UUID `json:"challenge_id" validate:"required"`
	Solution      string    `json:"solution" validate:"required,max=256"`
}

// ScoreRequest asks for a preliminary risk estimate without authenticating.
// Clients use it to preview how a capture session will score before they
// submit it with a login.
type ScoreRequest struct {
	Features *biometric.FeatureVector `json:"features,omitempty"`
	Events   []keystroke.Event        `json:"events,omitempty" validate:"omitempty,max=5000"`
}
