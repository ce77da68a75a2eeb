package authflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/keystroke"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/riskfusion"
)

// Outcome is the orchestrator's verdict for one authentication attempt.
type Outcome int

const (
	OutcomeGrant Outcome = iota
	OutcomeStepUp
	OutcomeDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGrant:
		return "grant"
	case OutcomeStepUp:
		return "step_up"
	case OutcomeDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// LoginInput carries one authentication attempt. Keystroke telemetry arrives
// either as a precomputed feature vector or as raw events the server replays;
// at least one must be present. ClientRisk is the optional score computed on
// the client device.
type LoginInput struct {
	Email      string                   `json:"email"`
	Password   string                   `json:"password"`
	Features   *biometric.FeatureVector `json:"features,omitempty"`
	Events     []keystroke.Event        `json:"events,omitempty"`
	ClientRisk *float64                 `json:"client_risk,omitempty"`
}

// LoginResult is the orchestrator's answer. Exactly one of Token or
// Challenge is set for grant and step-up respectively; deny carries neither.
type LoginResult struct {
	Identity  uuid.UUID             `json:"identity"`
	Outcome   Outcome               `json:"outcome"`
	Risk      riskfusion.Decision   `json:"risk"`
	Token     *Token                `json:"token,omitempty"`
	Challenge *challenge.PublicView `json:"challenge,omitempty"`
}

// ChallengeInput is one solution attempt against a pending challenge.
type ChallengeInput struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Solution    string    `json:"solution"`
}

// ChallengeResult reports the attempt's outcome; Token is set only when the
// challenge was solved.
type ChallengeResult struct {
	Verification challenge.VerifyResult `json:"verification"`
	Token        *Token                 `json:"token,omitempty"`
}

// Token is an issued session credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DecisionEvent is broadcast to observers after every risk decision.
type DecisionEvent struct {
	Identity    uuid.UUID          `json:"identity"`
	Outcome     string             `json:"outcome"`
	Score       float64            `json:"score"`
	Confidence  float64            `json:"confidence"`
	Factors     riskfusion.Factors `json:"factors"`
	Analysis    string             `json:"analysis,omitempty"`
	ChallengeID *uuid.UUID         `json:"challenge_id,omitempty"`
	At          time.Time          `json:"at"`
}
