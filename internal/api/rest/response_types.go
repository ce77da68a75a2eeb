package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/riskfusion"
)

// RegisterResponse confirms a created identity.
type RegisterResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// TokenResponse is the issued credential as clients consume it.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RiskSummary is the client-safe slice of a risk decision. Factor-level
// detail stays on the server; exposing it would hand an attacker the tuning
// manual.
type RiskSummary struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// LoginResponse is the outcome of one authentication attempt. Token is set on
// grant; Challenge and StepUpSession on step_up; deny carries only the
// outcome.
type LoginResponse struct {
	Outcome       string                `json:"outcome"`
	Risk          RiskSummary           `json:"risk"`
	Token         *TokenResponse        `json:"token,omitempty"`
	Challenge     *challenge.PublicView `json:"challenge,omitempty"`
	StepUpSession string                `json:"step_up_session,omitempty"`
}

// VerifyChallengeResponse reports one solution attempt.
type VerifyChallengeResponse struct {
	Status            string         `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	AttemptsRemaining int            `json:"attempts_remaining,omitempty"`
	Token             *TokenResponse `json:"token,omitempty"`
}

// ProfileResponse summarizes a stored typing baseline without exposing the
// raw samples.
type ProfileResponse struct {
	Identity    uuid.UUID `json:"identity"`
	SampleCount int       `json:"sample_count"`
	MaxSamples  int       `json:"max_samples"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionResponse describes one live session of the caller.
type SessionResponse struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	CreatedAt  int64  `json:"created_at,omitempty"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
	Current    bool   `json:"current"`
}

// DecisionResponse is one audit-trail entry for the caller.
type DecisionResponse struct {
	ID          uuid.UUID          `json:"id"`
	Outcome     string             `json:"outcome"`
	Score       float64            `json:"score"`
	Confidence  float64            `json:"confidence"`
	Factors     map[string]float64 `json:"factors,omitempty"`
	Analysis    string             `json:"analysis,omitempty"`
	ChallengeID *uuid.UUID         `json:"challenge_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// DecisionStatsResponse aggregates outcomes over a window.
type DecisionStatsResponse struct {
	Since    time.Time        `json:"since"`
	Outcomes map[string]int64 `json:"outcomes"`
	Total    int64            `json:"total"`
}

// FeatureSummary is the derived statistics of a capture session, without the
// raw timing samples.
type FeatureSummary struct {
	MeanHoldTime     float64 `json:"mean_hold_time"`
	MeanFlightTime   float64 `json:"mean_flight_time"`
	HoldTimeStdDev   float64 `json:"hold_time_std_dev"`
	FlightTimeStdDev float64 `json:"flight_time_std_dev"`
	TypingSpeedWPM   float64 `json:"typing_speed_wpm"`
	ErrorRate        float64 `json:"error_rate"`
	ConsistencyScore float64 `json:"consistency_score"`
	KeystrokeCount   int     `json:"keystroke_count"`
}

// EstimateResponse is the preliminary verdict on a session, advisory only.
type EstimateResponse struct {
	RiskScore      float64 `json:"risk_score"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

// ScoreResponse is the result of a risk preview: the extracted features plus
// the estimator's read on them.
type ScoreResponse struct {
	Features FeatureSummary   `json:"features"`
	Estimate EstimateResponse `json:"estimate"`
}

// newTokenResponse converts the orchestrator's token type.
func newTokenResponse(t *authflow.Token) *TokenResponse {
	if t == nil {
		return nil
	}
	return &TokenResponse{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresAt:   t.ExpiresAt,
	}
}

func newRiskSummary(d riskfusion.Decision) RiskSummary {
	return RiskSummary{
		Score:      d.FinalScore,
		Confidence: d.Confidence,
	}
}

func newProfileResponse(p *biometric.Profile) ProfileResponse {
	return ProfileResponse{
		Identity:    p.Identity,
		SampleCount: p.SampleCount(),
		MaxSamples:  biometric.MaxSamples,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newDecisionResponse(e *repository.AuthEvent) DecisionResponse {
	return DecisionResponse{
		ID:          e.ID,
		Outcome:     e.Outcome,
		Score:       e.Score,
		Confidence:  e.Confidence,
		Factors:     e.Factors,
		Analysis:    e.Analysis,
		ChallengeID: e.ChallengeID,
		CreatedAt:   e.CreatedAt,
	}
}

func newScoreResponse(v biometric.FeatureVector, est localrisk.Estimate) ScoreResponse {
	return ScoreResponse{
		Features: FeatureSummary{
			MeanHoldTime:     v.MeanHoldTime,
			MeanFlightTime:   v.MeanFlightTime,
			HoldTimeStdDev:   v.HoldTimeStdDev,
			FlightTimeStdDev: v.FlightTimeStdDev,
			TypingSpeedWPM:   v.TypingSpeedWPM,
			ErrorRate:        v.ErrorRate,
			ConsistencyScore: v.ConsistencyScore,
			KeystrokeCount:   v.KeystrokeCount,
		},
		Estimate: EstimateResponse{
			RiskScore:      est.RiskScore,
			Confidence:     est.Confidence,
			Recommendation: est.Recommendation.String(),
		},
	}
}

// factorsToMap flattens the typed factor set for storage and feeds.
func factorsToMap(f riskfusion.Factors) map[string]float64 {
	return map[string]float64{
		"temporal":    f.Temporal,
		"behavioral":  f.Behavioral,
		"consistency": f.Consistency,
		"deviation":   f.Deviation,
		"velocity":    f.Velocity,
		"client":      f.Client,
	}
}
