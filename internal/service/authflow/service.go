package authflow

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/keystroke"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/riskfusion"
)

// Decision thresholds on the fused score. Scores in between trigger step-up.
const (
	grantBelow = 0.3
	denyAbove  = 0.7
)

// neutralClientScore stands in when no client estimate is available at all.
const neutralClientScore = 0.5

// service implements the Service interface
type service struct {
	credentials CredentialVerifier
	tokens      TokenIssuer
	profiles    ProfileStore
	challenges  Challenger
	scorer      ClientScorer
	engine      *riskfusion.Engine
	events      DecisionPublisher
	logger      *slog.Logger
}

// NewService wires the authentication orchestrator. scorer and events may be
// nil; the flow then falls back to the neutral client score and skips
// broadcasting.
func NewService(
	credentials CredentialVerifier,
	tokens TokenIssuer,
	profiles ProfileStore,
	challenges Challenger,
	scorer ClientScorer,
	engine *riskfusion.Engine,
	events DecisionPublisher,
	logger *slog.Logger,
) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		credentials: credentials,
		tokens:      tokens,
		profiles:    profiles,
		challenges:  challenges,
		scorer:      scorer,
		engine:      engine,
		events:      events,
		logger:      logger,
	}
}

// Login verifies the primary factor, scores the session's keystroke dynamics
// against the identity's baseline, and branches on the fused risk score:
// grant below 0.3, deny above 0.7, step-up challenge in between.
func (s *service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identity, err := s.credentials.Verify(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	features, err := s.resolveFeatures(input)
	if err != nil {
		return nil, err
	}

	clientScore, err := s.resolveClientScore(input, features)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, identity)
	if err != nil {
		// Fail closed: an attacker must not profit from a storage outage.
		s.logger.ErrorContext(ctx, "baseline lookup failed, denying",
			"identity", identity,
			"error", err,
		)
		result := &LoginResult{
			Identity: identity,
			Outcome:  OutcomeDeny,
			Risk:     riskfusion.FallbackDecision(),
		}
		s.publish(result)
		return result, nil
	}

	decision := s.engine.Evaluate(features, profile, clientScore)

	switch {
	case decision.FinalScore < grantBelow:
		return s.grant(ctx, identity, features, decision)
	case decision.FinalScore > denyAbove:
		return s.deny(ctx, identity, decision)
	default:
		return s.stepUp(ctx, identity, features, decision)
	}
}

// CompleteChallenge runs one step-up solution attempt. A solved challenge
// yields the session token that Login withheld.
func (s *service) CompleteChallenge(ctx context.Context, input ChallengeInput) (*ChallengeResult, error) {
	if input.ChallengeID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_CHALLENGE_ID", "challenge id is required")
	}

	verification := s.challenges.Verify(ctx, input.ChallengeID, input.Solution)
	result := &ChallengeResult{Verification: verification}
	if verification.Status != challenge.VerifyAccepted {
		return result, nil
	}

	token, err := s.tokens.Issue(ctx, verification.Owner)
	if err != nil {
		return nil, errors.NewInternalError("failed to issue token").WithCause(err)
	}
	result.Token = &token

	s.logger.InfoContext(ctx, "step-up completed",
		"identity", verification.Owner,
		"attempts", verification.AttemptsUsed,
	)
	return result, nil
}

func (s *service) grant(ctx context.Context, identity uuid.UUID, features biometric.FeatureVector, decision riskfusion.Decision) (*LoginResult, error) {
	s.appendBaseline(ctx, identity, features)

	token, err := s.tokens.Issue(ctx, identity)
	if err != nil {
		return nil, errors.NewInternalError("failed to issue token").WithCause(err)
	}

	result := &LoginResult{
		Identity: identity,
		Outcome:  OutcomeGrant,
		Risk:     decision,
		Token:    &token,
	}
	s.publish(result)
	s.logger.InfoContext(ctx, "login granted",
		"identity", identity,
		"score", decision.FinalScore,
		"confidence", decision.Confidence,
	)
	return result, nil
}

func (s *service) stepUp(ctx context.Context, identity uuid.UUID, features biometric.FeatureVector, decision riskfusion.Decision) (*LoginResult, error) {
	// Step-up is a non-denied outcome: the session still joins the baseline
	// so a legitimate user's profile keeps learning.
	s.appendBaseline(ctx, identity, features)

	view, err := s.challenges.Create(ctx, identity)
	if err != nil {
		return nil, errors.NewInternalError("failed to create challenge").WithCause(err)
	}

	result := &LoginResult{
		Identity:  identity,
		Outcome:   OutcomeStepUp,
		Risk:      decision,
		Challenge: &view,
	}
	s.publish(result)
	s.logger.InfoContext(ctx, "login requires step-up",
		"identity", identity,
		"score", decision.FinalScore,
		"challenge_id", view.ID,
		"challenge_kind", view.Kind,
	)
	return result, nil
}

func (s *service) deny(ctx context.Context, identity uuid.UUID, decision riskfusion.Decision) (*LoginResult, error) {
	result := &LoginResult{
		Identity: identity,
		Outcome:  OutcomeDeny,
		Risk:     decision,
	}
	s.publish(result)
	s.logger.WarnContext(ctx, "login denied",
		"identity", identity,
		"score", decision.FinalScore,
		"analysis", decision.Analysis,
	)
	return result, nil
}

func (s *service) resolveFeatures(input LoginInput) (biometric.FeatureVector, error) {
	var features biometric.FeatureVector
	switch {
	case input.Features != nil:
		features = *input.Features
	case len(input.Events) > 0:
		rec := keystroke.NewRecorder()
		rec.Replay(input.Events)
		features = rec.Features()
	default:
		return features, errors.NewValidationError("MISSING_TELEMETRY", "keystroke features or raw events are required")
	}

	if err := features.Validate(); err != nil {
		return features, errors.NewValidationError("INVALID_TELEMETRY", err.Error())
	}
	if features.IsEmpty() {
		return features, errors.NewValidationError("EMPTY_TELEMETRY", "session contains no keystrokes")
	}
	return features, nil
}

func (s *service) resolveClientScore(input LoginInput, features biometric.FeatureVector) (float64, error) {
	if input.ClientRisk != nil {
		score := *input.ClientRisk
		if math.IsNaN(score) || score < 0 || score > 1 {
			return 0, errors.NewValidationError("INVALID_CLIENT_RISK", "client risk score must be within [0, 1]")
		}
		return score, nil
	}
	if s.scorer == nil {
		return neutralClientScore, nil
	}
	return s.scorer.Score(features).RiskScore, nil
}

// appendBaseline folds the session into the identity's history. Duplicate
// appends on client retry are acceptable: the FIFO cap bounds them. A storage
// failure must not undo a decision already made, so it is only logged.
func (s *service) appendBaseline(ctx context.Context, identity uuid.UUID, features biometric.FeatureVector) {
	sample := s.engine.Summarize(features)
	if err := s.profiles.Append(ctx, identity, sample); err != nil {
		s.logger.ErrorContext(ctx, "baseline append failed",
			"identity", identity,
			"error", err,
		)
	}
}

func (s *service) publish(result *LoginResult) {
	if s.events == nil {
		return
	}

	var challengeID *uuid.UUID
	if result.Challenge != nil {
		id := result.Challenge.ID
		challengeID = &id
	}

	s.events.PublishDecision(DecisionEvent{
		Identity:    result.Identity,
		Outcome:     result.Outcome.String(),
		Score:       result.Risk.FinalScore,
		Confidence:  result.Risk.Confidence,
		Factors:     result.Risk.Factors,
		Analysis:    result.Risk.Analysis,
		ChallengeID: challengeID,
		At:          time.Now(),
	})
}
