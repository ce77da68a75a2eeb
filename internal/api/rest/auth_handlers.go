package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	domainErrors "github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
)

// handleRegister creates a credential record for a new identity.
func (h *Handler) handleRegister(ctx context.Context, r *http.Request) (interface{}, error) {
	var req RegisterRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to hash password").WithCause(err)
	}

	user := &repository.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
	}
	if err := h.services.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, domainErrors.NewConflictError("email is already registered")
		}
		return nil, domainErrors.NewInternalError("failed to create user").WithCause(err)
	}

	h.logger.InfoContext(ctx, "user registered",
		"identity", user.ID,
	)
	return RegisterResponse{ID: user.ID, Email: user.Email}, nil
}

// handleLogin runs one credential + biometric authentication attempt. A
// step_up outcome opens a pending session bound to the issued challenge; the
// verify endpoint requires it back, so the challenge can only be answered
// inside the login transaction that created it.
func (h *Handler) handleLogin(ctx context.Context, r *http.Request) (interface{}, error) {
	var req LoginRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	account := strings.ToLower(strings.TrimSpace(req.Email))
	if locked, err := h.services.Lockout.Locked(ctx, account); err != nil {
		h.logger.WarnContext(ctx, "lockout check failed, admitting attempt",
			"error", err,
		)
	} else if locked {
		return nil, domainErrors.NewRateLimitError("too many failed login attempts; try again later")
	}

	start := time.Now()
	result, err := h.services.Flow.Login(ctx, authflow.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		Features:   req.Features,
		Events:     req.Events,
		ClientRisk: req.ClientRisk,
	})
	if err != nil {
		if domainErrors.IsType(err, domainErrors.ErrorTypeUnauthorized) {
			h.recordLoginFailure(ctx, account)
		}
		return nil, err
	}
	h.services.Metrics.RecordLogin(ctx, time.Since(start).Seconds()*1000,
		result.Outcome.String(), result.Risk.FinalScore)

	resp := LoginResponse{
		Outcome: result.Outcome.String(),
		Risk:    newRiskSummary(result.Risk),
	}

	switch result.Outcome {
	case authflow.OutcomeGrant:
		h.clearLoginFailures(ctx, account)
		resp.Token = newTokenResponse(result.Token)

	case authflow.OutcomeStepUp:
		stepUpSession, err := h.openStepUpSession(ctx, account, result)
		if err != nil {
			return nil, err
		}
		resp.Challenge = result.Challenge
		resp.StepUpSession = stepUpSession

	case authflow.OutcomeDeny:
		return nil, domainErrors.ErrAccessDenied
	}

	return resp, nil
}

// handleVerifyChallenge runs one step-up solution attempt. The pending
// session must exist and reference the challenge being answered.
func (h *Handler) handleVerifyChallenge(ctx context.Context, r *http.Request) (interface{}, error) {
	var req VerifyChallengeRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}
	if req.ChallengeID == uuid.Nil {
		return nil, &ValidationError{Message: "challenge_id is required"}
	}

	session, err := h.services.Sessions.GetSession(ctx, req.StepUpSession)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("step-up session expired or unknown")
	}
	if state, _ := session["state"].(string); state != cache.SessionStatePending {
		return nil, domainErrors.NewUnauthorizedError("session is not awaiting a challenge")
	}
	if bound, _ := session["challenge_id"].(string); bound != req.ChallengeID.String() {
		return nil, domainErrors.NewForbiddenError("challenge does not belong to this step-up session")
	}

	start := time.Now()
	result, err := h.services.Flow.CompleteChallenge(ctx, authflow.ChallengeInput{
		ChallengeID: req.ChallengeID,
		Solution:    req.Solution,
	})
	if err != nil {
		return nil, err
	}
	h.services.Metrics.RecordChallengeVerify(ctx, time.Since(start).Seconds()*1000,
		result.Verification.Status.String())

	resp := VerifyChallengeResponse{
		Status: result.Verification.Status.String(),
	}

	switch result.Verification.Status {
	case challenge.VerifyAccepted:
		h.consumeStepUpSession(ctx, req.StepUpSession)
		if account, _ := session["account"].(string); account != "" {
			h.clearLoginFailures(ctx, account)
		}
		resp.Token = newTokenResponse(result.Token)

	case challenge.VerifyRetry:
		resp.AttemptsRemaining = result.Verification.AttemptsRemaining

	case challenge.VerifyRejected:
		// Terminal: the challenge is gone, so the binding session goes too.
		h.consumeStepUpSession(ctx, req.StepUpSession)
		resp.Reason = result.Verification.Reason.String()
	}

	return resp, nil
}

// handleLogout revokes the session behind the presented token. Every other
// copy of the token dies with it.
func (h *Handler) handleLogout(ctx context.Context, r *http.Request) (interface{}, error) {
	sessionID, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	if err := h.services.Sessions.DeleteSession(ctx, sessionID); err != nil {
		return nil, domainErrors.NewInternalError("failed to revoke session").WithCause(err)
	}

	h.logger.InfoContext(ctx, "session revoked",
		"session_id", sessionID,
	)
	return nil, nil
}

// openStepUpSession binds a fresh challenge to the login transaction that
// produced it. The session lives exactly as long as the challenge stays
// answerable.
func (h *Handler) openStepUpSession(ctx context.Context, account string, result *authflow.LoginResult) (string, error) {
	meta := requestMetaFromContext(ctx)

	ttl := time.Until(result.Challenge.ExpiresAt)
	if ttl <= 0 {
		ttl = challenge.DefaultTTL
	}

	sessionID, err := h.services.Sessions.CreateSession(ctx, result.Identity, map[string]interface{}{
		"state":        cache.SessionStatePending,
		"challenge_id": result.Challenge.ID.String(),
		"account":      account,
		"ip":           meta.ClientIP,
		"user_agent":   meta.UserAgent,
	}, ttl)
	if err != nil {
		return "", domainErrors.NewInternalError("failed to open step-up session").WithCause(err)
	}
	h.services.Metrics.UpdatePendingChallenges(1)
	return sessionID, nil
}

// consumeStepUpSession removes a pending session whose challenge reached a
// terminal state. Best effort; the TTL cleans up after us anyway.
func (h *Handler) consumeStepUpSession(ctx context.Context, sessionID string) {
	if err := h.services.Sessions.DeleteSession(ctx, sessionID); err != nil {
		h.logger.WarnContext(ctx, "step-up session cleanup failed",
			"session_id", sessionID,
			"error", err,
		)
	}
	h.services.Metrics.UpdatePendingChallenges(-1)
}

func (h *Handler) recordLoginFailure(ctx context.Context, account string) {
	count, err := h.services.Lockout.RecordFailure(ctx, account)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to record login failure",
			"error", err,
		)
		return
	}
	if count >= int64(auth.DefaultLockoutThreshold) {
		h.logger.WarnContext(ctx, "account locked out",
			"failures", count,
		)
	}
}

func (h *Handler) clearLoginFailures(ctx context.Context, account string) {
	if err := h.services.Lockout.Clear(ctx, account); err != nil {
		h.logger.WarnContext(ctx, "failed to clear login failures",
			"error", err,
		)
	}
}
