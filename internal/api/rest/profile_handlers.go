package rest

import (
	"context"
	"net/http"
	"strconv"

	domainErrors "github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
)

// handleGetProfile returns the caller's baseline profile summary. Raw
// feature statistics stay server-side.
func (h *Handler) handleGetProfile(ctx context.Context, r *http.Request) (interface{}, error) {
	identity, err := identityFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	profile, err := h.services.Profiles.Get(ctx, identity)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to load profile").WithCause(err)
	}
	if profile == nil {
		return nil, domainErrors.ErrProfileNotFound
	}

	return newProfileResponse(profile), nil
}

// handleResetProfile discards the caller's baseline. The next logins run
// without a behavioral reference until enough samples accumulate again.
func (h *Handler) handleResetProfile(ctx context.Context, r *http.Request) (interface{}, error) {
	identity, err := identityFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	if err := h.services.Profiles.Delete(ctx, identity); err != nil {
		return nil, domainErrors.NewInternalError("failed to reset profile").WithCause(err)
	}

	h.logger.InfoContext(ctx, "biometric profile reset",
		"identity", identity,
	)
	return nil, nil
}

// handleListSessions enumerates the caller's live sessions, marking the
// one the request arrived on.
func (h *Handler) handleListSessions(ctx context.Context, r *http.Request) (interface{}, error) {
	identity, err := identityFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}
	current, _ := sessionIDFromContext(ctx)

	ids, err := h.services.Sessions.ListSessions(ctx, identity)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list sessions").WithCause(err)
	}

	sessions := make([]SessionResponse, 0, len(ids))
	for _, id := range ids {
		data, err := h.services.Sessions.GetSession(ctx, id)
		if err != nil {
			// Raced with expiry between listing and lookup.
			continue
		}
		sessions = append(sessions, newSessionResponse(id, data, id == current))
	}

	return sessions, nil
}

// handleRevokeSession kills one of the caller's sessions by ID. Foreign
// session IDs get the same answer as unknown ones.
func (h *Handler) handleRevokeSession(ctx context.Context, r *http.Request) (interface{}, error) {
	identity, err := identityFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		return nil, &ValidationError{Message: "session id is required"}
	}

	data, err := h.services.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, domainErrors.NewNotFoundError("session")
	}
	if owner, _ := data["identity"].(string); owner != identity.String() {
		return nil, domainErrors.NewNotFoundError("session")
	}

	if err := h.services.Sessions.DeleteSession(ctx, sessionID); err != nil {
		return nil, domainErrors.NewInternalError("failed to revoke session").WithCause(err)
	}

	h.logger.InfoContext(ctx, "session revoked",
		"identity", identity,
		"session_id", sessionID,
	)
	return nil, nil
}

// newSessionResponse flattens raw session fields. Numeric fields come back
// from the store as strings or int64 depending on who wrote them.
func newSessionResponse(id string, data map[string]interface{}, current bool) SessionResponse {
	state, _ := data["state"].(string)
	ip, _ := data["ip"].(string)
	userAgent, _ := data["user_agent"].(string)

	return SessionResponse{
		SessionID:  id,
		State:      state,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  sessionUnix(data["created_at"]),
		LastSeenAt: sessionUnix(data["last_seen_at"]),
		Current:    current,
	}
}

func sessionUnix(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
