package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
)

// AuthMiddleware validates bearer tokens against their backing sessions.
// A token is only as alive as the session its sid claim points at: deleting
// the session revokes every copy of the token immediately, without waiting
// for the JWT expiry.
type AuthMiddleware struct {
	tokens   *auth.TokenIssuer
	sessions cache.SessionStore
	logger   *slog.Logger
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(tokens *auth.TokenIssuer, sessions cache.SessionStore, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		tokens:   tokens,
		sessions: sessions,
		logger:   logger,
	}
}

// Middleware returns the middleware function
func (m *AuthMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "Authorization required")
				return
			}

			identity, sessionID, err := m.Authenticate(r.Context(), token)
			if err != nil {
				m.logger.DebugContext(r.Context(), "authentication rejected",
					"path", r.URL.Path,
					"error", err,
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyIdentity, identity)
			ctx = context.WithValue(ctx, contextKeySessionID, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate validates a raw token string: signature and expiry first, then
// the backing session. Returns the authenticated identity and session ID.
// The session expiry slides on every successful check so active users stay
// logged in.
func (m *AuthMiddleware) Authenticate(ctx context.Context, token string) (uuid.UUID, string, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return uuid.Nil, "", err
	}

	identity, err := claims.Identity()
	if err != nil {
		return uuid.Nil, "", err
	}

	if claims.SessionID == "" {
		return uuid.Nil, "", errors.New("token carries no session")
	}

	session, err := m.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		return uuid.Nil, "", err
	}

	// A pending_challenge session has not finished step-up; it never
	// authenticates a request.
	if state, _ := session["state"].(string); state != cache.SessionStateActive {
		return uuid.Nil, "", errors.New("session is not active")
	}
	if owner, _ := session["identity"].(string); owner != identity.String() {
		return uuid.Nil, "", errors.New("session does not belong to token subject")
	}

	m.slide(ctx, claims.SessionID)

	return identity, claims.SessionID, nil
}

// slide refreshes the session TTL and last-seen marker. A failure only costs
// the refresh, never the request.
func (m *AuthMiddleware) slide(ctx context.Context, sessionID string) {
	if err := m.sessions.ExtendSession(ctx, sessionID, 0); err != nil {
		m.logger.WarnContext(ctx, "session extension failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	if err := m.sessions.UpdateSession(ctx, sessionID, map[string]interface{}{
		"last_seen_at": time.Now().Unix(),
	}); err != nil {
		m.logger.WarnContext(ctx, "session touch failed",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the access_token cookie for browser clients.
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}
