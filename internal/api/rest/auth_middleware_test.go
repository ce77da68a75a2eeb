package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
)

func setupAuthMiddleware(t *testing.T) (*AuthMiddleware, *auth.TokenIssuer, cache.SessionStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sessions := cache.NewRedisSessionStore(client, time.Hour, zaptest.NewLogger(t))
	issuer, err := auth.NewTokenIssuer("middleware-test-secret-012345", "adaptive-auth", 15*time.Minute, sessions)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthMiddleware(issuer, sessions, logger), issuer, sessions
}

// probeHandler records what the middleware put in the context.
type probeHandler struct {
	called    bool
	identity  uuid.UUID
	sessionID string
}

func (p *probeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.called = true
	p.identity, _ = identityFromContext(r.Context())
	p.sessionID, _ = sessionIDFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func runThroughMiddleware(t *testing.T, mw *AuthMiddleware, authorization string) (*probeHandler, *httptest.ResponseRecorder) {
	t.Helper()

	probe := &probeHandler{}
	handler := mw.Middleware()(probe)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return probe, rec
}

func TestAuthMiddleware_ValidTokenPasses(t *testing.T) {
	mw, issuer, _ := setupAuthMiddleware(t)
	identity := uuid.New()

	issued, err := issuer.Issue(context.Background(), identity)
	require.NoError(t, err)

	probe, rec := runThroughMiddleware(t, mw, "Bearer "+issued.AccessToken)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, probe.called)
	assert.Equal(t, identity, probe.identity)
	assert.Equal(t, issued.SessionID, probe.sessionID)
}

func TestAuthMiddleware_MissingHeaderRejected(t *testing.T) {
	mw, _, _ := setupAuthMiddleware(t)

	probe, rec := runThroughMiddleware(t, mw, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, probe.called)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestAuthMiddleware_GarbageTokenRejected(t *testing.T) {
	mw, _, _ := setupAuthMiddleware(t)

	for _, header := range []string{
		"Bearer not.a.jwt",
		"Bearer ",
		"Basic dXNlcjpwYXNz",
	} {
		probe, rec := runThroughMiddleware(t, mw, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.False(t, probe.called, "header %q", header)
	}
}

func TestAuthMiddleware_RevokedSessionRejected(t *testing.T) {
	mw, issuer, sessions := setupAuthMiddleware(t)

	issued, err := issuer.Issue(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, sessions.DeleteSession(context.Background(), issued.SessionID))

	probe, rec := runThroughMiddleware(t, mw, "Bearer "+issued.AccessToken)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a signed, unexpired token must die with its session")
	assert.False(t, probe.called)
}

func TestAuthMiddleware_PendingSessionNeverAuthenticates(t *testing.T) {
	mw, issuer, sessions := setupAuthMiddleware(t)

	issued, err := issuer.Issue(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, sessions.UpdateSession(context.Background(), issued.SessionID, map[string]interface{}{
		"state": cache.SessionStatePending,
	}))

	probe, rec := runThroughMiddleware(t, mw, "Bearer "+issued.AccessToken)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, probe.called)
}

func TestAuthMiddleware_SessionOwnerMismatchRejected(t *testing.T) {
	mw, issuer, sessions := setupAuthMiddleware(t)

	issued, err := issuer.Issue(context.Background(), uuid.New())
	require.NoError(t, err)

	// Simulate a corrupted or tampered session record.
	require.NoError(t, sessions.UpdateSession(context.Background(), issued.SessionID, map[string]interface{}{
		"identity": uuid.New().String(),
	}))

	probe, rec := runThroughMiddleware(t, mw, "Bearer "+issued.AccessToken)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, probe.called)
}

func TestAuthMiddleware_SlidesSessionOnUse(t *testing.T) {
	mw, issuer, sessions := setupAuthMiddleware(t)

	issued, err := issuer.Issue(context.Background(), uuid.New())
	require.NoError(t, err)

	_, rec := runThroughMiddleware(t, mw, "Bearer "+issued.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	session, err := sessions.GetSession(context.Background(), issued.SessionID)
	require.NoError(t, err)
	assert.Contains(t, session, "last_seen_at")
}

func TestAuthMiddleware_CookieFallback(t *testing.T) {
	mw, issuer, _ := setupAuthMiddleware(t)
	identity := uuid.New()

	issued, err := issuer.Issue(context.Background(), identity)
	require.NoError(t, err)

	probe := &probeHandler{}
	handler := mw.Middleware()(probe)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: issued.AccessToken})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, identity, probe.identity)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"wrong scheme", "Basic abc123", ""},
		{"no value", "Bearer", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractToken(req))
		})
	}
}
