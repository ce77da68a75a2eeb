package rest

import (
	"log/slog"
	"net/http"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/metrics"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
)

// Services holds everything the REST API needs
type Services struct {
	Flow     authflow.Service
	Users    repository.UserRepository
	Profiles repository.ProfileRepository
	Events   repository.EventRepository

	Sessions  cache.SessionStore
	Decisions *cache.DecisionCache
	Lockout   *auth.Lockout
	Scorer    authflow.ClientScorer

	Feed    *DecisionFeed
	Metrics *metrics.Registry
}

// Handler owns the HTTP surface of the authentication service
type Handler struct {
	*BaseHandler
	services *Services
	logger   *slog.Logger
}

// NewHandler creates a new REST API handler
func NewHandler(services *Services, apiVersion string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		BaseHandler: NewBaseHandler(apiVersion),
		services:    services,
		logger:      logger,
	}
}

// registerRoutes mounts every API route onto the mux. Auth requirements are
// enforced by the middleware chain in server.go; the route table itself is
// auth-agnostic.
func (h *Handler) registerRoutes(mux *http.ServeMux) {
	// Public authentication endpoints
	mux.HandleFunc("POST /api/v1/auth/register",
		h.WrapHandler(http.MethodPost, "/api/v1/auth/register", h.handleRegister,
			WithSuccessStatus(http.StatusCreated)))
	mux.HandleFunc("POST /api/v1/auth/login",
		h.WrapHandler(http.MethodPost, "/api/v1/auth/login", h.handleLogin))
	mux.HandleFunc("POST /api/v1/auth/verify",
		h.WrapHandler(http.MethodPost, "/api/v1/auth/verify", h.handleVerifyChallenge))
	mux.HandleFunc("POST /api/v1/risk/score",
		h.WrapHandler(http.MethodPost, "/api/v1/risk/score", h.handleScorePreview))

	// Authenticated endpoints
	mux.HandleFunc("POST /api/v1/auth/logout",
		h.WrapHandler(http.MethodPost, "/api/v1/auth/logout", h.handleLogout))

	mux.HandleFunc("GET /api/v1/profile",
		h.WrapHandler(http.MethodGet, "/api/v1/profile", h.handleGetProfile))
	mux.HandleFunc("DELETE /api/v1/profile",
		h.WrapHandler(http.MethodDelete, "/api/v1/profile", h.handleResetProfile))

	mux.HandleFunc("GET /api/v1/sessions",
		h.WrapHandler(http.MethodGet, "/api/v1/sessions", h.handleListSessions))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}",
		h.WrapHandler(http.MethodDelete, "/api/v1/sessions/{id}", h.handleRevokeSession))

	mux.HandleFunc("GET /api/v1/decisions",
		h.WrapHandler(http.MethodGet, "/api/v1/decisions", h.handleListDecisions))
	mux.HandleFunc("GET /api/v1/decisions/stats",
		h.WrapHandler(http.MethodGet, "/api/v1/decisions/stats", h.handleDecisionStats))

	// Live decision feed; authenticates itself via query token since
	// WebSocket clients cannot set headers.
	if h.services.Feed != nil {
		mux.Handle("GET /api/v1/decisions/feed", h.services.Feed)
	}
}
