package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/database"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/adaptive-auth-backend/internal/metrics"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/riskfusion"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/stepup"
)

// Server owns the HTTP listener and every dependency behind it.
type Server struct {
	config        *config.Config
	httpServer    *http.Server
	handler       *Handler
	logger        *slog.Logger
	zapLogger     *zap.Logger
	pool          *database.ConnectionPool
	cacheManager  *cache.CacheManager
	challenges    *stepup.Manager
	feed          *DecisionFeed
	healthService *HealthService
	cleanupCancel context.CancelFunc
}

// NewServer wires the full dependency graph from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	// Infrastructure packages log through zap.
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to set up zap logger: %w", err)
	}
	if cfg.Environment == "development" {
		if dev, err := zap.NewDevelopment(); err == nil {
			zapLogger = dev
		}
	}

	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cacheManager, err := cache.NewCacheManager(&cfg.Redis, cfg.Security.SessionTTL, zapLogger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	db := pool.GetDB()
	users := repository.NewUserRepository(db)
	profiles := repository.NewProfileRepository(db)
	events := repository.NewEventRepository(db)

	tokenIssuer, err := auth.NewTokenIssuer(
		cfg.Security.JWTSecret,
		cfg.Security.JWTIssuer,
		cfg.Security.TokenExpiry,
		cacheManager.SessionStore,
	)
	if err != nil {
		pool.Close()
		cacheManager.Close()
		return nil, fmt.Errorf("failed to build token issuer: %w", err)
	}

	credentials := auth.NewCredentials(users)
	lockout := auth.NewLockout(cacheManager.Cache, 0, 0)

	challenges := stepup.NewManager(
		stepup.WithLogger(logger),
		stepup.WithSweepInterval(cfg.Challenge.SweepInterval),
	)

	var scorer authflow.ClientScorer
	var estimator *localrisk.Estimator
	if cfg.Estimator.Enabled {
		estimator = localrisk.NewEstimator(logger)
		warmup := cfg.Estimator.WarmupDelay
		estimator.LoadAsync(func() (localrisk.Model, error) {
			if warmup > 0 {
				time.Sleep(warmup)
			}
			return localrisk.NewHeuristicModel(localrisk.DefaultReferenceStats()), nil
		})
		scorer = estimator
	}

	engine := riskfusion.NewEngine(logger)

	registry, err := metrics.NewRegistry("adaptive-auth-backend")
	if err != nil {
		pool.Close()
		cacheManager.Close()
		return nil, fmt.Errorf("failed to build metrics registry: %w", err)
	}

	authMiddleware := NewAuthMiddleware(tokenIssuer, cacheManager.SessionStore, logger)
	feed := NewDecisionFeed(cacheManager.Decisions, events, authMiddleware, logger)

	flow := authflow.NewService(
		credentials,
		NewTokenAdapter(tokenIssuer),
		profiles,
		challenges,
		scorer,
		engine,
		feed,
		logger,
	)

	services := &Services{
		Flow:      flow,
		Users:     users,
		Profiles:  profiles,
		Events:    events,
		Sessions:  cacheManager.SessionStore,
		Decisions: cacheManager.Decisions,
		Lockout:   lockout,
		Scorer:    scorer,
		Feed:      feed,
		Metrics:   registry,
	}

	healthService := NewHealthService(HealthConfig{
		CacheDuration:  10 * time.Second,
		Timeout:        5 * time.Second,
		ServiceName:    "adaptive-auth",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
	})
	healthService.RegisterChecker(NewDatabaseHealthChecker(pool))
	healthService.RegisterChecker(NewCacheHealthChecker(cacheManager))
	if estimator != nil {
		healthService.RegisterChecker(NewEstimatorHealthChecker(estimator))
	}

	handler := NewHandler(services, cfg.Version, logger)

	server := &Server{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		zapLogger:     zapLogger,
		pool:          pool,
		cacheManager:  cacheManager,
		challenges:    challenges,
		feed:          feed,
		healthService: healthService,
	}

	rateLimiter := NewRateLimiterMiddleware(cacheManager.RateLimiter, RateLimitSettings{
		RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
		Burst:             cfg.Security.RateLimit.BurstSize,
		ByIP:              true,
	}, logger)

	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware,
		metricsMiddleware(registry),
		recoveryMiddleware,
		securityHeadersMiddleware,
		corsMiddleware(cfg.CORS.AllowedOrigins),
		// Before auth so credential stuffing hits the limiter first.
		rateLimiter.Middleware(),
		timeoutMiddleware(cfg.Server.WriteTimeout),
		ConditionalMiddleware(
			authMiddleware.Middleware(),
			func(r *http.Request) bool { return !isPublicEndpoint(r.URL.Path) },
		),
	}

	mux := server.setupRoutes()
	server.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        chainMiddleware(mux, middlewares...),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// Started last so constructor failure paths never leak the goroutine.
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cacheManager.StartBackgroundCleanup(cleanupCtx, 15*time.Minute)
	server.cleanupCancel = cleanupCancel

	return server, nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthService.ReadinessHandler())
	mux.HandleFunc("GET /healthz", s.healthService.LivenessHandler())
	mux.HandleFunc("GET /ready", s.healthService.ReadinessHandler())
	mux.HandleFunc("GET /startup", s.healthService.StartupHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler.registerRoutes(mux)

	return mux
}

// Handler exposes the fully assembled middleware chain so tests can drive
// the server through httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener until an interrupt or SIGTERM arrives, then
// shuts down gracefully.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"address", s.httpServer.Addr,
		"environment", s.config.Environment,
		"version", s.config.Version,
	)

	// SO_REUSEPORT lets a replacement process bind before the old one
	// finishes draining.
	lc := net.ListenConfig{Control: reusePort}
	listener, err := lc.Listen(context.Background(), "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests, then closes every dependency.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
		return err
	}

	s.feed.Close()
	s.challenges.Close()
	s.cleanupCancel()

	if err := s.cacheManager.Close(); err != nil {
		s.logger.Error("redis close failed", "error", err)
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("database close failed", "error", err)
	}
	s.zapLogger.Sync()

	s.logger.Info("server shutdown complete")
	return nil
}

// isPublicEndpoint lists the paths reachable without a token. The feed
// authenticates inside its own upgrade handler, so it skips the header
// middleware here.
func isPublicEndpoint(path string) bool {
	switch path {
	case "/health", "/healthz", "/ready", "/startup", "/metrics",
		"/api/v1/auth/register", "/api/v1/auth/login", "/api/v1/auth/verify",
		"/api/v1/risk/score", "/api/v1/decisions/feed":
		return true
	}
	return false
}
