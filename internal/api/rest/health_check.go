package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/database"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
)

// HealthChecker checks the health of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthCheckResult is the outcome of a single dependency check.
type HealthCheckResult struct {
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

// HealthStatus grades a check.
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthConfig configures the health service.
type HealthConfig struct {
	// CacheDuration is how long a check result is reused before rerunning.
	CacheDuration time.Duration

	// Timeout bounds each individual check.
	Timeout time.Duration

	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultHealthConfig returns the standard tuning.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration:  10 * time.Second,
		Timeout:        5 * time.Second,
		ServiceName:    "adaptive-auth",
		ServiceVersion: "1.0.0",
		Environment:    "production",
	}
}

// HealthService aggregates dependency checks behind the liveness,
// readiness, and startup probes.
type HealthService struct {
	checkers  map[string]HealthChecker
	cached    sync.Map
	config    HealthConfig
	tracer    trace.Tracer
	startTime time.Time
}

type cachedResult struct {
	result   HealthCheckResult
	cachedAt time.Time
}

// NewHealthService creates a health service with no checkers registered.
func NewHealthService(config HealthConfig) *HealthService {
	return &HealthService{
		checkers:  make(map[string]HealthChecker),
		config:    config,
		tracer:    otel.Tracer("api.rest.health"),
		startTime: time.Now(),
	}
}

// RegisterChecker adds a dependency check. Not safe to call after the
// handlers start serving.
func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.checkers[checker.Name()] = checker
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status      HealthStatus                 `json:"status"`
	Version     string                       `json:"version"`
	ServiceName string                       `json:"service_name"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
	Output      string                       `json:"output,omitempty"`
	Metadata    map[string]interface{}       `json:"metadata,omitempty"`
}

// LivenessHandler answers whether the process is running at all. It never
// consults dependencies; a live process with a dead database is still live.
func (h *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := h.tracer.Start(r.Context(), "health.liveness")
		defer span.End()

		response := HealthResponse{
			Status:      HealthStatusPass,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Metadata: map[string]interface{}{
				"uptime_seconds": time.Since(h.startTime).Seconds(),
				"goroutines":     runtime.NumGoroutine(),
			},
		}
		h.writeHealth(w, http.StatusOK, response)
		span.SetAttributes(attribute.String("health.status", string(response.Status)))
	}
}

// ReadinessHandler answers whether the service can take traffic. Any
// failing dependency makes the whole probe fail.
func (h *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "health.readiness")
		defer span.End()

		checks := h.runChecks(ctx)

		status := HealthStatusPass
		statusCode := http.StatusOK
		for _, result := range checks {
			if result.Status == HealthStatusFail {
				status = HealthStatusFail
				statusCode = http.StatusServiceUnavailable
				break
			}
			if result.Status == HealthStatusWarn {
				status = HealthStatusWarn
			}
		}

		response := HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Checks:      checks,
			Metadata: map[string]interface{}{
				"uptime_seconds": time.Since(h.startTime).Seconds(),
				"environment":    h.config.Environment,
			},
		}
		h.writeHealth(w, statusCode, response)

		span.SetAttributes(
			attribute.String("health.status", string(status)),
			attribute.Int("health.checks_count", len(checks)),
		)
	}
}

// StartupHandler answers whether initialization has had enough time to
// finish. Orchestrators poll this before switching to the readiness probe.
func (h *HealthService) StartupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := h.tracer.Start(r.Context(), "health.startup")
		defer span.End()

		uptime := time.Since(h.startTime)
		minUptime := 5 * time.Second

		status := HealthStatusPass
		statusCode := http.StatusOK
		output := "service started"
		if uptime < minUptime {
			status = HealthStatusFail
			statusCode = http.StatusServiceUnavailable
			output = fmt.Sprintf("starting up, %v remaining", minUptime-uptime)
		}

		response := HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceName: h.config.ServiceName,
			Output:      output,
			Metadata: map[string]interface{}{
				"uptime_seconds": uptime.Seconds(),
			},
		}
		h.writeHealth(w, statusCode, response)
	}
}

func (h *HealthService) writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/health+json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// runChecks fans the registered checks out concurrently, reusing cached
// results that are still fresh.
func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult, len(h.checkers))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range h.checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()

			if cached, ok := h.cachedResultFor(name); ok {
				mu.Lock()
				results[name] = cached
				mu.Unlock()
				return
			}

			checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
			defer cancel()

			start := time.Now()
			result := checker.Check(checkCtx)
			result.ResponseTime = time.Since(start)
			result.LastChecked = time.Now().UTC()

			h.cached.Store(name, cachedResult{result: result, cachedAt: time.Now()})

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, checker)
	}

	wg.Wait()
	return results
}

func (h *HealthService) cachedResultFor(name string) (HealthCheckResult, bool) {
	value, ok := h.cached.Load(name)
	if !ok {
		return HealthCheckResult{}, false
	}
	entry := value.(cachedResult)
	if time.Since(entry.cachedAt) > h.config.CacheDuration {
		return HealthCheckResult{}, false
	}
	return entry.result, true
}

// DatabaseHealthChecker probes the Postgres pool.
type DatabaseHealthChecker struct {
	pool *database.ConnectionPool
}

func NewDatabaseHealthChecker(pool *database.ConnectionPool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{pool: pool}
}

func (c *DatabaseHealthChecker) Name() string { return "database" }

func (c *DatabaseHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.pool.Healthy(ctx); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}

	metrics := c.pool.Metrics()
	return HealthCheckResult{
		Status: HealthStatusPass,
		Metadata: map[string]interface{}{
			"total_connections":  metrics.TotalConnections,
			"active_connections": metrics.ActiveConnections,
			"idle_connections":   metrics.IdleConnections,
		},
	}
}

// CacheHealthChecker probes Redis.
type CacheHealthChecker struct {
	manager *cache.CacheManager
}

func NewCacheHealthChecker(manager *cache.CacheManager) *CacheHealthChecker {
	return &CacheHealthChecker{manager: manager}
}

func (c *CacheHealthChecker) Name() string { return "cache" }

func (c *CacheHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.manager.HealthCheck(ctx); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}

	result := HealthCheckResult{Status: HealthStatusPass}
	if stats, err := c.manager.GetStats(ctx); err == nil {
		result.Metadata = stats
	}
	return result
}

// EstimatorHealthChecker reports the preliminary scoring model's state.
// A model still warming up degrades to warn, never fail: logins proceed
// on the neutral fallback score.
type EstimatorHealthChecker struct {
	estimator *localrisk.Estimator
}

func NewEstimatorHealthChecker(estimator *localrisk.Estimator) *EstimatorHealthChecker {
	return &EstimatorHealthChecker{estimator: estimator}
}

func (c *EstimatorHealthChecker) Name() string { return "risk_estimator" }

func (c *EstimatorHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if !c.estimator.Ready() {
		return HealthCheckResult{
			Status:  HealthStatusWarn,
			Message: "model warming up, scoring on neutral fallback",
		}
	}
	return HealthCheckResult{Status: HealthStatusPass}
}
