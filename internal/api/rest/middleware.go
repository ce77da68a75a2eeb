package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
	"github.com/davidleathers/adaptive-auth-backend/internal/metrics"
)

// Middleware wraps an http.Handler with additional behavior
type Middleware func(http.Handler) http.Handler

// requestIDMiddleware adds a unique request ID to the context
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)
		}

		w.Header().Set("X-Request-ID", requestID)

		meta := &RequestMeta{
			RequestID: requestID,
			ClientIP:  extractClientIP(r),
			UserAgent: r.UserAgent(),
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestMeta, meta)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &basicResponseWriter{
			ResponseWriter: w,
			status:         200,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		slog.InfoContext(r.Context(), "http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// metricsMiddleware records request duration and counts per route
func metricsMiddleware(registry *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &basicResponseWriter{
				ResponseWriter: w,
				status:         200,
			}

			next.ServeHTTP(wrapped, r)

			registry.RecordAPIRequest(r.Context(), time.Since(start).Seconds()*1000,
				r.Method, r.URL.Path, wrapped.status)
		})
	}
}

// recoveryMiddleware recovers from panics and returns 500 errors
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"An internal error occurred"}}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware sets standard security response headers
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds request handling time via the context
func timeoutMiddleware(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitSettings configures the per-client request budget
type RateLimitSettings struct {
	RequestsPerSecond int
	Burst             int
	ByIP              bool
	ByEndpoint        bool
}

// RateLimiterMiddleware throttles requests on the shared Redis sliding window
// so limits hold across replicas.
type RateLimiterMiddleware struct {
	rateLimiter cache.RateLimiter
	settings    RateLimitSettings
	logger      *slog.Logger
}

// NewRateLimiterMiddleware wires a rate limiter into the middleware chain.
func NewRateLimiterMiddleware(rl cache.RateLimiter, settings RateLimitSettings, logger *slog.Logger) *RateLimiterMiddleware {
	if settings.RequestsPerSecond <= 0 {
		settings.RequestsPerSecond = 50
	}
	if settings.Burst < settings.RequestsPerSecond {
		settings.Burst = settings.RequestsPerSecond * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiterMiddleware{
		rateLimiter: rl,
		settings:    settings,
		logger:      logger,
	}
}

// Middleware returns the middleware function
func (rlm *RateLimiterMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rlm.rateLimitKey(r)

			// The burst budget is enforced over a one second window.
			allowed, err := rlm.rateLimiter.Allow(r.Context(), key, rlm.settings.Burst, time.Second)
			if err != nil {
				// A limiter outage must not take logins down with it.
				rlm.logger.WarnContext(r.Context(), "rate limiter unavailable, admitting request",
					"key", key,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rlm.settings.Burst))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"Too many requests"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rlm *RateLimiterMiddleware) rateLimitKey(r *http.Request) string {
	var parts []string

	if rlm.settings.ByIP {
		parts = append(parts, "ip:"+extractClientIP(r))
	}
	if rlm.settings.ByEndpoint {
		parts = append(parts, "endpoint:"+r.URL.Path)
	}
	if len(parts) == 0 {
		parts = append(parts, "global")
	}
	return strings.Join(parts, ":")
}

// corsMiddleware adds CORS headers for the configured origins
func corsMiddleware(allowedOrigins []string) Middleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ConditionalMiddleware applies middleware only when the condition holds
func ConditionalMiddleware(mw Middleware, condition func(*http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if condition(r) {
				wrapped.ServeHTTP(w, r)
			} else {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// chainMiddleware applies middlewares so the first listed runs outermost
func chainMiddleware(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// basicResponseWriter wraps http.ResponseWriter to capture the status code
type basicResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *basicResponseWriter) WriteHeader(status int) {
	if !rw.written {
		rw.status = status
		rw.ResponseWriter.WriteHeader(status)
		rw.written = true
	}
}

func (rw *basicResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// writeUnauthorized writes a 401 response with the standard challenge header
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="adaptive-auth"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"error":{"code":"UNAUTHORIZED","message":%q}}`, message)
}
