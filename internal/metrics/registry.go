package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Login Flow Metrics
	LoginDuration   metric.Float64Histogram
	LoginsPerSecond metric.Float64ObservableGauge
	GrantCounter    metric.Int64Counter
	StepUpCounter   metric.Int64Counter
	DenyCounter     metric.Int64Counter
	RiskScore       metric.Float64Histogram

	// Challenge Metrics
	ChallengeVerifyDuration  metric.Float64Histogram
	ChallengeAcceptedCounter metric.Int64Counter
	ChallengeRejectedCounter metric.Int64Counter
	PendingChallenges        metric.Int64ObservableGauge

	// System Metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	// State for observable metrics
	mu                sync.Mutex
	pendingChallenges int64
	loginsProcessed   int64
	lastLoginCount    int64
	lastLoginTime     time.Time
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:         meter,
		lastLoginTime: time.Now(),
	}

	if err := r.initLoginMetrics(); err != nil {
		return nil, err
	}

	if err := r.initChallengeMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initLoginMetrics initializes login flow metrics
func (r *Registry) initLoginMetrics() error {
	var err error

	// Login decision duration histogram
	r.LoginDuration, err = r.meter.Float64Histogram(
		"aab.login.duration",
		metric.WithDescription("End-to-end login decision duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	// Logins per second gauge
	r.LoginsPerSecond, err = r.meter.Float64ObservableGauge(
		"aab.login.throughput_per_second",
		metric.WithDescription("Current login processing throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			now := time.Now()
			elapsed := now.Sub(r.lastLoginTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.loginsProcessed-r.lastLoginCount) / elapsed
				o.Observe(rate)
				r.lastLoginCount = r.loginsProcessed
				r.lastLoginTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Outcome counters
	r.GrantCounter, err = r.meter.Int64Counter(
		"aab.login.grant_total",
		metric.WithDescription("Total number of logins granted outright"),
	)
	if err != nil {
		return err
	}

	r.StepUpCounter, err = r.meter.Int64Counter(
		"aab.login.step_up_total",
		metric.WithDescription("Total number of logins escalated to a challenge"),
	)
	if err != nil {
		return err
	}

	r.DenyCounter, err = r.meter.Int64Counter(
		"aab.login.deny_total",
		metric.WithDescription("Total number of logins denied by risk policy"),
	)
	if err != nil {
		return err
	}

	// Fused risk score distribution
	r.RiskScore, err = r.meter.Float64Histogram(
		"aab.risk.final_score",
		metric.WithDescription("Distribution of fused risk scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9),
	)

	return err
}

// initChallengeMetrics initializes step-up challenge metrics
func (r *Registry) initChallengeMetrics() error {
	var err error

	// Challenge verification duration
	r.ChallengeVerifyDuration, err = r.meter.Float64Histogram(
		"aab.challenge.verify_duration",
		metric.WithDescription("Challenge verification duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	// Verification counters
	r.ChallengeAcceptedCounter, err = r.meter.Int64Counter(
		"aab.challenge.accepted_total",
		metric.WithDescription("Total challenges solved and converted to sessions"),
	)
	if err != nil {
		return err
	}

	r.ChallengeRejectedCounter, err = r.meter.Int64Counter(
		"aab.challenge.rejected_total",
		metric.WithDescription("Total challenges rejected, expired or exhausted"),
	)
	if err != nil {
		return err
	}

	// Pending step-up sessions
	r.PendingChallenges, err = r.meter.Int64ObservableGauge(
		"aab.challenge.pending_total",
		metric.WithDescription("Number of step-up sessions awaiting a solution"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			o.Observe(r.pendingChallenges)
			return nil
		}),
	)

	return err
}

// initSystemMetrics initializes system-level metrics
func (r *Registry) initSystemMetrics() error {
	var err error

	// API request duration
	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"aab.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	// API request counter
	r.APIRequestCounter, err = r.meter.Int64Counter(
		"aab.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)

	return err
}

// Helper methods for updating observable metric values

// UpdatePendingChallenges adjusts the pending step-up session count
func (r *Registry) UpdatePendingChallenges(delta int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingChallenges += delta
	if r.pendingChallenges < 0 {
		r.pendingChallenges = 0
	}
}

// incrementLoginsProcessed feeds the throughput gauge
func (r *Registry) incrementLoginsProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loginsProcessed++
}

// Helper methods for recording metrics with common attribute patterns

// RecordLogin records one login decision with its fused risk score
func (r *Registry) RecordLogin(ctx context.Context, durationMS float64, outcome string, score float64) {
	if r == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}

	r.LoginDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.RiskScore.Record(ctx, score, metric.WithAttributes(attrs...))

	switch outcome {
	case "grant":
		r.GrantCounter.Add(ctx, 1)
	case "step_up":
		r.StepUpCounter.Add(ctx, 1)
	case "deny":
		r.DenyCounter.Add(ctx, 1)
	}

	r.incrementLoginsProcessed()
}

// RecordChallengeVerify records one challenge verification attempt
func (r *Registry) RecordChallengeVerify(ctx context.Context, durationMS float64, status string) {
	if r == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}

	r.ChallengeVerifyDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))

	switch status {
	case "accepted":
		r.ChallengeAcceptedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case "rejected":
		r.ChallengeRejectedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, durationMS float64, method, path string, statusCode int) {
	if r == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
