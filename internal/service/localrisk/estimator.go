package localrisk

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// NotReadyEstimate is what callers get while no model is loaded: neutral
// risk, minimal confidence, and a step-up recommendation.
func NotReadyEstimate() Estimate {
	return Estimate{
		RiskScore:      0.5,
		Confidence:     0.1,
		Recommendation: RecommendStepUp,
	}
}

// Estimator gates a Model behind a readiness flag so models can load in the
// background. Score never blocks: before the model arrives it returns the
// not-ready estimate.
type Estimator struct {
	mu     sync.RWMutex
	model  Model
	ready  atomic.Bool
	logger *slog.Logger
}

func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{logger: logger}
}

// SetModel installs a model immediately and marks the estimator ready.
func (e *Estimator) SetModel(m Model) {
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
	e.ready.Store(m != nil)
}

// LoadAsync runs the loader on its own goroutine and installs the model when
// it finishes. A loader failure leaves the estimator not ready; scoring
// continues on the fallback in the meantime.
func (e *Estimator) LoadAsync(load func() (Model, error)) {
	go func() {
		model, err := load()
		if err != nil {
			e.logger.Error("model load failed, estimator stays on fallback", "error", err)
			return
		}
		e.SetModel(model)
		e.logger.Info("risk model loaded")
	}()
}

// Ready reports whether a model is installed.
func (e *Estimator) Ready() bool {
	return e.ready.Load()
}

// Score produces the preliminary estimate for one session.
func (e *Estimator) Score(v biometric.FeatureVector) Estimate {
	if !e.ready.Load() {
		return NotReadyEstimate()
	}

	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()
	if model == nil {
		return NotReadyEstimate()
	}

	return model.Score(v)
}
