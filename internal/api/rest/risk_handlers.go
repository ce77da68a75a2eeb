package rest

import (
	"context"
	"net/http"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/keystroke"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/localrisk"
)

// handleScorePreview extracts features from a capture session and returns the
// preliminary estimate on them. Nothing is verified or stored; clients call
// this to see how a session reads before submitting it with credentials.
func (h *Handler) handleScorePreview(ctx context.Context, r *http.Request) (interface{}, error) {
	var req ScoreRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	var features biometric.FeatureVector
	switch {
	case req.Features != nil:
		features = *req.Features
	case len(req.Events) > 0:
		rec := keystroke.NewRecorder()
		rec.Replay(req.Events)
		features = rec.Features()
	default:
		return nil, &ValidationError{Message: "keystroke features or raw events are required"}
	}

	if err := features.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if features.IsEmpty() {
		return nil, &ValidationError{Message: "session contains no keystrokes"}
	}

	estimate := localrisk.NotReadyEstimate()
	if h.services.Scorer != nil {
		estimate = h.services.Scorer.Score(features)
	}

	return newScoreResponse(features, estimate), nil
}
