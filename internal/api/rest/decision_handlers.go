package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	domainErrors "github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
)

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 100
	defaultStatsWindow   = 24 * time.Hour
)

// handleListDecisions returns the caller's recent risk decisions, newest
// first.
func (h *Handler) handleListDecisions(ctx context.Context, r *http.Request) (interface{}, error) {
	identity, err := identityFromContext(ctx)
	if err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, &ValidationError{Message: "limit must be a positive integer"}
		}
		if n > maxDecisionLimit {
			n = maxDecisionLimit
		}
		limit = n
	}

	events, err := h.services.Events.ListRecent(ctx, identity, limit)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list decisions").WithCause(err)
	}

	decisions := make([]DecisionResponse, 0, len(events))
	for _, event := range events {
		decisions = append(decisions, newDecisionResponse(event))
	}
	return decisions, nil
}

// handleDecisionStats aggregates decision outcomes since a point in time.
// The window accepts either an RFC 3339 timestamp or a duration like 24h.
func (h *Handler) handleDecisionStats(ctx context.Context, r *http.Request) (interface{}, error) {
	if _, err := identityFromContext(ctx); err != nil {
		return nil, domainErrors.NewUnauthorizedError("not authenticated")
	}

	since := time.Now().Add(-defaultStatsWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseSince(raw)
		if err != nil {
			return nil, &ValidationError{Message: "since must be an RFC 3339 timestamp or a duration such as 24h"}
		}
		since = parsed
	}

	outcomes, err := h.services.Events.CountByOutcome(ctx, since)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to aggregate decisions").WithCause(err)
	}

	var total int64
	for _, count := range outcomes {
		total += count
	}

	return DecisionStatsResponse{
		Since:    since,
		Outcomes: outcomes,
		Total:    total,
	}, nil
}

func parseSince(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	if d < 0 {
		d = -d
	}
	return time.Now().Add(-d), nil
}
