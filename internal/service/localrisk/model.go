package localrisk

import (
	"math"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

type Recommendation int

const (
	RecommendGrant Recommendation = iota
	RecommendStepUp
	RecommendDeny
)

func (r Recommendation) String() string {
	switch r {
	case RecommendGrant:
		return "grant"
	case RecommendStepUp:
		return "step_up"
	case RecommendDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Estimate is the preliminary verdict a model produces before the server-side
// fusion runs. It is advisory: it feeds the fusion engine's client factor and
// never decides the outcome alone.
type Estimate struct {
	RiskScore      float64        `json:"risk_score"`
	Confidence     float64        `json:"confidence"`
	Recommendation Recommendation `json:"recommendation"`
}

// Model scores a single session vector. Implementations must be safe for
// concurrent use and must not block.
type Model interface {
	Score(v biometric.FeatureVector) Estimate
}

// ReferenceStats is the population distribution a heuristic model scores
// against.
type ReferenceStats struct {
	MeanHold   float64
	StdHold    float64
	MeanFlight float64
	StdFlight  float64
	MeanWPM    float64
	StdWPM     float64
}

// DefaultReferenceStats returns population figures from published typing
// dynamics studies: ~95ms holds, ~140ms flights, ~50 WPM.
func DefaultReferenceStats() ReferenceStats {
	return ReferenceStats{
		MeanHold:   95,
		StdHold:    35,
		MeanFlight: 140,
		StdFlight:  80,
		MeanWPM:    50,
		StdWPM:     20,
	}
}

// HeuristicModel scores sessions by their distance from the reference
// population. It stands in wherever a trained model has not shipped.
type HeuristicModel struct {
	ref ReferenceStats
}

func NewHeuristicModel(ref ReferenceStats) *HeuristicModel {
	return &HeuristicModel{ref: ref}
}

func (m *HeuristicModel) Score(v biometric.FeatureVector) Estimate {
	if v.IsEmpty() {
		return NotReadyEstimate()
	}

	risk := m.populationRisk(v)
	confidence := plausibility(v)

	rec := RecommendStepUp
	switch {
	case risk < 0.3:
		rec = RecommendGrant
	case risk > 0.7:
		rec = RecommendDeny
	}
	if confidence < 0.5 {
		rec = RecommendStepUp
	}

	return Estimate{
		RiskScore:      risk,
		Confidence:     confidence,
		Recommendation: rec,
	}
}

// populationRisk averages the normalized z-distances of the session's hold,
// flight, and speed statistics from the reference distribution.
func (m *HeuristicModel) populationRisk(v biometric.FeatureVector) float64 {
	parts := make([]float64, 0, 3)
	if m.ref.StdHold > 0 {
		parts = append(parts, zPart(v.MeanHoldTime, m.ref.MeanHold, m.ref.StdHold))
	}
	if m.ref.StdFlight > 0 {
		parts = append(parts, zPart(v.MeanFlightTime, m.ref.MeanFlight, m.ref.StdFlight))
	}
	if m.ref.StdWPM > 0 {
		parts = append(parts, zPart(v.TypingSpeedWPM, m.ref.MeanWPM, m.ref.StdWPM))
	}
	if len(parts) == 0 {
		return 0.5
	}
	return biometric.Mean(parts)
}

func zPart(val, mean, std float64) float64 {
	z := math.Abs(val-mean) / std
	return math.Min(z/3, 1)
}

// plausibility starts at full confidence and shrinks for every statistic a
// human typist is unlikely to produce. The floor is 0.1: even absurd input
// keeps a sliver of weight.
func plausibility(v biometric.FeatureVector) float64 {
	confidence := 1.0

	if v.MeanHoldTime < 30 || v.MeanHoldTime > 400 {
		confidence *= 0.6
	}
	if v.MeanFlightTime > 0 && (v.MeanFlightTime < 15 || v.MeanFlightTime > 1200) {
		confidence *= 0.6
	}
	if v.TypingSpeedWPM > 220 || (v.TypingSpeedWPM > 0 && v.TypingSpeedWPM < 5) {
		confidence *= 0.6
	}
	if v.ErrorRate > 30 {
		confidence *= 0.7
	}
	if v.ConsistencyScore < 15 {
		confidence *= 0.7
	}
	if v.KeystrokeCount < 10 {
		confidence *= 0.8
	}

	if confidence < 0.1 {
		return 0.1
	}
	return confidence
}
