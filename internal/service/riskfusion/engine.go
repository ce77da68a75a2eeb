package riskfusion

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// Factor weights. Temporal similarity carries the most signal; the client's
// own estimate is deliberately diluted.
const (
	weightTemporal    = 0.25
	weightBehavioral  = 0.20
	weightConsistency = 0.20
	weightDeviation   = 0.15
	weightVelocity    = 0.10
	weightClient      = 0.10
)

const coldStartConfidence = 0.3

// A history of identical values does not always average back to an exact
// zero spread: summing 25 copies of a non-representable mean leaves a
// stddev around 1e-14 and a variance around 1e-28. Spreads at rounding-noise
// scale are treated as zero instead of being divided by.
const (
	zeroSpreadTolerance = 1e-9
	negligibleVariance  = 1e-9
)

// Factors are the six per-signal risk scores, each in [0,1]. A factor is NaN
// when its inputs were insufficient to compute it; fusion skips NaN factors
// and renormalizes the weights over the rest.
type Factors struct {
	Temporal    float64 `json:"temporal"`
	Behavioral  float64 `json:"behavioral"`
	Consistency float64 `json:"consistency"`
	Deviation   float64 `json:"deviation"`
	Velocity    float64 `json:"velocity"`
	Client      float64 `json:"client"`
}

// Decision is the fused verdict for one session. It is consumed immediately
// by the caller and never persisted.
type Decision struct {
	FinalScore float64 `json:"final_score"`
	Factors    Factors `json:"factors"`
	Confidence float64 `json:"confidence"`
	Analysis   string  `json:"analysis"`
}

// FallbackDecision is the fail-closed verdict returned when evaluation
// itself breaks: high risk, zero confidence.
func FallbackDecision() Decision {
	return Decision{
		FinalScore: 0.8,
		Confidence: 0,
		Analysis:   "evaluation failed; failing closed",
	}
}

// Engine fuses a session's feature vector with the owner's baseline into a
// single risk decision. Evaluate is pure: no I/O, no stored state, and it
// never lets a panic escape.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate scores the session against the profile. clientScore is the
// client-reported preliminary risk in [0,1]; profile may be nil for users
// with no baseline yet.
func (e *Engine) Evaluate(features biometric.FeatureVector, profile *biometric.Profile, clientScore float64) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("risk evaluation panicked, failing closed", "panic", r)
			decision = FallbackDecision()
		}
	}()

	if profile == nil || profile.SampleCount() == 0 {
		factors := Factors{
			Temporal:    0.4,
			Behavioral:  0.4,
			Consistency: 0.5,
			Deviation:   0.3,
			Velocity:    0.3,
			Client:      clientScore,
		}
		return Decision{
			FinalScore: fuse(factors),
			Factors:    factors,
			Confidence: coldStartConfidence,
			Analysis:   "no baseline; cold start defaults applied",
		}
	}

	factors := Factors{
		Temporal:    temporalFactor(features, profile),
		Behavioral:  behavioralFactor(features, profile),
		Consistency: consistencyFactor(features, profile),
		Deviation:   deviationFactor(features, profile),
		Velocity:    velocityFactor(features, profile),
		Client:      clientScore,
	}

	score := fuse(factors)
	return Decision{
		FinalScore: score,
		Factors:    factors,
		Confidence: e.confidence(profile),
		Analysis:   analysis(score, factors, profile),
	}
}

// Summarize reduces a session vector to the compact record a profile keeps.
func (e *Engine) Summarize(features biometric.FeatureVector) biometric.SampleSummary {
	s := biometric.SampleSummary{
		AvgHoldTime:    features.MeanHoldTime,
		AvgFlightTime:  features.MeanFlightTime,
		HoldVariance:   features.HoldVariance(),
		FlightVariance: features.FlightVariance(),
		ErrorRate:      features.ErrorRate,
		TypingSpeedWPM: features.TypingSpeedWPM,
		CreatedAt:      e.now(),
	}
	if len(features.HoldTimes) >= 3 {
		jv := jerkVariance(features.HoldTimes)
		s.HoldJerkVariance = &jv
	}
	return s
}

// temporalFactor compares the session's mean hold and flight times against
// the baseline means. Doubling the relative gap makes the factor saturate
// once the session drifts 50% from baseline.
func temporalFactor(v biometric.FeatureVector, p *biometric.Profile) float64 {
	var parts []float64

	if histHold := biometric.Mean(p.AvgHoldTimes()); histHold > 0 {
		parts = append(parts, clamp01(math.Abs(v.MeanHoldTime-histHold)/histHold*2))
	}
	if histFlight := biometric.Mean(p.AvgFlightTimes()); histFlight > 0 {
		parts = append(parts, clamp01(math.Abs(v.MeanFlightTime-histFlight)/histFlight*2))
	}

	if len(parts) == 0 {
		return math.NaN()
	}
	return biometric.Mean(parts)
}

// behavioralFactor compares error rate and typing speed habits. The error
// delta is taken in fraction terms and amplified so a 20-point swing
// saturates; speed deviation saturates at a third of baseline.
func behavioralFactor(v biometric.FeatureVector, p *biometric.Profile) float64 {
	histErr := biometric.Mean(p.ErrorRates())
	parts := []float64{clamp01(math.Abs(v.ErrorRate-histErr) / 100 * 5)}

	if histWPM := biometric.Mean(p.TypingSpeeds()); histWPM > 0 {
		parts = append(parts, clamp01(math.Abs(v.TypingSpeedWPM-histWPM)/histWPM*3))
	}

	return biometric.Mean(parts)
}

// consistencyFactor compares how steady this session's timing was against
// how steady the user usually is.
func consistencyFactor(v biometric.FeatureVector, p *biometric.Profile) float64 {
	var parts []float64

	holdVars := make([]float64, len(p.Samples))
	flightVars := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		holdVars[i] = s.HoldVariance
		flightVars[i] = s.FlightVariance
	}

	if histHoldVar := biometric.Mean(holdVars); histHoldVar > negligibleVariance {
		parts = append(parts, clamp01(math.Abs(v.HoldVariance()-histHoldVar)/histHoldVar))
	}
	if histFlightVar := biometric.Mean(flightVars); histFlightVar > negligibleVariance {
		parts = append(parts, clamp01(math.Abs(v.FlightVariance()-histFlightVar)/histFlightVar))
	}

	if len(parts) == 0 {
		return math.NaN()
	}
	return biometric.Mean(parts)
}

// deviationFactor measures how many baseline standard deviations the session
// statistics sit from their historical means, normalized so three sigmas
// saturate. A column with under two samples or zero spread contributes a
// zero z-score rather than being skipped.
func deviationFactor(v biometric.FeatureVector, p *biometric.Profile) float64 {
	parts := []float64{
		clamp01(math.Abs(zScore(v.MeanHoldTime, p.AvgHoldTimes())) / 3),
		clamp01(math.Abs(zScore(v.MeanFlightTime, p.AvgFlightTimes())) / 3),
		clamp01(math.Abs(zScore(v.TypingSpeedWPM, p.TypingSpeeds())) / 3),
	}
	return biometric.Mean(parts)
}

// velocityFactor compares the session's typing rhythm, the variance of
// successive hold-time changes, against the baseline rhythm. Sessions too
// short to measure rhythm get a fixed mild score.
func velocityFactor(v biometric.FeatureVector, p *biometric.Profile) float64 {
	if len(v.HoldTimes) < 3 || len(v.FlightTimes) < 3 {
		return 0.3
	}

	var histJerks []float64
	for _, s := range p.Samples {
		if s.HoldJerkVariance != nil {
			histJerks = append(histJerks, *s.HoldJerkVariance)
		}
	}
	histJerk := biometric.Mean(histJerks)
	if len(histJerks) == 0 || histJerk <= negligibleVariance {
		return math.NaN()
	}

	return clamp01(math.Abs(jerkVariance(v.HoldTimes)-histJerk) / histJerk)
}

// jerkVariance is the variance of the first differences of a timing
// sequence, a proxy for rhythm steadiness.
func jerkVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	diffs := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		diffs[i-1] = xs[i] - xs[i-1]
	}
	return biometric.Variance(diffs)
}

func zScore(cur float64, xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := biometric.Mean(xs)
	sd := biometric.StdDev(xs)
	if sd <= zeroSpreadTolerance*math.Abs(mean) {
		return 0
	}
	return (cur - mean) / sd
}

// fuse combines the factors by weighted mean, skipping NaN factors and
// renormalizing over the weights actually used. With nothing usable the
// result is neutral.
func fuse(f Factors) float64 {
	weighted := []struct{ w, v float64 }{
		{weightTemporal, f.Temporal},
		{weightBehavioral, f.Behavioral},
		{weightConsistency, f.Consistency},
		{weightDeviation, f.Deviation},
		{weightVelocity, f.Velocity},
		{weightClient, f.Client},
	}

	var sum, used float64
	for _, e := range weighted {
		if math.IsNaN(e.v) {
			continue
		}
		sum += e.w * e.v
		used += e.w
	}
	if used == 0 {
		return 0.5
	}
	return clamp01(sum / used)
}

// confidence grows with baseline volume (saturating at 20 sessions) and
// baseline age (saturating at 30 days).
func (e *Engine) confidence(p *biometric.Profile) float64 {
	volume := math.Min(float64(p.SampleCount())/20, 1)
	days := p.AgeAt(e.now()).Hours() / 24
	maturity := math.Min(days/30, 1)
	return clamp01((volume + maturity) / 2)
}

func analysis(score float64, f Factors, p *biometric.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "risk %.2f against a baseline of %d sessions", score, p.SampleCount())

	named := []struct {
		name string
		v    float64
	}{
		{"temporal", f.Temporal},
		{"behavioral", f.Behavioral},
		{"consistency", f.Consistency},
		{"deviation", f.Deviation},
		{"velocity", f.Velocity},
		{"client", f.Client},
	}

	var elevated, skipped []string
	for _, n := range named {
		switch {
		case math.IsNaN(n.v):
			skipped = append(skipped, n.name)
		case n.v >= 0.6:
			elevated = append(elevated, n.name)
		}
	}
	if len(elevated) > 0 {
		fmt.Fprintf(&b, "; elevated: %s", strings.Join(elevated, ", "))
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "; insufficient data: %s", strings.Join(skipped, ", "))
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
