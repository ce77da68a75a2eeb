package biometric

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxSamples bounds how much history a profile retains. Appending beyond the
// bound evicts the oldest sample first.
const MaxSamples = 50

// SampleSummary is the compact per-session record kept in a profile's history.
// HoldJerkVariance is nil when the session was too short to measure rhythm
// (fewer than three hold samples).
type SampleSummary struct {
	AvgHoldTime      float64   `json:"avg_hold_time"`
	AvgFlightTime    float64   `json:"avg_flight_time"`
	HoldVariance     float64   `json:"hold_variance"`
	FlightVariance   float64   `json:"flight_variance"`
	ErrorRate        float64   `json:"error_rate"`
	TypingSpeedWPM   float64   `json:"typing_speed_wpm"`
	HoldJerkVariance *float64  `json:"hold_jerk_variance,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Profile is the longitudinal typing baseline for one identity. Samples are
// ordered oldest first; Append is the only mutation.
type Profile struct {
	Identity  uuid.UUID       `json:"identity"`
	Samples   []SampleSummary `json:"samples"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewProfile(identity uuid.UUID) (*Profile, error) {
	if identity == uuid.Nil {
		return nil, fmt.Errorf("identity cannot be nil")
	}

	now := clock.Now()
	return &Profile{
		Identity:  identity,
		Samples:   make([]SampleSummary, 0, MaxSamples),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Append adds a session summary to the history, evicting the oldest entry
// once the bound is reached.
func (p *Profile) Append(s SampleSummary) {
	if len(p.Samples) >= MaxSamples {
		p.Samples = p.Samples[1:]
	}
	p.Samples = append(p.Samples, s)
	p.UpdatedAt = clock.Now()
}

// SampleCount returns how many session summaries the profile holds.
func (p *Profile) SampleCount() int {
	return len(p.Samples)
}

// AgeAt returns how long the profile has existed as of now.
func (p *Profile) AgeAt(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// AvgHoldTimes extracts the per-session mean hold times, oldest first.
func (p *Profile) AvgHoldTimes() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.AvgHoldTime
	}
	return out
}

// AvgFlightTimes extracts the per-session mean flight times, oldest first.
func (p *Profile) AvgFlightTimes() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.AvgFlightTime
	}
	return out
}

// TypingSpeeds extracts the per-session words-per-minute values, oldest first.
func (p *Profile) TypingSpeeds() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.TypingSpeedWPM
	}
	return out
}

// ErrorRates extracts the per-session error rates, oldest first.
func (p *Profile) ErrorRates() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.ErrorRate
	}
	return out
}
