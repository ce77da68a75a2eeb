package fixtures

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// FeatureVectorBuilder builds internally consistent typing session vectors.
// Samples are synthesized around the configured means with a seeded source,
// then the statistics are recomputed from the samples so the vector matches
// what a real capture session would produce.
type FeatureVectorBuilder struct {
	t          *testing.T
	meanHold   float64
	meanFlight float64
	jitter     float64
	count      int
	errorRate  float64
	seed       int64
}

// NewFeatureVectorBuilder creates a builder for a steady typist: ~95ms holds,
// ~135ms flights, small jitter, 40 keystrokes.
func NewFeatureVectorBuilder(t *testing.T) *FeatureVectorBuilder {
	t.Helper()
	return &FeatureVectorBuilder{
		t:          t,
		meanHold:   95,
		meanFlight: 135,
		jitter:     6,
		count:      40,
		errorRate:  2.5,
		seed:       1,
	}
}

// WithMeanHold sets the target mean hold time in milliseconds
func (b *FeatureVectorBuilder) WithMeanHold(ms float64) *FeatureVectorBuilder {
	b.meanHold = ms
	return b
}

// WithMeanFlight sets the target mean flight time in milliseconds
func (b *FeatureVectorBuilder) WithMeanFlight(ms float64) *FeatureVectorBuilder {
	b.meanFlight = ms
	return b
}

// WithJitter sets the sample spread around the means
func (b *FeatureVectorBuilder) WithJitter(ms float64) *FeatureVectorBuilder {
	b.jitter = ms
	return b
}

// WithKeystrokes sets how many keystrokes the session contains
func (b *FeatureVectorBuilder) WithKeystrokes(n int) *FeatureVectorBuilder {
	b.count = n
	return b
}

// WithErrorRate sets the session error rate percentage
func (b *FeatureVectorBuilder) WithErrorRate(pct float64) *FeatureVectorBuilder {
	b.errorRate = pct
	return b
}

// WithSeed changes the sample synthesis seed
func (b *FeatureVectorBuilder) WithSeed(seed int64) *FeatureVectorBuilder {
	b.seed = seed
	return b
}

// Build synthesizes the samples and derives the vector statistics from them
func (b *FeatureVectorBuilder) Build() biometric.FeatureVector {
	rng := rand.New(rand.NewSource(b.seed))

	holds := make([]float64, b.count)
	flights := make([]float64, 0, b.count)
	for i := range holds {
		holds[i] = b.meanHold + (rng.Float64()*2-1)*b.jitter
		if i > 0 {
			flights = append(flights, b.meanFlight+(rng.Float64()*2-1)*b.jitter)
		}
	}

	holdVar := biometric.Variance(holds)
	flightVar := biometric.Variance(flights)

	elapsedMin := (b.meanFlight + b.meanHold) * float64(b.count) / 1000 / 60
	wpm := 0.0
	if elapsedMin > 0 {
		wpm = (float64(b.count) / 5) / elapsedMin
	}

	return biometric.FeatureVector{
		MeanHoldTime:     biometric.Mean(holds),
		MeanFlightTime:   biometric.Mean(flights),
		HoldTimeStdDev:   biometric.StdDev(holds),
		FlightTimeStdDev: biometric.StdDev(flights),
		TypingSpeedWPM:   wpm,
		ErrorRate:        b.errorRate,
		ConsistencyScore: consistencyFrom(holdVar, flightVar),
		KeystrokeCount:   b.count,
		HoldTimes:        holds,
		FlightTimes:      flights,
	}
}

func consistencyFrom(holdVar, flightVar float64) float64 {
	score := func(v float64) float64 {
		s := 100 - v/10
		if s < 0 {
			return 0
		}
		if s > 100 {
			return 100
		}
		return s
	}
	return (score(holdVar) + score(flightVar)) / 2
}

// ProfileBuilder builds biometric baselines with configurable history.
type ProfileBuilder struct {
	t         *testing.T
	identity  uuid.UUID
	createdAt time.Time
	samples   []biometric.SampleSummary
}

// NewProfileBuilder creates a builder for a mature profile: 25 consistent
// sessions, created 60 days ago.
func NewProfileBuilder(t *testing.T) *ProfileBuilder {
	t.Helper()
	identity, err := uuid.NewRandom()
	require.NoError(t, err)

	b := &ProfileBuilder{
		t:         t,
		identity:  identity,
		createdAt: time.Now().Add(-60 * 24 * time.Hour),
	}
	return b.WithConsistentHistory(25, 95, 135)
}

// WithIdentity sets the profile owner
func (b *ProfileBuilder) WithIdentity(id uuid.UUID) *ProfileBuilder {
	b.identity = id
	return b
}

// WithAge sets how long ago the profile was created
func (b *ProfileBuilder) WithAge(age time.Duration) *ProfileBuilder {
	b.createdAt = time.Now().Add(-age)
	return b
}

// WithConsistentHistory replaces the history with n sessions clustered
// tightly around the given hold and flight means. The ancillary statistics
// mirror what NewFeatureVectorBuilder produces at its default jitter, so a
// default vector reads as a baseline match.
func (b *ProfileBuilder) WithConsistentHistory(n int, meanHold, meanFlight float64) *ProfileBuilder {
	rng := rand.New(rand.NewSource(7))
	b.samples = make([]biometric.SampleSummary, n)
	for i := range b.samples {
		jerk := 23 + rng.Float64()*2
		b.samples[i] = biometric.SampleSummary{
			AvgHoldTime:      meanHold + (rng.Float64()*2-1)*2,
			AvgFlightTime:    meanFlight + (rng.Float64()*2-1)*3,
			HoldVariance:     11.5 + rng.Float64(),
			FlightVariance:   11.5 + rng.Float64(),
			ErrorRate:        2 + rng.Float64(),
			TypingSpeedWPM:   51.5 + rng.Float64()*1.5,
			HoldJerkVariance: &jerk,
			CreatedAt:        b.createdAt.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return b
}

// WithSamples replaces the history outright
func (b *ProfileBuilder) WithSamples(samples ...biometric.SampleSummary) *ProfileBuilder {
	b.samples = samples
	return b
}

// WithSampleCount trims or repeats the consistent history to exactly n entries
func (b *ProfileBuilder) WithSampleCount(n int) *ProfileBuilder {
	return b.WithConsistentHistory(n, 95, 135)
}

// Build creates the Profile
func (b *ProfileBuilder) Build() *biometric.Profile {
	return &biometric.Profile{
		Identity:  b.identity,
		Samples:   append([]biometric.SampleSummary(nil), b.samples...),
		CreatedAt: b.createdAt,
		UpdatedAt: time.Now(),
	}
}

// BiometricScenarios provides common capture test scenarios
type BiometricScenarios struct {
	t *testing.T
}

// NewBiometricScenarios creates a new BiometricScenarios helper
func NewBiometricScenarios(t *testing.T) *BiometricScenarios {
	t.Helper()
	return &BiometricScenarios{t: t}
}

// MatchedPair returns a mature profile plus a session vector that closely
// matches its baseline, the shape a legitimate returning user produces.
func (bs *BiometricScenarios) MatchedPair() (*biometric.Profile, biometric.FeatureVector) {
	profile := NewProfileBuilder(bs.t).Build()
	vector := NewFeatureVectorBuilder(bs.t).Build()
	return profile, vector
}

// MismatchedPair returns a mature profile plus a session vector far from its
// baseline, the shape an impostor produces.
func (bs *BiometricScenarios) MismatchedPair() (*biometric.Profile, biometric.FeatureVector) {
	profile := NewProfileBuilder(bs.t).Build()
	vector := NewFeatureVectorBuilder(bs.t).
		WithMeanHold(210).
		WithMeanFlight(320).
		WithJitter(45).
		WithErrorRate(14).
		Build()
	return profile, vector
}

// ShortSession returns a vector from a session too short to measure rhythm
func (bs *BiometricScenarios) ShortSession() biometric.FeatureVector {
	return NewFeatureVectorBuilder(bs.t).WithKeystrokes(2).Build()
}
