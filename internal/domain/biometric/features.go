package biometric

import (
	"fmt"
	"math"
)

// FeatureVector holds the statistical summary of one typing session. All
// timings are milliseconds. The raw hold and flight samples ride along so
// downstream scoring can work on the timing sequence, not just its moments.
type FeatureVector struct {
	MeanHoldTime     float64 `json:"mean_hold_time"`
	MeanFlightTime   float64 `json:"mean_flight_time"`
	HoldTimeStdDev   float64 `json:"hold_time_std_dev"`
	FlightTimeStdDev float64 `json:"flight_time_std_dev"`
	TypingSpeedWPM   float64 `json:"typing_speed_wpm"`
	ErrorRate        float64 `json:"error_rate"`
	ConsistencyScore float64 `json:"consistency_score"`
	KeystrokeCount   int     `json:"keystroke_count"`

	HoldTimes   []float64 `json:"hold_times,omitempty"`
	FlightTimes []float64 `json:"flight_times,omitempty"`
}

// Validate rejects vectors that cannot have come from a real capture session.
func (v FeatureVector) Validate() error {
	if v.KeystrokeCount < 0 {
		return fmt.Errorf("keystroke count cannot be negative")
	}
	for name, val := range map[string]float64{
		"mean_hold_time":      v.MeanHoldTime,
		"mean_flight_time":    v.MeanFlightTime,
		"hold_time_std_dev":   v.HoldTimeStdDev,
		"flight_time_std_dev": v.FlightTimeStdDev,
		"typing_speed_wpm":    v.TypingSpeedWPM,
		"error_rate":          v.ErrorRate,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
			return fmt.Errorf("invalid %s: %v", name, val)
		}
	}
	if v.ConsistencyScore < 0 || v.ConsistencyScore > 100 {
		return fmt.Errorf("consistency score out of range: %v", v.ConsistencyScore)
	}
	return nil
}

// IsEmpty reports whether the vector carries no usable signal.
func (v FeatureVector) IsEmpty() bool {
	return v.KeystrokeCount == 0
}

// HoldVariance returns the variance of the session's hold samples.
func (v FeatureVector) HoldVariance() float64 {
	return Variance(v.HoldTimes)
}

// FlightVariance returns the variance of the session's flight samples.
func (v FeatureVector) FlightVariance() float64 {
	return Variance(v.FlightTimes)
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance of xs, 0 for fewer than two samples.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}
