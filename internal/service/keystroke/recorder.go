package keystroke

import (
	"time"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// EventKind distinguishes key presses from releases.
type EventKind int

const (
	KeyDown EventKind = iota
	KeyUp
)

func (k EventKind) String() string {
	switch k {
	case KeyDown:
		return "down"
	case KeyUp:
		return "up"
	default:
		return "unknown"
	}
}

// Event is one raw keyboard event as captured on the client. Key follows the
// KeyboardEvent.key convention ("a", "Enter", "Backspace", "Shift").
type Event struct {
	Key  string    `json:"key"`
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
}

// ignoredKeys are modifiers and navigation keys that carry no typing rhythm.
var ignoredKeys = map[string]struct{}{
	"Shift": {}, "Control": {}, "Alt": {}, "Meta": {}, "CapsLock": {},
	"Tab": {}, "Escape": {}, "ArrowUp": {}, "ArrowDown": {}, "ArrowLeft": {},
	"ArrowRight": {}, "Home": {}, "End": {}, "PageUp": {}, "PageDown": {},
	"Insert": {}, "NumLock": {}, "ScrollLock": {}, "ContextMenu": {},
}

// correctionKeys count toward volume and the error rate but never open a
// timing record.
var correctionKeys = map[string]struct{}{
	"Backspace": {},
	"Delete":    {},
}

// Recorder accumulates one capture session's raw timing samples and derives
// the feature vector from them. It is not safe for concurrent use; hold one
// Recorder per session.
type Recorder struct {
	pending     map[string]time.Time
	lastRelease time.Time
	hasRelease  bool
	firstPress  time.Time
	hasFirst    bool
	lastEvent   time.Time

	holds       []float64
	flights     []float64
	keystrokes  int
	corrections int
}

func NewRecorder() *Recorder {
	return &Recorder{
		pending: make(map[string]time.Time),
	}
}

// KeyDown registers a key press at the given instant.
func (r *Recorder) KeyDown(key string, at time.Time) {
	if _, skip := ignoredKeys[key]; skip {
		return
	}
	r.observe(at)

	r.keystrokes++
	if !r.hasFirst {
		r.firstPress = at
		r.hasFirst = true
	}

	if _, isCorrection := correctionKeys[key]; isCorrection {
		r.corrections++
		return
	}

	if r.hasRelease {
		flight := at.Sub(r.lastRelease)
		if flight < 0 {
			// Overlapping presses during rollover typing
			flight = 0
		}
		r.flights = append(r.flights, toMillis(flight))
	}
	r.pending[key] = at
}

// KeyUp registers a key release. Releases without a matching press are
// ignored, as are releases of modifier, navigation, and correction keys.
func (r *Recorder) KeyUp(key string, at time.Time) {
	if _, skip := ignoredKeys[key]; skip {
		return
	}
	if _, isCorrection := correctionKeys[key]; isCorrection {
		return
	}
	r.observe(at)

	pressed, ok := r.pending[key]
	if !ok {
		return
	}
	delete(r.pending, key)

	hold := at.Sub(pressed)
	if hold < 0 {
		return
	}
	r.holds = append(r.holds, toMillis(hold))
	r.lastRelease = at
	r.hasRelease = true
}

// Replay feeds a recorded event stream through the recorder in order.
func (r *Recorder) Replay(events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case KeyDown:
			r.KeyDown(ev.Key, ev.At)
		case KeyUp:
			r.KeyUp(ev.Key, ev.At)
		}
	}
}

// Features derives the session's statistics from the accumulated samples.
// It can be called at any point during capture; each call recomputes from
// scratch.
func (r *Recorder) Features() biometric.FeatureVector {
	holdVar := biometric.Variance(r.holds)
	flightVar := biometric.Variance(r.flights)

	return biometric.FeatureVector{
		MeanHoldTime:     biometric.Mean(r.holds),
		MeanFlightTime:   biometric.Mean(r.flights),
		HoldTimeStdDev:   biometric.StdDev(r.holds),
		FlightTimeStdDev: biometric.StdDev(r.flights),
		TypingSpeedWPM:   r.typingSpeed(),
		ErrorRate:        r.errorRate(),
		ConsistencyScore: (consistencyScore(holdVar) + consistencyScore(flightVar)) / 2,
		KeystrokeCount:   r.keystrokes,
		HoldTimes:        append([]float64(nil), r.holds...),
		FlightTimes:      append([]float64(nil), r.flights...),
	}
}

// Reset clears the session so the recorder can capture a fresh one.
func (r *Recorder) Reset() {
	r.pending = make(map[string]time.Time)
	r.lastRelease = time.Time{}
	r.hasRelease = false
	r.firstPress = time.Time{}
	r.hasFirst = false
	r.lastEvent = time.Time{}
	r.holds = nil
	r.flights = nil
	r.keystrokes = 0
	r.corrections = 0
}

func (r *Recorder) observe(at time.Time) {
	if at.After(r.lastEvent) {
		r.lastEvent = at
	}
}

// typingSpeed is words per minute at five characters per word, measured from
// the first press to the latest event.
func (r *Recorder) typingSpeed() float64 {
	if !r.hasFirst || r.keystrokes == 0 {
		return 0
	}
	elapsed := r.lastEvent.Sub(r.firstPress)
	if elapsed <= 0 {
		return 0
	}
	words := float64(r.keystrokes) / 5
	return words / elapsed.Minutes()
}

// errorRate is the percentage of keystrokes that were corrections.
func (r *Recorder) errorRate() float64 {
	if r.keystrokes == 0 {
		return 0
	}
	return float64(r.corrections) / float64(r.keystrokes) * 100
}

// consistencyScore maps a timing variance onto 0..100, where steadier typing
// scores higher.
func consistencyScore(variance float64) float64 {
	score := 100 - variance/10
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
