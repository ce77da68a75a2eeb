package biometric

import (
	"sync"
	"time"
)

// Clock abstracts time so profile timestamps can be pinned in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a settable clock for tests. Advance may be called while other
// goroutines read the clock through Now.
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

var clock Clock = RealClock{}

// SetClock swaps the package clock. Tests must restore it with ResetClock.
func SetClock(c Clock) {
	clock = c
}

// ResetClock restores the system clock.
func ResetClock() {
	clock = RealClock{}
}
