package stepup

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
)

// entry wraps one stored challenge with its own lock so concurrent solution
// attempts against the same challenge serialize: exactly one caller can
// consume the final attempt. ch is nil once the entry has been removed.
type entry struct {
	mu sync.Mutex
	ch *challenge.Challenge
}

// Manager owns the step-up challenge lifecycle: creation, verification, and
// expiry. Challenges live in memory; a background sweep clears expired ones
// that nobody came back for.
type Manager struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	rngMu sync.Mutex
	rng   *rand.Rand

	logger     *slog.Logger
	sweepEvery time.Duration

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithSeed makes challenge generation deterministic.
func WithSeed(seed int64) Option {
	return func(m *Manager) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSweepInterval changes how often the expiry sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepEvery = d
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries:    make(map[uuid.UUID]*entry),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     slog.Default(),
		sweepEvery: time.Minute,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.sweepLoop()
	return m
}

// Create issues a new challenge for the owner. The kind is chosen uniformly
// at random unless the caller pins one.
func (m *Manager) Create(ctx context.Context, owner uuid.UUID, kinds ...challenge.Kind) (challenge.PublicView, error) {
	kind := m.pickKind(kinds)

	m.rngMu.Lock()
	spec := generate(kind, m.rng)
	m.rngMu.Unlock()

	ch, err := challenge.New(owner, kind, spec.prompt, spec.answer, spec.hints)
	if err != nil {
		return challenge.PublicView{}, err
	}

	m.mu.Lock()
	m.entries[ch.ID] = &entry{ch: ch}
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "challenge created",
		"challenge_id", ch.ID,
		"kind", kind.String(),
		"expires_at", ch.ExpiresAt,
	)
	return ch.View(), nil
}

// Verify runs one solution attempt through the ordered lifecycle checks:
// unknown, expired, already completed, exhausted, then the answer itself.
// Wrong or malformed solutions are results, never errors.
func (m *Manager) Verify(ctx context.Context, id uuid.UUID, solution string) challenge.VerifyResult {
	m.mu.RLock()
	en, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return challenge.Rejected(challenge.ReasonNotFound)
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	ch := en.ch
	if ch == nil {
		// Removed while we waited on the entry lock
		return challenge.Rejected(challenge.ReasonNotFound)
	}

	if ch.IsExpired() {
		m.removeLocked(en, id)
		return challenge.Rejected(challenge.ReasonExpired)
	}
	if ch.Completed {
		return challenge.Rejected(challenge.ReasonAlreadyCompleted)
	}
	if ch.AttemptsExhausted() {
		m.removeLocked(en, id)
		return challenge.Rejected(challenge.ReasonExhausted)
	}

	ch.RecordAttempt()

	if ch.Matches(solution) {
		ch.Complete()
		m.logger.InfoContext(ctx, "challenge solved",
			"challenge_id", id,
			"attempts", ch.Attempts,
		)
		return challenge.Accepted(ch.OwnerIdentity, ch.Attempts)
	}

	if ch.AttemptsExhausted() {
		m.removeLocked(en, id)
		m.logger.InfoContext(ctx, "challenge exhausted", "challenge_id", id)
		return challenge.Rejected(challenge.ReasonExhausted)
	}

	return challenge.Retry(ch.RemainingAttempts())
}

// Active returns how many live challenges the store holds.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the background sweep and waits for any in-flight sweep to
// finish. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped
	})
}

func (m *Manager) pickKind(kinds []challenge.Kind) challenge.Kind {
	if len(kinds) > 0 {
		return kinds[0]
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return challenge.Kinds[m.rng.Intn(len(challenge.Kinds))]
}

// removeLocked tombstones the entry and drops it from the store. The caller
// must hold the entry lock; the map lock is taken second, which matches the
// ordering everywhere else.
func (m *Manager) removeLocked(en *entry, id uuid.UUID) {
	en.ch = nil
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *Manager) sweepLoop() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if n := m.sweepExpired(); n > 0 {
				m.logger.Debug("expired challenges swept", "count", n)
			}
		}
	}
}

func (m *Manager) sweepExpired() int {
	type pair struct {
		id uuid.UUID
		en *entry
	}

	m.mu.RLock()
	snapshot := make([]pair, 0, len(m.entries))
	for id, en := range m.entries {
		snapshot = append(snapshot, pair{id, en})
	}
	m.mu.RUnlock()

	removed := 0
	for _, p := range snapshot {
		p.en.mu.Lock()
		if p.en.ch != nil && p.en.ch.IsExpired() {
			m.removeLocked(p.en, p.id)
			removed++
		}
		p.en.mu.Unlock()
	}
	return removed
}
