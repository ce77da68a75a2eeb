package stepup

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
	"github.com/davidleathers/adaptive-auth-backend/internal/testutil/fixtures"
)

func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithSeed(42), WithSweepInterval(time.Hour)}, opts...)
	m := NewManager(opts...)
	t.Cleanup(m.Close)
	return m
}

// answerFor reads the stored expected answer so tests can solve challenges
// without depending on generator internals.
func answerFor(t *testing.T, m *Manager, id uuid.UUID) string {
	t.Helper()
	m.mu.RLock()
	en, ok := m.entries[id]
	m.mu.RUnlock()
	require.True(t, ok, "challenge %s not in store", id)

	en.mu.Lock()
	defer en.mu.Unlock()
	require.NotNil(t, en.ch)
	return en.ch.ExpectedAnswer
}

// inject places a pre-built challenge directly into the store so tests can
// cover lifecycle states the public API cannot produce on demand.
func inject(m *Manager, ch *challenge.Challenge) {
	m.mu.Lock()
	m.entries[ch.ID] = &entry{ch: ch}
	m.mu.Unlock()
}

func TestManager_Create(t *testing.T) {
	mock := &challenge.MockClock{CurrentTime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	challenge.SetClock(mock)
	defer challenge.ResetClock()

	m := newTestManager(t)
	ctx := context.Background()
	owner := uuid.New()

	t.Run("issues a well-formed public view", func(t *testing.T) {
		view, err := m.Create(ctx, owner)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, view.ID)
		assert.NotEmpty(t, view.Prompt)
		assert.Equal(t, challenge.MaxAttempts, view.MaxAttempts)
		assert.Equal(t, mock.CurrentTime.Add(challenge.DefaultTTL), view.ExpiresAt)
	})

	t.Run("honors a pinned kind", func(t *testing.T) {
		view, err := m.Create(ctx, owner, challenge.KindMath)
		require.NoError(t, err)
		assert.Equal(t, "math", view.Kind)
	})

	t.Run("rejects a nil owner", func(t *testing.T) {
		_, err := m.Create(ctx, uuid.Nil)
		require.Error(t, err)
	})
}

func TestManager_KindSelectionCoversAllKinds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	owner := uuid.New()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		view, err := m.Create(ctx, owner)
		require.NoError(t, err)
		seen[view.Kind] = true
	}

	for _, kind := range challenge.Kinds {
		assert.True(t, seen[kind.String()], "kind %s never selected", kind)
	}
}

func TestManager_VerifyCorrectAnswer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	owner := uuid.New()

	view, err := m.Create(ctx, owner, challenge.KindMath)
	require.NoError(t, err)
	answer := answerFor(t, m, view.ID)

	result := m.Verify(ctx, view.ID, answer)
	assert.Equal(t, challenge.VerifyAccepted, result.Status)
	assert.Equal(t, owner, result.Owner)
	assert.Equal(t, 1, result.AttemptsUsed)

	// A solved challenge cannot be replayed for another acceptance.
	again := m.Verify(ctx, view.ID, answer)
	assert.Equal(t, challenge.VerifyRejected, again.Status)
	assert.Equal(t, challenge.ReasonAlreadyCompleted, again.Reason)
}

func TestManager_VerifyWrongThenCorrect(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	view, err := m.Create(ctx, uuid.New(), challenge.KindCaptcha)
	require.NoError(t, err)
	answer := answerFor(t, m, view.ID)

	first := m.Verify(ctx, view.ID, "definitely wrong")
	assert.Equal(t, challenge.VerifyRetry, first.Status)
	assert.Equal(t, 2, first.AttemptsRemaining)

	second := m.Verify(ctx, view.ID, "still wrong")
	assert.Equal(t, challenge.VerifyRetry, second.Status)
	assert.Equal(t, 1, second.AttemptsRemaining)

	third := m.Verify(ctx, view.ID, answer)
	assert.Equal(t, challenge.VerifyAccepted, third.Status)
	assert.Equal(t, 3, third.AttemptsUsed)
}

func TestManager_ExhaustionSequence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	view, err := m.Create(ctx, uuid.New(), challenge.KindMemory)
	require.NoError(t, err)

	first := m.Verify(ctx, view.ID, "wrong one")
	require.Equal(t, challenge.VerifyRetry, first.Status)
	require.Equal(t, 2, first.AttemptsRemaining)

	second := m.Verify(ctx, view.ID, "wrong two")
	require.Equal(t, challenge.VerifyRetry, second.Status)
	require.Equal(t, 1, second.AttemptsRemaining)

	third := m.Verify(ctx, view.ID, "wrong three")
	require.Equal(t, challenge.VerifyRejected, third.Status)
	require.Equal(t, challenge.ReasonExhausted, third.Reason)

	// The exhausted challenge is gone; even the right answer cannot revive it.
	fourth := m.Verify(ctx, view.ID, "wrong four")
	assert.Equal(t, challenge.VerifyRejected, fourth.Status)
	assert.Equal(t, challenge.ReasonNotFound, fourth.Reason)

	assert.Equal(t, 0, m.Active())
}

func TestManager_VerifyUnknownChallenge(t *testing.T) {
	m := newTestManager(t)

	result := m.Verify(context.Background(), uuid.New(), "anything")
	assert.Equal(t, challenge.VerifyRejected, result.Status)
	assert.Equal(t, challenge.ReasonNotFound, result.Reason)
}

func TestManager_VerifyInjectedStates(t *testing.T) {
	ctx := context.Background()

	t.Run("completed challenge stays rejected", func(t *testing.T) {
		m := newTestManager(t)
		ch := fixtures.NewChallengeBuilder(t).Completed().Build()
		inject(m, ch)

		result := m.Verify(ctx, ch.ID, "42")
		assert.Equal(t, challenge.VerifyRejected, result.Status)
		assert.Equal(t, challenge.ReasonAlreadyCompleted, result.Reason)
	})

	t.Run("exhausted challenge is rejected and dropped", func(t *testing.T) {
		m := newTestManager(t)
		ch := fixtures.NewChallengeBuilder(t).WithAttemptsUsed(challenge.MaxAttempts).Build()
		inject(m, ch)

		result := m.Verify(ctx, ch.ID, "42")
		assert.Equal(t, challenge.VerifyRejected, result.Status)
		assert.Equal(t, challenge.ReasonExhausted, result.Reason)
		assert.Equal(t, 0, m.Active())
	})

	t.Run("expired challenge is rejected and dropped", func(t *testing.T) {
		m := newTestManager(t)
		ch := fixtures.NewChallengeBuilder(t).Expired().Build()
		inject(m, ch)

		result := m.Verify(ctx, ch.ID, "42")
		assert.Equal(t, challenge.VerifyRejected, result.Status)
		assert.Equal(t, challenge.ReasonExpired, result.Reason)
		assert.Equal(t, 0, m.Active())
	})

	t.Run("fresh injected challenge accepts its answer", func(t *testing.T) {
		m := newTestManager(t)
		owner := uuid.New()
		ch := fixtures.NewChallengeBuilder(t).
			WithOwner(owner).
			WithKind(challenge.KindPattern).
			WithPrompt("What number comes next: 2, 4, 6, 8, ...?", "10").
			Build()
		inject(m, ch)

		result := m.Verify(ctx, ch.ID, "10")
		assert.Equal(t, challenge.VerifyAccepted, result.Status)
		assert.Equal(t, owner, result.Owner)
		assert.Equal(t, 1, result.AttemptsUsed)
	})
}

func TestManager_ExpiryBeatsCorrectAnswer(t *testing.T) {
	mock := &challenge.MockClock{CurrentTime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	challenge.SetClock(mock)
	defer challenge.ResetClock()

	m := newTestManager(t)
	ctx := context.Background()

	view, err := m.Create(ctx, uuid.New(), challenge.KindMath)
	require.NoError(t, err)
	answer := answerFor(t, m, view.ID)

	mock.Advance(challenge.DefaultTTL + time.Second)

	result := m.Verify(ctx, view.ID, answer)
	assert.Equal(t, challenge.VerifyRejected, result.Status)
	assert.Equal(t, challenge.ReasonExpired, result.Reason)

	again := m.Verify(ctx, view.ID, answer)
	assert.Equal(t, challenge.ReasonNotFound, again.Reason)
	assert.Equal(t, 0, m.Active())
}

func TestManager_SweepRemovesExpired(t *testing.T) {
	mock := &challenge.MockClock{CurrentTime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	challenge.SetClock(mock)
	t.Cleanup(challenge.ResetClock)

	// Registered after the clock reset so the sweeper is joined before the
	// clock changes out from under it.
	m := NewManager(WithSeed(7), WithSweepInterval(5*time.Millisecond))
	t.Cleanup(m.Close)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, uuid.New())
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Active())

	mock.Advance(challenge.DefaultTTL + time.Minute)

	require.Eventually(t, func() bool {
		return m.Active() == 0
	}, 2*time.Second, 5*time.Millisecond, "sweep never cleared expired challenges")
}

func TestManager_ConcurrentVerifyOnFinalAttempt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	owner := uuid.New()

	view, err := m.Create(ctx, owner, challenge.KindMath)
	require.NoError(t, err)
	answer := answerFor(t, m, view.ID)

	const workers = 8
	results := make([]challenge.VerifyResult, workers)

	var start sync.WaitGroup
	var done sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i] = m.Verify(ctx, view.ID, answer)
		}(i)
	}
	start.Done()
	done.Wait()

	accepted := 0
	for _, r := range results {
		switch r.Status {
		case challenge.VerifyAccepted:
			accepted++
			assert.Equal(t, owner, r.Owner)
		case challenge.VerifyRejected:
			assert.Equal(t, challenge.ReasonAlreadyCompleted, r.Reason)
		default:
			t.Fatalf("unexpected status %s", r.Status)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one caller may solve a challenge")
}

func TestManager_ConcurrentWrongAnswers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	view, err := m.Create(ctx, uuid.New(), challenge.KindCaptcha)
	require.NoError(t, err)

	const workers = 10
	results := make([]challenge.VerifyResult, workers)

	var start sync.WaitGroup
	var done sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i] = m.Verify(ctx, view.ID, fmt.Sprintf("wrong %d", i))
		}(i)
	}
	start.Done()
	done.Wait()

	var retries, exhausted, notFound int
	for _, r := range results {
		switch {
		case r.Status == challenge.VerifyRetry:
			retries++
		case r.Reason == challenge.ReasonExhausted:
			exhausted++
		case r.Reason == challenge.ReasonNotFound:
			notFound++
		default:
			t.Fatalf("unexpected result %+v", r)
		}
	}

	// Three attempts exist: two produce retries, the third exhausts and
	// deletes, and everyone else finds nothing.
	assert.Equal(t, 2, retries)
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, workers-3, notFound)
	assert.Equal(t, 0, m.Active())
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := NewManager(WithSeed(1))
	m.Close()
	m.Close()
}

func TestGenerators_AnswersSolveTheirOwnChallenges(t *testing.T) {
	owner := uuid.New()

	for _, kind := range challenge.Kinds {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			for seed := int64(0); seed < 200; seed++ {
				rng := newSeededRand(seed)
				spec := generate(kind, rng)

				require.NotEmpty(t, spec.prompt, "seed %d", seed)
				require.NotEmpty(t, spec.answer, "seed %d", seed)
				require.NotEmpty(t, spec.hints, "seed %d", seed)

				ch, err := challenge.New(owner, kind, spec.prompt, spec.answer, spec.hints)
				require.NoError(t, err)
				assert.True(t, ch.Matches(spec.answer),
					"seed %d: answer %q does not solve prompt %q", seed, spec.answer, spec.prompt)
			}
		})
	}
}

func TestGenerators_MathAnswersAreNumeric(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		spec := generateMath(newSeededRand(seed))
		_, err := strconv.Atoi(spec.answer)
		require.NoError(t, err, "seed %d produced non-numeric answer %q", seed, spec.answer)
	}
}

func TestGenerators_CaptchaAvoidsConfusableCharacters(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		spec := generateCaptcha(newSeededRand(seed))

		require.Len(t, spec.answer, captchaLength)
		for _, r := range spec.answer {
			assert.True(t, strings.ContainsRune(captchaAlphabet, r),
				"seed %d: captcha %q contains %q", seed, spec.answer, r)
		}
		assert.NotContains(t, spec.answer, "0")
		assert.NotContains(t, spec.answer, "1")
		assert.NotContains(t, spec.answer, "l")
		assert.NotContains(t, spec.answer, "o")
	}
}

func TestGenerators_MemorySequencesAreDigits(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		spec := generateMemory(newSeededRand(seed))

		digits := strings.Fields(spec.answer)
		require.GreaterOrEqual(t, len(digits), 4, "seed %d", seed)
		require.LessOrEqual(t, len(digits), 6, "seed %d", seed)
		for _, d := range digits {
			n, err := strconv.Atoi(d)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 0)
			assert.LessOrEqual(t, n, 9)
		}
	}
}
