package fixtures

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
)

// ChallengeBuilder builds step-up challenges in arbitrary lifecycle states.
type ChallengeBuilder struct {
	t        *testing.T
	owner    uuid.UUID
	kind     challenge.Kind
	prompt   string
	answer   string
	hints    []string
	attempts int
	complete bool
	expired  bool
}

// NewChallengeBuilder creates a builder for a fresh math challenge.
func NewChallengeBuilder(t *testing.T) *ChallengeBuilder {
	t.Helper()
	owner, err := uuid.NewRandom()
	require.NoError(t, err)

	return &ChallengeBuilder{
		t:      t,
		owner:  owner,
		kind:   challenge.KindMath,
		prompt: "What is 6 x 7?",
		answer: "42",
		hints:  []string{"Enter the number only"},
	}
}

// WithOwner sets the identity the challenge was issued to
func (b *ChallengeBuilder) WithOwner(owner uuid.UUID) *ChallengeBuilder {
	b.owner = owner
	return b
}

// WithKind sets the challenge kind
func (b *ChallengeBuilder) WithKind(kind challenge.Kind) *ChallengeBuilder {
	b.kind = kind
	return b
}

// WithPrompt sets the prompt and expected answer together
func (b *ChallengeBuilder) WithPrompt(prompt, answer string) *ChallengeBuilder {
	b.prompt = prompt
	b.answer = answer
	return b
}

// WithAttemptsUsed marks n attempts as already consumed
func (b *ChallengeBuilder) WithAttemptsUsed(n int) *ChallengeBuilder {
	b.attempts = n
	return b
}

// Completed marks the challenge as already solved
func (b *ChallengeBuilder) Completed() *ChallengeBuilder {
	b.complete = true
	return b
}

// Expired backdates the challenge past its TTL
func (b *ChallengeBuilder) Expired() *ChallengeBuilder {
	b.expired = true
	return b
}

// Build creates the challenge
func (b *ChallengeBuilder) Build() *challenge.Challenge {
	ch, err := challenge.New(b.owner, b.kind, b.prompt, b.answer, b.hints)
	require.NoError(b.t, err)

	for i := 0; i < b.attempts; i++ {
		ch.RecordAttempt()
	}
	if b.complete {
		ch.Complete()
	}
	if b.expired {
		ch.CreatedAt = ch.CreatedAt.Add(-2 * challenge.DefaultTTL)
		ch.ExpiresAt = ch.ExpiresAt.Add(-2 * challenge.DefaultTTL)
	}
	return ch
}
