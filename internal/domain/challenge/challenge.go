package challenge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a challenge stays answerable after creation.
const DefaultTTL = 5 * time.Minute

// MaxAttempts bounds how many solutions one challenge will accept.
const MaxAttempts = 3

type Kind int

const (
	KindMath Kind = iota
	KindPattern
	KindMemory
	KindCaptcha
	KindSecurityQuestion
)

// Kinds lists every challenge kind, in selection order.
var Kinds = []Kind{KindMath, KindPattern, KindMemory, KindCaptcha, KindSecurityQuestion}

func (k Kind) String() string {
	switch k {
	case KindMath:
		return "math"
	case KindPattern:
		return "pattern"
	case KindMemory:
		return "memory"
	case KindCaptcha:
		return "captcha"
	case KindSecurityQuestion:
		return "security_question"
	default:
		return "unknown"
	}
}

// Challenge is one pending step-up verification. ExpectedAnswer never leaves
// the server; clients see a PublicView.
type Challenge struct {
	ID             uuid.UUID `json:"id"`
	OwnerIdentity  uuid.UUID `json:"owner_identity"`
	Kind           Kind      `json:"kind"`
	Prompt         string    `json:"prompt"`
	ExpectedAnswer string    `json:"-"`
	Hints          []string  `json:"hints,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	Completed      bool      `json:"completed"`
}

// PublicView is the client-safe projection of a challenge.
type PublicView struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	Prompt      string    `json:"prompt"`
	Hints       []string  `json:"hints,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxAttempts int       `json:"max_attempts"`
}

func New(owner uuid.UUID, kind Kind, prompt, expectedAnswer string, hints []string) (*Challenge, error) {
	if owner == uuid.Nil {
		return nil, fmt.Errorf("owner identity cannot be nil")
	}
	if kind < KindMath || kind > KindSecurityQuestion {
		return nil, fmt.Errorf("invalid challenge kind")
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	if expectedAnswer == "" {
		return nil, fmt.Errorf("expected answer cannot be empty")
	}

	now := clock.Now()
	return &Challenge{
		ID:             uuid.New(),
		OwnerIdentity:  owner,
		Kind:           kind,
		Prompt:         prompt,
		ExpectedAnswer: expectedAnswer,
		Hints:          hints,
		CreatedAt:      now,
		ExpiresAt:      now.Add(DefaultTTL),
		Attempts:       0,
		MaxAttempts:    MaxAttempts,
	}, nil
}

// IsExpired reports whether the challenge has outlived its TTL.
func (c *Challenge) IsExpired() bool {
	return clock.Now().After(c.ExpiresAt)
}

// AttemptsExhausted reports whether every allowed attempt has been spent.
func (c *Challenge) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// RemainingAttempts returns how many attempts the owner has left.
func (c *Challenge) RemainingAttempts() int {
	remaining := c.MaxAttempts - c.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordAttempt consumes one attempt.
func (c *Challenge) RecordAttempt() {
	c.Attempts++
}

// Complete marks the challenge solved.
func (c *Challenge) Complete() {
	c.Completed = true
}

// View returns the client-safe projection.
func (c *Challenge) View() PublicView {
	return PublicView{
		ID:          c.ID,
		Kind:        c.Kind.String(),
		Prompt:      c.Prompt,
		Hints:       c.Hints,
		ExpiresAt:   c.ExpiresAt,
		MaxAttempts: c.MaxAttempts,
	}
}
