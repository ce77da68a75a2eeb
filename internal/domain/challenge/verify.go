package challenge

import "github.com/google/uuid"

type VerifyStatus int

const (
	VerifyAccepted VerifyStatus = iota
	VerifyRetry
	VerifyRejected
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyAccepted:
		return "accepted"
	case VerifyRetry:
		return "retry"
	case VerifyRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonNotFound
	ReasonExpired
	ReasonAlreadyCompleted
	ReasonExhausted
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonNotFound:
		return "not_found"
	case ReasonExpired:
		return "expired"
	case ReasonAlreadyCompleted:
		return "already_completed"
	case ReasonExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// VerifyResult is the typed outcome of one solution attempt. Wrong answers
// and dead challenges are results, not errors.
type VerifyResult struct {
	Status            VerifyStatus `json:"status"`
	Reason            RejectReason `json:"reason,omitempty"`
	AttemptsUsed      int          `json:"attempts_used,omitempty"`
	AttemptsRemaining int          `json:"attempts_remaining,omitempty"`
	Owner             uuid.UUID    `json:"-"`
}

// Accepted builds the result for a solved challenge.
func Accepted(owner uuid.UUID, attemptsUsed int) VerifyResult {
	return VerifyResult{
		Status:       VerifyAccepted,
		Owner:        owner,
		AttemptsUsed: attemptsUsed,
	}
}

// Retry builds the result for a wrong answer with attempts left.
func Retry(remaining int) VerifyResult {
	return VerifyResult{
		Status:            VerifyRetry,
		AttemptsRemaining: remaining,
	}
}

// Rejected builds the terminal failure result.
func Rejected(reason RejectReason) VerifyResult {
	return VerifyResult{
		Status: VerifyRejected,
		Reason: reason,
	}
}
