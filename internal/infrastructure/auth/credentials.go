package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/repository"
)

// timingDummy is a syntactically valid hash that no password derives to.
// Verification against it keeps the unknown-account path as expensive as
// the known-account path.
const timingDummy = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Credentials verifies the primary factor against stored password hashes.
type Credentials struct {
	users repository.UserRepository
}

// NewCredentials creates a credential verifier over the user repository.
func NewCredentials(users repository.UserRepository) *Credentials {
	return &Credentials{users: users}
}

// Verify resolves the identity behind an email/password pair. Every
// failure mode returns the same unauthorized error so responses do not
// reveal whether the account exists.
func (c *Credentials) Verify(ctx context.Context, email, password string) (uuid.UUID, error) {
	if email == "" || password == "" {
		return uuid.Nil, errors.ErrInvalidCredentials
	}

	user, err := c.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			// Burn the same derivation cost as a real comparison.
			VerifyPassword(password, timingDummy)
			return uuid.Nil, errors.ErrInvalidCredentials
		}
		return uuid.Nil, errors.NewInternalError("credential lookup failed").WithCause(err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		// A hash that cannot be parsed is a data problem, not a bad password.
		return uuid.Nil, errors.NewInternalError("stored credential is unreadable").WithCause(err)
	}
	if !ok {
		return uuid.Nil, errors.ErrInvalidCredentials
	}

	return user.ID, nil
}
