package rest

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/auth"
	"github.com/davidleathers/adaptive-auth-backend/internal/service/authflow"
)

// tokenAdapter lets the orchestrator mint tokens without knowing about
// HTTP. It pulls client metadata out of the request context so the session
// behind the token records where it was opened from.
type tokenAdapter struct {
	issuer *auth.TokenIssuer
}

// NewTokenAdapter wraps a token issuer as an orchestrator dependency.
func NewTokenAdapter(issuer *auth.TokenIssuer) authflow.TokenIssuer {
	return &tokenAdapter{issuer: issuer}
}

func (a *tokenAdapter) Issue(ctx context.Context, identity uuid.UUID) (authflow.Token, error) {
	var metadata map[string]interface{}
	if meta, ok := ctx.Value(contextKeyRequestMeta).(*RequestMeta); ok && meta != nil {
		metadata = map[string]interface{}{
			"ip":         meta.ClientIP,
			"user_agent": meta.UserAgent,
		}
	}

	issued, err := a.issuer.IssueWithMetadata(ctx, identity, metadata)
	if err != nil {
		return authflow.Token{}, err
	}

	return authflow.Token{
		AccessToken: issued.AccessToken,
		TokenType:   issued.TokenType,
		ExpiresAt:   issued.ExpiresAt,
	}, nil
}
