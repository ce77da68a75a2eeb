package rest

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// identityFromContext extracts the authenticated identity set by the auth
// middleware.
func identityFromContext(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(contextKeyIdentity)
	if val == nil {
		return uuid.Nil, errors.New("identity not found in context")
	}

	identity, ok := val.(uuid.UUID)
	if !ok || identity == uuid.Nil {
		return uuid.Nil, errors.New("invalid identity in context")
	}
	return identity, nil
}

// sessionIDFromContext extracts the session backing the current token.
func sessionIDFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(contextKeySessionID)
	if val == nil {
		return "", errors.New("session ID not found in context")
	}

	sessionID, ok := val.(string)
	if !ok || sessionID == "" {
		return "", errors.New("invalid session ID in context")
	}
	return sessionID, nil
}

// requestMetaFromContext returns the request metadata, or a minimal stand-in
// when a handler runs outside the wrapped chain (tests, mostly).
func requestMetaFromContext(ctx context.Context) *RequestMeta {
	if meta, ok := ctx.Value(contextKeyRequestMeta).(*RequestMeta); ok {
		return meta
	}
	return &RequestMeta{RequestID: uuid.New().String()}
}
