package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/cache"
)

// TokenType labels issued credentials in responses and headers.
const TokenType = "Bearer"

// Claims carries the registered claim set plus the backing session ID.
// Deleting that session revokes every token that references it.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
}

// IssuedToken is a freshly minted access token.
type IssuedToken struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	SessionID   string
}

// TokenIssuer mints HS256 access tokens. Each token opens an active
// server-side session so it can be revoked before expiry.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	expiry   time.Duration
	sessions cache.SessionStore
	now      func() time.Time
}

// NewTokenIssuer builds a token issuer. The signing secret is required;
// an empty expiry falls back to 15 minutes.
func NewTokenIssuer(secret, issuer string, expiry time.Duration, sessions cache.SessionStore) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &TokenIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		expiry:   expiry,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

// Issue opens an active session for the identity and signs a token
// referencing it.
func (t *TokenIssuer) Issue(ctx context.Context, identity uuid.UUID) (IssuedToken, error) {
	return t.IssueWithMetadata(ctx, identity, nil)
}

// IssueWithMetadata is Issue with extra session fields (client address,
// user agent, risk score) recorded for the sessions listing.
func (t *TokenIssuer) IssueWithMetadata(ctx context.Context, identity uuid.UUID, metadata map[string]interface{}) (IssuedToken, error) {
	if identity == uuid.Nil {
		return IssuedToken{}, fmt.Errorf("identity is required")
	}

	sessionData := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		sessionData[k] = v
	}
	sessionData["state"] = cache.SessionStateActive

	sessionID, err := t.sessions.CreateSession(ctx, identity, sessionData, 0)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to open session: %w", err)
	}

	now := t.now()
	expiresAt := now.Add(t.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		// Do not leave a session behind for a token that never existed.
		t.sessions.DeleteSession(ctx, sessionID)
		return IssuedToken{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return IssuedToken{
		AccessToken: signed,
		TokenType:   TokenType,
		ExpiresAt:   expiresAt,
		SessionID:   sessionID,
	}, nil
}

// Parse validates a token's signature and time bounds and returns its
// claims. Session liveness is the caller's check.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// Identity extracts the subject UUID from parsed claims.
func (c *Claims) Identity() (uuid.UUID, error) {
	identity, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return identity, nil
}
