// Package session issues and redeems single-use account tokens.
//
// Email verification and password reset links carry an opaque token. A token
// is bound to a purpose and a subject (the user ID), expires after a TTL and
// is deleted the first time it is redeemed.
//
// Two backends implement [TokenStore]:
//   - memory: in-process storage for development and tests
//   - redis: shared storage for multi-instance deployments
//
// # Usage
//
//	tok, err := tokens.Issue(ctx, session.PurposeVerify, user.ID, session.DefaultVerifyTTL)
//	...
//	userID, err := tokens.Consume(ctx, session.PurposeVerify, tok)
//	if errors.Is(err, session.ErrInvalidToken) {
//	    // missing, expired or already used
//	}
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

// ErrInvalidToken is returned when a token is unknown, expired, already used
// or was issued for a different purpose.
var ErrInvalidToken = errors.New("invalid or expired token")

// Purpose scopes a token to one flow.
type Purpose string

// Token purposes.
const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// Default durations.
const (
	// DefaultVerifyTTL is how long an email verification link stays valid.
	DefaultVerifyTTL = 24 * time.Hour

	// DefaultResetTTL is how long a password reset link stays valid.
	DefaultResetTTL = time.Hour
)

// TokenStore manages single-use tokens.
type TokenStore interface {
	// Issue creates a token for subject that expires after ttl.
	Issue(ctx context.Context, purpose Purpose, subject string, ttl time.Duration) (string, error)

	// Consume redeems a token and returns its subject. A token can be
	// consumed at most once.
	Consume(ctx context.Context, purpose Purpose, token string) (string, error)

	// Cleanup removes expired tokens (may be a no-op for Redis).
	Cleanup(ctx context.Context) error
}

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tokenKey(purpose Purpose, token string) string {
	return string(purpose) + ":" + token
}
