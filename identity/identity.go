// Package identity verifies bearer tokens presented by administrators and
// turns them into a subject ID and email.
//
// The menu service never handles passwords. Sign-in happens at an external
// OAuth provider; the browser then sends the provider's access token, which a
// Provider resolves to an Identity.
package identity

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a bearer token is missing, expired or rejected
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is a verified caller
type Identity struct {
	SubjectID     string
	Email         string
	EmailVerified bool

	// Provider names the identity provider that verified the token
	Provider string
}

// Provider verifies bearer tokens
type Provider interface {
	// Verify resolves bearer to an Identity. It returns an error wrapping
	// ErrInvalidToken when the token is not accepted.
	Verify(ctx context.Context, bearer string) (*Identity, error)
}

// StaticProvider maps fixed tokens to identities. It is meant for local
// development and tests.
type StaticProvider map[string]Identity

// Verify looks bearer up in the map
func (p StaticProvider) Verify(_ context.Context, bearer string) (*Identity, error) {
	id, ok := p[bearer]
	if !ok || bearer == "" {
		return nil, ErrInvalidToken
	}
	if id.Provider == "" {
		id.Provider = "static"
	}
	return &id, nil
}
