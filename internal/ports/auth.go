package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/http.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
)

// ErrInvalidToken is returned by verifiers for malformed, unsigned, expired,
// or otherwise untrusted credentials.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier authenticates a bearer credential and maps it to an agent
// identity. Adapters implement HS256 JWTs, OIDC-issued tokens, and the dev
// no-auth mode.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domainauth.Identity, error)
}

// MintInput carries the claims for locally issued agent credentials.
type MintInput struct {
	AgentID string
	Name    string
	Scopes  []string
	TTL     time.Duration
}

// TokenMinter issues credentials for agents. Only the HS256 adapter and the
// operator CLI implement minting; OIDC tokens come from the provider.
type TokenMinter interface {
	Mint(in MintInput) (string, error)
}
