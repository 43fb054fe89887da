// Package devauth provides the no-auth verifier for local development.
// Every request authenticates as a configurable admin identity; config
// validation refuses this mode outside dev.
package devauth

import (
	"context"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
)

// Verifier implements ports.TokenVerifier by accepting anything.
type Verifier struct {
	identity domainauth.Identity
}

// NewVerifier constructs the dev verifier. An empty agentID defaults to
// "dev-agent".
func NewVerifier(agentID string) *Verifier {
	if agentID == "" {
		agentID = "dev-agent"
	}
	return &Verifier{
		identity: domainauth.Identity{
			AgentID: agentID,
			Name:    agentID,
			Scopes:  []string{domainauth.ScopeAdmin},
		},
	}
}

// Verify returns the configured identity regardless of the token, including
// an absent one.
func (v *Verifier) Verify(_ context.Context, _ string) (domainauth.Identity, error) {
	return v.identity, nil
}
