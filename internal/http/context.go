package httpx

import (
	"context"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
)

type contextKey string

const identityContextKey contextKey = "identity"

// SetIdentityInContext stores the authenticated agent identity on the context.
func SetIdentityInContext(ctx context.Context, identity domainauth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the authenticated agent identity, if any.
func IdentityFromContext(ctx context.Context) (domainauth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(domainauth.Identity)
	return identity, ok
}

// ActorFromContext returns the agent ID to record as audit actor, or
// "anonymous" when the request carries no identity.
func ActorFromContext(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok && identity.AgentID != "" {
		return identity.AgentID
	}
	return "anonymous"
}
