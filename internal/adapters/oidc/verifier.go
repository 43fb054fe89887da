// Package oidc verifies bearer tokens issued by an external OIDC provider.
// Unlike the HS256 mode the orchestrator never mints these; agents obtain
// tokens from the provider and present them as-is.
package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
	"github.com/ordinaut/ordinaut/internal/ports"
)

// VerifierConfig holds configuration for the OIDC bearer verifier.
type VerifierConfig struct {
	// IssuerURL is the provider's issuer; discovery runs against it once.
	IssuerURL string
	// ClientID is the expected audience.
	ClientID string
	// ScopesClaim names the claim carrying scopes: a space-separated string
	// or a string array. Defaults to "scope".
	ScopesClaim string
	// HTTPClient overrides the discovery/JWKS client. Optional.
	HTTPClient *http.Client
}

// Verifier implements ports.TokenVerifier against an OIDC provider's JWKS.
type Verifier struct {
	verifier    *gooidc.IDTokenVerifier
	scopesClaim string
}

// NewVerifier creates an OIDC bearer verifier. It performs discovery against
// the issuer, so it needs the provider reachable at startup.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ScopesClaim == "" {
		cfg.ScopesClaim = "scope"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	provider, err := gooidc.NewProvider(ctx, strings.TrimSuffix(cfg.IssuerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	return &Verifier{
		verifier:    provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		scopesClaim: cfg.ScopesClaim,
	}, nil
}

// Verify implements ports.TokenVerifier.
func (v *Verifier) Verify(ctx context.Context, token string) (domainauth.Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("%w: %v", ports.ErrInvalidToken, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return domainauth.Identity{}, fmt.Errorf("%w: claims: %v", ports.ErrInvalidToken, err)
	}

	return domainauth.Identity{
		AgentID:   idToken.Subject,
		Name:      nameFromClaims(claims),
		Scopes:    scopesFromClaim(claims[v.scopesClaim]),
		ExpiresAt: idToken.Expiry,
	}, nil
}

// nameFromClaims prefers preferred_username over name; both are optional.
func nameFromClaims(claims map[string]any) string {
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name
	}
	name, _ := claims["name"].(string)
	return name
}

// scopesFromClaim accepts the two shapes providers emit: an OAuth2-style
// space-separated string, or a JSON string array.
func scopesFromClaim(value any) []string {
	switch v := value.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}
