package config

import (
	"errors"
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the API.
type AuthMode string

const (
	// AuthModeJWT verifies locally minted HS256 agent tokens.
	AuthModeJWT AuthMode = "jwt"
	// AuthModeOIDC verifies tokens issued by an external OIDC provider.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeNone disables authentication (development only).
	AuthModeNone AuthMode = "none"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "jwt", "oidc", "none":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: jwt, oidc, none)", v)
	}
}

// OIDCConfig contains OIDC token verification configuration.
type OIDCConfig struct {
	// IssuerURL is the OIDC issuer; discovery runs against it at startup.
	IssuerURL string `env:"ISSUER_URL"`

	// ClientID is the audience expected in verified tokens.
	ClientID string `env:"CLIENT_ID"`

	// ScopesClaim is the token claim holding granted scopes.
	ScopesClaim string `env:"SCOPES_CLAIM" envDefault:"scope"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which token verifier the API uses.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"jwt"`

	// JWTSecretKey signs and verifies locally minted HS256 agent tokens.
	// Required when Mode=jwt.
	JWTSecretKey string `env:"JWT_SECRET_KEY"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"AUTH_OIDC_"`
}

// knownDefaultSecrets lists placeholder signing keys that appear in docs,
// compose files, and test fixtures. Deployments must generate their own key;
// shipping with any of these is a configuration error.
var knownDefaultSecrets = map[string]struct{}{
	"0123456789abcdef0123456789abcdef":            {},
	"ordinaut-dev-secret-key-do-not-use-in-prod!": {},
	"change-me-to-a-random-32-byte-string!!!!":    {},
}

// Validate enforces the guardrails a given mode requires. isDev relaxes the
// no-auth restriction for local development.
func (a *AuthConfig) Validate(isDev bool) error {
	switch a.Mode {
	case AuthModeJWT:
		if strings.TrimSpace(a.JWTSecretKey) == "" {
			return errors.New("JWT_SECRET_KEY is required when AUTH_MODE=jwt")
		}
		if len(a.JWTSecretKey) < 32 {
			return errors.New("JWT_SECRET_KEY must be at least 32 bytes")
		}
		if _, known := knownDefaultSecrets[a.JWTSecretKey]; known {
			return errors.New("JWT_SECRET_KEY is a known default value and must be replaced")
		}
	case AuthModeOIDC:
		if strings.TrimSpace(a.OIDC.IssuerURL) == "" {
			return errors.New("AUTH_OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(a.OIDC.ClientID) == "" {
			return errors.New("AUTH_OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case AuthModeNone:
		if !isDev {
			return errors.New("AUTH_MODE=none is only allowed in development mode")
		}
	}
	return nil
}
