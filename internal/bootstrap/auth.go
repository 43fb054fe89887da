package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/adapters/devauth"
	"github.com/ordinaut/ordinaut/internal/adapters/hmacauth"
	"github.com/ordinaut/ordinaut/internal/adapters/oidc"
	"github.com/ordinaut/ordinaut/internal/ports"
)

// AuthComponents holds the token verifier backing the API plus, when the mode
// supports local issuance, the minter used on agent registration.
type AuthComponents struct {
	Verifier ports.TokenVerifier
	// Minter is nil in OIDC mode: tokens come from the external provider.
	Minter ports.TokenMinter
}

// BuildAuth constructs the verifier and minter for the configured auth mode.
// OIDC mode runs provider discovery, so it needs a context and network access.
func BuildAuth(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (AuthComponents, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case config.AuthModeJWT:
		provider, err := hmacauth.NewProvider(hmacauth.ProviderOptions{
			Secret: cfg.JWTSecretKey,
		})
		if err != nil {
			return AuthComponents{}, fmt.Errorf("build jwt auth: %w", err)
		}
		return AuthComponents{Verifier: provider, Minter: provider}, nil

	case config.AuthModeOIDC:
		verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			IssuerURL:   cfg.OIDC.IssuerURL,
			ClientID:    cfg.OIDC.ClientID,
			ScopesClaim: cfg.OIDC.ScopesClaim,
		})
		if err != nil {
			return AuthComponents{}, fmt.Errorf("build oidc auth: %w", err)
		}
		return AuthComponents{Verifier: verifier}, nil

	case config.AuthModeNone:
		logger.Warn("authentication disabled; every request acts as an admin dev agent")
		return AuthComponents{Verifier: devauth.NewVerifier("")}, nil

	default:
		return AuthComponents{}, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
