// Package hmacauth implements HS256 JWT verification and minting for agent
// credentials. This is the default auth mode: the orchestrator both issues
// and verifies tokens with a shared secret.
package hmacauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
	"github.com/ordinaut/ordinaut/internal/ports"
)

// minSecretBytes guards against trivially brute-forceable HS256 keys.
const minSecretBytes = 32

// DefaultTokenTTL is used when a mint request does not set one.
const DefaultTokenTTL = 24 * time.Hour

// agentClaims are the private claims carried alongside the registered set.
type agentClaims struct {
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Provider verifies and mints HS256 agent tokens.
// It implements ports.TokenVerifier and ports.TokenMinter.
type Provider struct {
	secret []byte
	signer jose.Signer
	issuer string
}

// ProviderOptions configures the HS256 provider.
type ProviderOptions struct {
	// Secret is the shared HS256 signing key; at least 32 bytes.
	Secret string
	// Issuer is stamped into and required from every token.
	// Defaults to "ordinaut".
	Issuer string
}

// NewProvider creates an HS256 token provider.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	if len(opts.Secret) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretBytes)
	}
	if opts.Issuer == "" {
		opts.Issuer = "ordinaut"
	}

	secret := []byte(opts.Secret)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	return &Provider{
		secret: secret,
		signer: signer,
		issuer: opts.Issuer,
	}, nil
}

// Verify implements ports.TokenVerifier.
func (p *Provider) Verify(_ context.Context, token string) (domainauth.Identity, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("%w: %v", ports.ErrInvalidToken, err)
	}

	var registered jwt.Claims
	var private agentClaims
	if err := parsed.Claims(p.secret, &registered, &private); err != nil {
		return domainauth.Identity{}, fmt.Errorf("%w: %v", ports.ErrInvalidToken, err)
	}

	if err := registered.Validate(jwt.Expected{
		Issuer: p.issuer,
		Time:   time.Now(),
	}); err != nil {
		return domainauth.Identity{}, fmt.Errorf("%w: %v", ports.ErrInvalidToken, err)
	}
	if registered.Subject == "" {
		return domainauth.Identity{}, fmt.Errorf("%w: missing subject", ports.ErrInvalidToken)
	}

	identity := domainauth.Identity{
		AgentID: registered.Subject,
		Name:    private.Name,
		Scopes:  private.Scopes,
	}
	if registered.Expiry != nil {
		identity.ExpiresAt = registered.Expiry.Time()
	}
	return identity, nil
}

// Mint implements ports.TokenMinter.
func (p *Provider) Mint(in ports.MintInput) (string, error) {
	if in.AgentID == "" {
		return "", errors.New("agent id is required")
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	registered := jwt.Claims{
		Issuer:   p.issuer,
		Subject:  in.AgentID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	private := agentClaims{Name: in.Name, Scopes: in.Scopes}

	token, err := jwt.Signed(p.signer).Claims(registered).Claims(private).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
