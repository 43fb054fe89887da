package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/config"
	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
	"github.com/ordinaut/ordinaut/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildAuthJWTMode(t *testing.T) {
	components, err := BuildAuth(context.Background(), config.AuthConfig{
		Mode:         config.AuthModeJWT,
		JWTSecretKey: "0123456789abcdef0123456789abcdef",
	}, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, components.Verifier)
	require.NotNil(t, components.Minter, "jwt mode issues tokens locally")

	// Round-trip through the built pair proves they share a secret.
	token, err := components.Minter.Mint(ports.MintInput{
		AgentID: "agent-1",
		Scopes:  []string{domainauth.ScopeTasksRead},
	})
	require.NoError(t, err)

	identity, err := components.Verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", identity.AgentID)
}

func TestBuildAuthJWTModeRejectsShortSecret(t *testing.T) {
	_, err := BuildAuth(context.Background(), config.AuthConfig{
		Mode:         config.AuthModeJWT,
		JWTSecretKey: "short",
	}, discardLogger())
	require.Error(t, err)
}

func TestBuildAuthNoneMode(t *testing.T) {
	components, err := BuildAuth(context.Background(), config.AuthConfig{
		Mode: config.AuthModeNone,
	}, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, components.Verifier)
	assert.Nil(t, components.Minter)

	identity, err := components.Verifier.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, identity.HasScope(domainauth.ScopeAdmin))
}

func TestBuildAuthUnknownMode(t *testing.T) {
	_, err := BuildAuth(context.Background(), config.AuthConfig{Mode: "saml"}, discardLogger())
	require.Error(t, err)
}
