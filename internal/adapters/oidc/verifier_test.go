package oidc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifierValidation(t *testing.T) {
	_, err := NewVerifier(context.Background(), VerifierConfig{ClientID: "ordinaut"})
	require.Error(t, err)

	_, err = NewVerifier(context.Background(), VerifierConfig{IssuerURL: "https://issuer.example.com"})
	require.Error(t, err)
}

func TestScopesFromClaim(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected []string
	}{
		{
			name:     "space separated string",
			value:    "tasks:read tasks:write",
			expected: []string{"tasks:read", "tasks:write"},
		},
		{
			name:     "string array",
			value:    []any{"tasks:read", "events:publish"},
			expected: []string{"tasks:read", "events:publish"},
		},
		{
			name:     "array with non-strings",
			value:    []any{"tasks:read", 42, ""},
			expected: []string{"tasks:read"},
		},
		{
			name:     "empty string",
			value:    "",
			expected: []string{},
		},
		{
			name:  "absent claim",
			value: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scopesFromClaim(tt.value)
			if tt.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNameFromClaims(t *testing.T) {
	assert.Equal(t, "calendar-agent", nameFromClaims(map[string]any{
		"preferred_username": "calendar-agent",
		"name":               "Calendar Agent",
	}))
	assert.Equal(t, "Calendar Agent", nameFromClaims(map[string]any{
		"name": "Calendar Agent",
	}))
	assert.Empty(t, nameFromClaims(map[string]any{}))
}
