package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	opts, err = parseMigrateFlags([]string{"--timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestParseDBResetFlags(t *testing.T) {
	opts, err := parseDBResetFlags([]string{"--yes", "--seed"})
	require.NoError(t, err)
	assert.True(t, opts.Yes)
	assert.True(t, opts.Seed)
	assert.False(t, opts.AllowRemote)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	_, err = parseDBResetFlags([]string{"--timeout", "-1s"})
	require.Error(t, err)
}

func TestParseDBSeedFlags(t *testing.T) {
	opts, err := parseDBSeedFlags([]string{"--allow-remote"})
	require.NoError(t, err)
	assert.True(t, opts.AllowRemote)
}

func TestParseMintTokenFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    mintTokenOptions
		wantErr bool
	}{
		{
			name: "defaults",
			args: []string{"--agent-id", "agent-1"},
			want: mintTokenOptions{
				AgentID: "agent-1",
				Scopes:  []string{"tasks:read"},
				TTL:     time.Hour,
			},
		},
		{
			name: "multiple scopes with whitespace",
			args: []string{"--agent-id", "agent-1", "--scopes", " tasks:write , runs:read "},
			want: mintTokenOptions{
				AgentID: "agent-1",
				Scopes:  []string{"tasks:write", "runs:read"},
				TTL:     time.Hour,
			},
		},
		{
			name: "name and ttl",
			args: []string{"--agent-id", "agent-1", "--name", "Calendar Agent", "--ttl", "15m"},
			want: mintTokenOptions{
				AgentID: "agent-1",
				Name:    "Calendar Agent",
				Scopes:  []string{"tasks:read"},
				TTL:     15 * time.Minute,
			},
		},
		{
			name:    "missing agent id",
			args:    []string{"--scopes", "tasks:read"},
			wantErr: true,
		},
		{
			name:    "blank scopes",
			args:    []string{"--agent-id", "agent-1", "--scopes", " , "},
			wantErr: true,
		},
		{
			name:    "zero ttl",
			args:    []string{"--agent-id", "agent-1", "--ttl", "0s"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := parseMintTokenFlags(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, opts)
		})
	}
}

func TestParseReapFlags(t *testing.T) {
	opts, err := parseReapFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, opts.Timeout)

	_, err = parseReapFlags([]string{"--timeout", "-5s"})
	require.Error(t, err)
}

func TestParseQueueStatsFlags(t *testing.T) {
	opts, err := parseQueueStatsFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.Timeout)

	_, err = parseQueueStatsFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestIsLikelyRemoteHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", false},
		{"127.0.0.1", false},
		{"::1", false},
		{"devbox.local", false},
		{"", false},
		{"10.0.0.12", true},
		{"db.prod.example.com", true},
	}

	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.want, isLikelyRemoteHost(tc.host))
		})
	}
}

func TestDBResetConfirmOptionsSkipPrompt(t *testing.T) {
	assert.True(t, dbResetConfirmOptions{yes: true}.skipPrompt())
	assert.False(t, dbResetConfirmOptions{yes: true, remoteHost: "db.example.com"}.skipPrompt())
	assert.False(t, dbResetConfirmOptions{}.skipPrompt())
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"ordinaut"`, quoteIdentifier("ordinaut"))
	assert.Equal(t, `"we""ird"`, quoteIdentifier(`we"ird`))
}
