// Package data implements the orchestrator's repository ports over Postgres.
// Repositories run on database/sql with the pgx stdlib driver and drop to
// native pgx (struct scanning, LISTEN/NOTIFY, advisory locks) via pgxutil.
package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"
)

// RepoConfig holds shared configuration options for repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

func (c RepoConfig) timeProvider() TimeProvider {
	if c.TimeProvider == nil {
		return &RealTimeProvider{}
	}
	return c.TimeProvider
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
