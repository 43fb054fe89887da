package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// HeartbeatRepo tracks worker and scheduler liveness rows.
type HeartbeatRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewHeartbeatRepo creates a new HeartbeatRepo instance.
func NewHeartbeatRepo(db *sql.DB, cfg RepoConfig) *HeartbeatRepo {
	return &HeartbeatRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Upsert records a liveness beat, creating the row on first beat.
func (r *HeartbeatRepo) Upsert(ctx context.Context, hb *model.WorkerHeartbeat) error {
	if hb.LastSeen.IsZero() {
		hb.LastSeen = r.timeProvider.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO worker_heartbeat (worker_id, component, last_seen, processed, pid, hostname)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (worker_id) DO UPDATE
		SET component = EXCLUDED.component,
		    last_seen = EXCLUDED.last_seen,
		    processed = EXCLUDED.processed,
		    pid = EXCLUDED.pid,
		    hostname = EXCLUDED.hostname
	`, hb.WorkerID, hb.Component, hb.LastSeen, hb.Processed, hb.PID, hb.Hostname)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Prune removes heartbeat rows not refreshed since olderThan. Dead workers
// hold no queue state, so dropping their rows is safe.
func (r *HeartbeatRepo) Prune(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM worker_heartbeat
		WHERE worker_id IN (
			SELECT worker_id FROM worker_heartbeat
			WHERE last_seen < $1
			LIMIT $2
		)
	`, olderThan.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("prune heartbeats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// ListSince returns heartbeats refreshed at or after since, most recent first.
func (r *HeartbeatRepo) ListSince(ctx context.Context, since time.Time) ([]model.WorkerHeartbeat, error) {
	var beats []model.WorkerHeartbeat
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT worker_id, component, last_seen, processed, pid, hostname
			FROM worker_heartbeat
			WHERE last_seen >= $1
			ORDER BY last_seen DESC
		`, since.UTC())
		if qerr != nil {
			return qerr
		}
		beats, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.WorkerHeartbeat])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return beats, nil
}
