package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// AdvisoryGate serializes firings that share a concurrency key using
// session-scoped advisory locks. Each acquired key pins one pooled connection
// until released, so the lock survives exactly as long as the holding worker's
// session does.
type AdvisoryGate struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewAdvisoryGate creates a new AdvisoryGate instance.
func NewAdvisoryGate(db *sql.DB, cfg RepoConfig) *AdvisoryGate {
	return &AdvisoryGate{DB: db, logger: cfg.Logger}
}

// TryAcquire takes the lock for key without blocking. When acquired, the
// returned release must be called exactly once; it unlocks and returns the
// pinned connection to the pool.
func (g *AdvisoryGate) TryAcquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	lockKey := fnvHash("ck:" + key)

	conn, err := g.DB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get conn from pool: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("acquire concurrency lock %q: %w", key, err)
	}
	if !locked {
		if cerr := conn.Close(); cerr != nil {
			return nil, false, fmt.Errorf("return conn to pool: %w", cerr)
		}
		return nil, false, nil
	}

	release := func(releaseCtx context.Context) error {
		defer func() {
			_ = conn.Close()
		}()
		var unlocked bool
		if err := conn.QueryRowContext(releaseCtx, "SELECT pg_advisory_unlock($1)", lockKey).Scan(&unlocked); err != nil {
			return fmt.Errorf("release concurrency lock %q: %w", key, err)
		}
		if !unlocked {
			return fmt.Errorf("concurrency lock %q was not held by this session", key)
		}
		return nil
	}
	return release, true, nil
}
