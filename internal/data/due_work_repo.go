package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// dueWorkChannel is the Postgres NOTIFY channel announced by the insert
// trigger on due_work.
const dueWorkChannel = "due_work_ready"

// SQL used by ClaimNext to atomically lock the next due firing. Ordering is
// priority first, then earliest run_at, then insertion order for stability.
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT dw.id FROM due_work dw
    JOIN task t ON t.id = dw.task_id
    WHERE dw.run_at <= $1
      AND (dw.locked_until IS NULL OR dw.locked_until < $1)
      AND t.status = 'active'
    ORDER BY t.priority DESC, dw.run_at ASC, dw.id ASC
    LIMIT 1
    FOR UPDATE OF dw SKIP LOCKED
  )
  UPDATE due_work dw
  SET locked_until = $2, locked_by = $3
  FROM cte
  WHERE dw.id = cte.id
  RETURNING dw.id, dw.task_id, dw.run_at, dw.locked_until, dw.locked_by, dw.attempts, dw.created_at`

// DueWorkRepo provides database operations for the firing queue.
type DueWorkRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewDueWorkRepo creates a new DueWorkRepo instance.
func NewDueWorkRepo(db *sql.DB, cfg RepoConfig) *DueWorkRepo {
	return &DueWorkRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Insert materializes a firing for the task at runAt. A duplicate
// (task_id, run_at) pair means the firing already exists; that is reported as
// inserted=false, not an error. The insert trigger notifies waiting workers.
func (r *DueWorkRepo) Insert(ctx context.Context, taskID string, runAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO due_work (task_id, run_at)
		VALUES ($1, $2)
		ON CONFLICT (task_id, run_at) DO NOTHING
	`, taskID, runAt.UTC())
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClaimNext locks the highest-priority due firing and returns it joined with
// its task. Returns model.ErrNoDueWork when nothing is claimable.
func (r *DueWorkRepo) ClaimNext(ctx context.Context, params core.ClaimParams) (*model.ClaimedWork, error) {
	if params.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if params.Lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	var claimed *model.ClaimedWork
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			lockedUntil := now.Add(params.Lease)

			rows, qerr := tx.Query(ctx, claimNextUpdateSQL, now, lockedUntil, params.WorkerID)
			if qerr != nil {
				return fmt.Errorf("claim due work: %w", qerr)
			}
			work, cerr := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DueWork])
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoDueWork
			}
			if cerr != nil {
				return fmt.Errorf("collect due work: %w", cerr)
			}

			taskRows, qerr := tx.Query(ctx, `SELECT `+taskColumns+` FROM task WHERE id = $1`, work.TaskID)
			if qerr != nil {
				return fmt.Errorf("load claimed task: %w", qerr)
			}
			task, cerr := pgx.CollectOneRow(taskRows, pgx.RowToStructByName[model.Task])
			if cerr != nil {
				return fmt.Errorf("collect claimed task: %w", cerr)
			}

			claimed = &model.ClaimedWork{Work: work, Task: task}
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoDueWork) {
			return nil, model.ErrNoDueWork
		}
		return nil, apperrors.MapDBError(err)
	}
	return claimed, nil
}

// Release drops the claim lock, optionally pushing run_at forward by delay so
// the firing is not immediately re-claimed by the same contention.
func (r *DueWorkRepo) Release(ctx context.Context, id int64, delay time.Duration) error {
	now := r.timeProvider.Now().UTC()
	runAtExpr := "run_at"
	args := []any{id}
	if delay > 0 {
		runAtExpr = "$2"
		args = append(args, now.Add(delay))
	}
	//nolint:gosec // runAtExpr is one of two literals, never user input
	query := fmt.Sprintf(`
		UPDATE due_work
		SET locked_until = NULL, locked_by = NULL, run_at = %s
		WHERE id = $1
	`, runAtExpr)
	if _, err := r.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release due work: %w", err)
	}
	return nil
}

// Requeue re-arms a claimed firing for a later attempt, clearing the lock and
// carrying the attempt counter forward.
func (r *DueWorkRepo) Requeue(ctx context.Context, id int64, runAt time.Time, attempts int) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE due_work
		SET run_at = $2, attempts = $3, locked_until = NULL, locked_by = NULL
		WHERE id = $1
	`, id, runAt.UTC(), attempts)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return requireRowAffected(res, "due work")
}

// Delete finalizes a firing.
func (r *DueWorkRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM due_work WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete due work: %w", err)
	}
	return nil
}

// DeletePendingByTask removes unclaimed firings of a task. Claimed rows stay:
// the holding worker finalizes them against the task's new state.
func (r *DueWorkRepo) DeletePendingByTask(ctx context.Context, taskID string) (int64, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM due_work
		WHERE task_id = $1
		  AND (locked_until IS NULL OR locked_until < $2)
	`, taskID, now)
	if err != nil {
		return 0, fmt.Errorf("delete pending due work: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// ClearExpiredLocks unlocks rows whose claim lease lapsed without
// finalization, making them claimable again.
func (r *DueWorkRepo) ClearExpiredLocks(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE due_work
		SET locked_until = NULL, locked_by = NULL
		WHERE id IN (
			SELECT id FROM due_work
			WHERE locked_until IS NOT NULL AND locked_until < $1
			LIMIT $2
		)
	`, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("clear expired locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// WaitForNotification blocks until the insert trigger announces a new firing
// or ctx is done.
func (r *DueWorkRepo) WaitForNotification(ctx context.Context) error {
	return waitForChannel(ctx, r.DB, dueWorkChannel)
}

// QueueStats summarizes the due_work backlog.
func (r *DueWorkRepo) QueueStats(ctx context.Context) (model.QueueStats, error) {
	now := r.timeProvider.Now().UTC()
	var (
		s      model.QueueStats
		oldest sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (
				WHERE run_at <= $1 AND (locked_until IS NULL OR locked_until < $1)
			) AS ready,
			count(*) FILTER (
				WHERE locked_until IS NOT NULL AND locked_until >= $1
			) AS locked,
			count(*) AS total,
			min(run_at) FILTER (
				WHERE locked_until IS NULL OR locked_until < $1
			) AS oldest_ready_at
		FROM due_work
	`, now).Scan(&s.Ready, &s.Locked, &s.Total, &oldest)
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	s.OldestReadyAt = cloneNullableTime(oldest)
	return s, nil
}

// waitForChannel LISTENs on channel over a dedicated pool connection and
// blocks on the next notification.
func waitForChannel(ctx context.Context, db *sql.DB, channel string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{channel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
