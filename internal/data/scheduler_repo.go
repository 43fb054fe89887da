package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// taskChangeChannel carries pg_notify announcements of task mutations.
const taskChangeChannel = "task_changed"

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- value is explicitly bounded to <= MaxInt64 before casting to int64.
}

// SchedulerRepo is the store surface of the scheduler sweep.
type SchedulerRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewSchedulerRepo creates a new SchedulerRepo instance.
func NewSchedulerRepo(db *sql.DB, cfg RepoConfig) *SchedulerRepo {
	return &SchedulerRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// ListDue returns active tasks whose next fire has arrived, plus tasks with
// no stored next fire so the sweep can recover them.
func (r *SchedulerRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task
			WHERE status = 'active'
			  AND schedule_kind IN ('cron', 'rrule', 'once')
			  AND (next_run_at <= $1 OR next_run_at IS NULL)
			ORDER BY next_run_at ASC NULLS FIRST
			LIMIT $2
		`, now.UTC(), limit)
		if qerr != nil {
			return qerr
		}
		tasks, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.Task])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return tasks, nil
}

// TryWithTaskLock runs fn inside one transaction holding the task's advisory
// lock. Return semantics:
//   - (false, nil): lock contended; fn was not executed
//   - (true, nil): lock acquired; fn executed and committed
//   - (true, err): lock acquired; fn failed and the transaction rolled back
func (r *SchedulerRepo) TryWithTaskLock(
	ctx context.Context,
	taskID string,
	fn func(context.Context, core.SchedulerTx) error,
) (bool, error) {
	lockKey := fnvHash(taskID)

	var locked bool
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock for task %s: %w", taskID, err)
			}
			if !locked {
				return nil
			}
			return fn(ctx, &schedulerTx{tx: tx, timeProvider: r.timeProvider})
		},
	})
	if err != nil {
		return locked, err
	}
	return locked, nil
}

// WaitForTaskChange blocks until a task mutation is announced or ctx ends.
func (r *SchedulerRepo) WaitForTaskChange(ctx context.Context) error {
	return waitForChannel(ctx, r.DB, taskChangeChannel)
}

// schedulerTx implements core.SchedulerTx over an open pgx transaction.
type schedulerTx struct {
	tx           pgx.Tx
	timeProvider TimeProvider
}

func (s *schedulerTx) LockTask(ctx context.Context, id string) (*model.Task, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT `+taskColumns+`
		FROM task
		WHERE id = $1
		FOR UPDATE SKIP LOCKED
	`, id)
	if err != nil {
		return nil, fmt.Errorf("lock task: %w", err)
	}
	task, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Task])
	if errors.Is(err, pgx.ErrNoRows) {
		// Deleted, or row-locked by a concurrent claim/update.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collect locked task: %w", err)
	}
	return &task, nil
}

func (s *schedulerTx) InsertDueWork(ctx context.Context, taskID string, runAt time.Time) (bool, error) {
	res, err := s.tx.Exec(ctx, `
		INSERT INTO due_work (task_id, run_at)
		VALUES ($1, $2)
		ON CONFLICT (task_id, run_at) DO NOTHING
	`, taskID, runAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert due work: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

func (s *schedulerTx) SetNextRunAt(ctx context.Context, id string, next *time.Time) error {
	res, err := s.tx.Exec(ctx, `
		UPDATE task SET next_run_at = $2, updated_at = $3 WHERE id = $1
	`, id, next, s.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return apperrors.NotFoundf("task not found")
	}
	return nil
}

func (s *schedulerTx) SetStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := s.tx.Exec(ctx, `
		UPDATE task SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, s.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return apperrors.NotFoundf("task not found")
	}
	return nil
}

func (s *schedulerTx) Audit(ctx context.Context, entry *model.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.timeProvider.Now().UTC()
	}
	err := s.tx.QueryRow(ctx, `
		INSERT INTO audit_log (actor, action, subject_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.Actor, entry.Action, entry.SubjectID, []byte(entry.Details), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
