package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

const runColumns = `
  id,
  task_id,
  due_work_id,
  lease_owner,
  leased_until,
  started_at,
  finished_at,
  success,
  error,
  error_step_index,
  error_step_id,
  attempt,
  output
`

// RunRepo provides database operations for task runs.
type RunRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRunRepo creates a new RunRepo instance.
func NewRunRepo(db *sql.DB, cfg RepoConfig) *RunRepo {
	return &RunRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Open inserts an in-flight run row carrying the worker's lease.
func (r *RunRepo) Open(ctx context.Context, run *model.TaskRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = r.timeProvider.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO task_run (
			id, task_id, due_work_id, lease_owner, leased_until, started_at, attempt
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.TaskID, run.DueWorkID, run.LeaseOwner, run.LeasedUntil, run.StartedAt, run.Attempt)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Finalize records the run outcome and settles the linked firing in one
// transaction: retryable failures re-arm it, everything else deletes it.
func (r *RunRepo) Finalize(ctx context.Context, params core.FinalizeParams) error {
	finishedAt := params.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = r.timeProvider.Now()
	}

	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE task_run
				SET finished_at = $2,
				    success = $3,
				    error = $4,
				    error_step_index = $5,
				    error_step_id = $6,
				    output = $7
				WHERE id = $1 AND success IS NULL
			`, params.RunID, finishedAt.UTC(), params.Success,
				params.Error, params.ErrorStepIndex, params.ErrorStepID, []byte(params.Output))
			if err != nil {
				return fmt.Errorf("finalize run: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				return apperrors.Conflict("run already finalized")
			}

			if params.Retry != nil {
				if _, err := tx.ExecContext(ctx, `
					UPDATE due_work
					SET run_at = $2, attempts = $3, locked_until = NULL, locked_by = NULL
					WHERE id = $1
				`, params.DueWorkID, params.Retry.RunAt.UTC(), params.Retry.Attempts); err != nil {
					return fmt.Errorf("requeue due work: %w", err)
				}
				return nil
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM due_work WHERE id = $1`, params.DueWorkID); err != nil {
				return fmt.Errorf("delete due work: %w", err)
			}
			return nil
		},
	})
}

// GetByID retrieves a run by its id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.TaskRun, error) {
	var run model.TaskRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+runColumns+` FROM task_run WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		run, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TaskRun])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &run, nil
}

// List returns runs of a task, newest first.
func (r *RunRepo) List(ctx context.Context, opts model.RunListOptions) ([]model.TaskRun, error) {
	query := `SELECT ` + runColumns + ` FROM task_run WHERE task_id = $1`
	args := []any{opts.TaskID}
	if opts.Success != nil {
		args = append(args, *opts.Success)
		query += fmt.Sprintf(" AND success = $%d", len(args))
	}
	query += " ORDER BY started_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var runs []model.TaskRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		runs, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.TaskRun])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return runs, nil
}

// LastSuccess returns the most recent successful run of the task, or nil when
// the task has never succeeded.
func (r *RunRepo) LastSuccess(ctx context.Context, taskID string) (*model.TaskRun, error) {
	var run model.TaskRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+runColumns+`
			FROM task_run
			WHERE task_id = $1 AND success = TRUE
			ORDER BY finished_at DESC
			LIMIT 1
		`, taskID)
		if qerr != nil {
			return qerr
		}
		run, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.TaskRun])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &run, nil
}

// ListExpiredLeases returns in-flight runs whose lease lapsed, paired with
// their tasks so the reaper can apply each task's retry policy.
func (r *RunRepo) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]core.ExpiredLease, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []core.ExpiredLease
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+runColumns+`
			FROM task_run
			WHERE success IS NULL
			  AND leased_until IS NOT NULL
			  AND leased_until < $1
			ORDER BY leased_until ASC
			LIMIT $2
		`, now.UTC(), limit)
		if qerr != nil {
			return qerr
		}
		runs, cerr := pgx.CollectRows(rows, pgx.RowToStructByName[model.TaskRun])
		if cerr != nil {
			return cerr
		}
		if len(runs) == 0 {
			out = nil
			return nil
		}

		ids := make([]string, 0, len(runs))
		for _, run := range runs {
			ids = append(ids, run.TaskID)
		}
		taskRows, qerr := conn.Query(ctx, `SELECT `+taskColumns+` FROM task WHERE id = ANY($1)`, ids)
		if qerr != nil {
			return qerr
		}
		tasks, cerr := pgx.CollectRows(taskRows, pgx.RowToStructByName[model.Task])
		if cerr != nil {
			return cerr
		}
		byID := make(map[string]model.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}

		out = make([]core.ExpiredLease, 0, len(runs))
		for _, run := range runs {
			task, ok := byID[run.TaskID]
			if !ok {
				continue
			}
			out = append(out, core.ExpiredLease{Run: run, Task: task})
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// FailRun closes an orphaned run as failed. Already-finalized runs are left
// alone so the reaper never races a late worker commit.
func (r *RunRepo) FailRun(ctx context.Context, id, errMsg string, finishedAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE task_run
		SET success = FALSE, error = $2, finished_at = $3
		WHERE id = $1 AND success IS NULL
	`, id, errMsg, finishedAt.UTC())
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// Stats returns run counts per outcome.
func (r *RunRepo) Stats(ctx context.Context) (model.RunStats, error) {
	var s model.RunStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE success IS NULL)  AS in_flight,
			count(*) FILTER (WHERE success = TRUE)   AS succeeded,
			count(*) FILTER (WHERE success = FALSE)  AS failed
		FROM task_run
	`).Scan(&s.InFlight, &s.Succeeded, &s.Failed)
	if err != nil {
		return model.RunStats{}, fmt.Errorf("run stats: %w", err)
	}
	return s, nil
}
