package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/data/pgxutil"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

const taskColumns = `
  id,
  title,
  description,
  created_by,
  schedule_kind,
  schedule_expr,
  timezone,
  payload,
  status,
  priority,
  dedupe_key,
  dedupe_window_seconds,
  max_retries,
  backoff_strategy,
  concurrency_key,
  next_run_at,
  created_at,
  updated_at
`

const defaultListLimit = 50

// TaskRepo provides database operations for tasks.
type TaskRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo instance.
func NewTaskRepo(db *sql.DB, cfg RepoConfig) *TaskRepo {
	return &TaskRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.Logger,
	}
}

// Create inserts a new task row. ID, timestamps, and defaults are expected to
// be populated by the caller; CreatedAt/UpdatedAt are stamped here.
func (r *TaskRepo) Create(ctx context.Context, t *model.Task) error {
	now := r.timeProvider.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO task (
			id, title, description, created_by, schedule_kind, schedule_expr,
			timezone, payload, status, priority, dedupe_key, dedupe_window_seconds,
			max_retries, backoff_strategy, concurrency_key, next_run_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		t.ID, t.Title, t.Description, t.CreatedBy, t.ScheduleKind, t.ScheduleExpr,
		t.Timezone, []byte(t.Payload), t.Status, t.Priority, t.DedupeKey, t.DedupeWindowSeconds,
		t.MaxRetries, t.BackoffStrategy, t.ConcurrencyKey, t.NextRunAt,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// GetByID retrieves a task by its id.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+taskColumns+` FROM task WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		task, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Task])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &task, nil
}

// List returns tasks matching the filter options, newest first.
func (r *TaskRepo) List(ctx context.Context, opts model.TaskListOptions) ([]model.Task, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Status != nil {
		args = append(args, *opts.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.ScheduleKind != nil {
		args = append(args, *opts.ScheduleKind)
		conds = append(conds, fmt.Sprintf("schedule_kind = $%d", len(args)))
	}
	if opts.CreatedBy != nil {
		args = append(args, *opts.CreatedBy)
		conds = append(conds, fmt.Sprintf("created_by = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM task`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

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

	var tasks []model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
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

// ListActiveByTopic returns active event-driven tasks subscribed to the topic.
func (r *TaskRepo) ListActiveByTopic(ctx context.Context, topic string) ([]model.Task, error) {
	var tasks []model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task
			WHERE status = 'active'
			  AND schedule_kind IN ('event', 'condition')
			  AND schedule_expr = $1
			ORDER BY priority DESC, created_at ASC
		`, topic)
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

// Update writes every mutable column of the task row.
func (r *TaskRepo) Update(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE task
		SET title = $2,
		    description = $3,
		    schedule_kind = $4,
		    schedule_expr = $5,
		    timezone = $6,
		    payload = $7,
		    status = $8,
		    priority = $9,
		    dedupe_key = $10,
		    dedupe_window_seconds = $11,
		    max_retries = $12,
		    backoff_strategy = $13,
		    concurrency_key = $14,
		    next_run_at = $15,
		    updated_at = $16
		WHERE id = $1
	`,
		t.ID, t.Title, t.Description, t.ScheduleKind, t.ScheduleExpr, t.Timezone,
		[]byte(t.Payload), t.Status, t.Priority, t.DedupeKey, t.DedupeWindowSeconds,
		t.MaxRetries, t.BackoffStrategy, t.ConcurrencyKey, t.NextRunAt, t.UpdatedAt,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return requireRowAffected(res, "task")
}

// SetStatus updates only the lifecycle state of a task.
func (r *TaskRepo) SetStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE task SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return requireRowAffected(res, "task")
}

// SetNextRunAt updates the stored next fire of a task.
func (r *TaskRepo) SetNextRunAt(ctx context.Context, id string, next *time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE task SET next_run_at = $2, updated_at = $3 WHERE id = $1
	`, id, next, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return requireRowAffected(res, "task")
}

// NotifyChanged announces a task mutation on the task_changed channel so a
// sleeping scheduler re-evaluates its calendar.
func (r *TaskRepo) NotifyChanged(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify('task_changed', $1::text)`, id); err != nil {
		return fmt.Errorf("notify task change: %w", err)
	}
	return nil
}

// Stats returns task counts per lifecycle state.
func (r *TaskRepo) Stats(ctx context.Context) (model.TaskStats, error) {
	var s model.TaskStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'active')   AS active,
			count(*) FILTER (WHERE status = 'paused')   AS paused,
			count(*) FILTER (WHERE status = 'canceled') AS canceled
		FROM task
	`).Scan(&s.Active, &s.Paused, &s.Canceled)
	if err != nil {
		return model.TaskStats{}, fmt.Errorf("task stats: %w", err)
	}
	return s, nil
}

// requireRowAffected converts a zero-row UPDATE into a not-found error.
func requireRowAffected(res sql.Result, entity string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("%s not found", entity)
	}
	return nil
}
