// Package service provides business logic services for the task orchestrator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/domain/plan"
	"github.com/ordinaut/ordinaut/internal/domain/schedule"
)

// SchedulerActor is the audit actor recorded for scheduler-originated entries.
const SchedulerActor = "scheduler"

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Repo         core.SchedulerRepository
	Heartbeats   core.HeartbeatRepository // Optional: liveness row upserted each tick
	BatchSize    int                      // Optional: due tasks per sweep, default 100
	MaxCatchUp   int                      // Optional: missed occurrences scanned per task
	InstanceID   string                   // Optional: heartbeat identity
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// SchedulerService walks active time-based tasks, materializes due firings,
// and advances each task's stored next fire. Safe under concurrent replicas:
// every task is processed under a transaction-scoped advisory lock.
type SchedulerService struct {
	repo         core.SchedulerRepository
	heartbeats   core.HeartbeatRepository
	batchSize    int
	maxCatchUp   int
	instanceID   string
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SchedulerRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.InstanceID == "" {
		hostname, _ := os.Hostname()
		opts.InstanceID = fmt.Sprintf("scheduler-%s-%d", hostname, os.Getpid())
	}

	return &SchedulerService{
		repo:         opts.Repo,
		heartbeats:   opts.Heartbeats,
		batchSize:    opts.BatchSize,
		maxCatchUp:   opts.MaxCatchUp,
		instanceID:   opts.InstanceID,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "scheduler_service"),
	}, nil
}

// Tick processes due tasks and materializes firings. Returns the number of
// tasks that produced a change (firing inserted or next fire advanced).
//
// Concurrency safety:
//   - Each task is handled under pg_try_advisory_xact_lock; contended tasks
//     are skipped, another replica owns them this sweep.
//   - The task row is re-read with FOR UPDATE SKIP LOCKED inside the lock so
//     decisions never act on a stale snapshot.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	s.beat(ctx, now)

	due, err := s.repo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	processed := 0
	for _, task := range due {
		worked := false
		lockOK, lockErr := s.repo.TryWithTaskLock(ctx, task.ID, func(ctx context.Context, tx core.SchedulerTx) error {
			w, processErr := s.processTask(ctx, tx, task.ID, now)
			if w {
				worked = true
			}
			return processErr
		})
		if lockErr != nil {
			return processed, fmt.Errorf("process task %s: %w", task.ID, lockErr)
		}
		if lockOK && worked {
			processed++
		}
		// lockOK==false means another replica holds this task; skip.
	}

	return processed, nil
}

// processTask evaluates one task's schedule while holding its advisory lock.
// Returns worked=true when this invocation changed state.
func (s *SchedulerService) processTask(
	ctx context.Context,
	tx core.SchedulerTx,
	taskID string,
	now time.Time,
) (bool, error) {
	task, err := tx.LockTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil || task.Status != model.TaskStatusActive {
		// Deleted, row-locked elsewhere, or paused/canceled since ListDue.
		return false, nil
	}

	spec := schedule.SpecFromTask(task)

	from := task.NextRunAt
	if from == nil {
		// No stored next fire: recover it from the schedule instead of firing.
		first, ok, ferr := spec.First(now)
		if ferr != nil {
			return true, s.pauseInvalid(ctx, tx, task, ferr)
		}
		if !ok {
			// Exhausted schedule; a once-task that already fired, typically.
			return false, nil
		}
		if serr := tx.SetNextRunAt(ctx, task.ID, &first); serr != nil {
			return false, serr
		}
		s.logger.InfoContext(ctx, "recovered next fire",
			"task_id", task.ID, "next_run_at", first)
		return true, nil
	}

	p, err := plan.Compute(spec, *from, now, s.maxCatchUp)
	if err != nil {
		return true, s.pauseInvalid(ctx, tx, task, err)
	}

	worked := false
	if p.Due() {
		inserted, ierr := tx.InsertDueWork(ctx, task.ID, *p.CatchUp)
		if ierr != nil {
			return worked, fmt.Errorf("insert due work: %w", ierr)
		}
		if inserted {
			worked = true
		}
		if p.Dropped > 0 {
			details, _ := json.Marshal(map[string]any{
				"dropped":  p.Dropped,
				"fired_at": p.CatchUp.UTC().Format(time.RFC3339),
			})
			if aerr := tx.Audit(ctx, &model.AuditEntry{
				Actor:     SchedulerActor,
				Action:    model.AuditMisfire,
				SubjectID: &task.ID,
				Details:   details,
			}); aerr != nil {
				return worked, aerr
			}
			s.logger.WarnContext(ctx, "coalesced missed firings",
				"task_id", task.ID, "dropped", p.Dropped)
		}
	}

	if err := tx.SetNextRunAt(ctx, task.ID, p.NextRunAt); err != nil {
		return worked, err
	}
	if !timePtrEqual(task.NextRunAt, p.NextRunAt) {
		worked = true
	}
	return worked, nil
}

// pauseInvalid pauses a task whose schedule no longer parses and records why.
// Pausing instead of erroring keeps one broken task from wedging the sweep.
func (s *SchedulerService) pauseInvalid(
	ctx context.Context,
	tx core.SchedulerTx,
	task *model.Task,
	cause error,
) error {
	var parseErr *schedule.ParseError
	if !errors.As(cause, &parseErr) {
		return cause
	}

	s.logger.ErrorContext(ctx, "pausing task with invalid schedule",
		"task_id", task.ID, "schedule_kind", task.ScheduleKind,
		"schedule_expr", task.ScheduleExpr, "error", cause)

	if err := tx.SetStatus(ctx, task.ID, model.TaskStatusPaused); err != nil {
		return err
	}
	if err := tx.SetNextRunAt(ctx, task.ID, nil); err != nil {
		return err
	}
	details, _ := json.Marshal(map[string]any{
		"schedule_kind": string(task.ScheduleKind),
		"schedule_expr": task.ScheduleExpr,
		"error":         cause.Error(),
	})
	return tx.Audit(ctx, &model.AuditEntry{
		Actor:     SchedulerActor,
		Action:    model.AuditScheduleInvalid,
		SubjectID: &task.ID,
		Details:   details,
	})
}

// WaitForTaskChange blocks until a task mutation wakes the scheduler loop.
func (s *SchedulerService) WaitForTaskChange(ctx context.Context) error {
	return s.repo.WaitForTaskChange(ctx)
}

func (s *SchedulerService) beat(ctx context.Context, now time.Time) {
	if s.heartbeats == nil {
		return
	}
	hostname, _ := os.Hostname()
	if err := s.heartbeats.Upsert(ctx, &model.WorkerHeartbeat{
		WorkerID:  s.instanceID,
		Component: model.ComponentScheduler,
		LastSeen:  now.UTC(),
		PID:       os.Getpid(),
		Hostname:  hostname,
	}); err != nil {
		s.logger.WarnContext(ctx, "scheduler heartbeat failed", "error", err)
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
