package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/domain/pipeline"
	"github.com/ordinaut/ordinaut/internal/domain/schedule"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo         core.TaskRepository
	Work         core.DueWorkRepository
	Audit        core.AuditRepository
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// TaskService provides the task lifecycle operations: create, read, update,
// cancel. Every mutation is audited and announced so a sleeping scheduler
// re-evaluates its calendar.
type TaskService struct {
	repo         core.TaskRepository
	work         core.DueWorkRepository
	audit        core.AuditRepository
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Work == nil {
		return nil, errors.New("DueWorkRepository is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("AuditRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TaskService{
		repo:         opts.Repo,
		work:         opts.Work,
		audit:        opts.Audit,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "task_service"),
	}, nil
}

// MustNewTaskService constructs a new TaskService and panics on error.
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create TaskService: %v", err))
	}
	return svc
}

// Create validates and persists a new task owned by actor. Time-based tasks
// get their first fire computed immediately so the scheduler has a calendar
// entry from the start.
func (s *TaskService) Create(ctx context.Context, actor string, req *model.CreateTaskRequest) (*model.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if _, err := pipeline.ParsePayload(req.Payload); err != nil {
		return nil, apperrors.ValidationField("payload", err.Error())
	}

	now := s.timeProvider.Now().UTC()
	task := &model.Task{
		ID:                  uuid.NewString(),
		Title:               req.Title,
		Description:         req.Description,
		CreatedBy:           actor,
		ScheduleKind:        req.ScheduleKind,
		ScheduleExpr:        req.ScheduleExpr,
		Timezone:            req.Timezone,
		Payload:             req.Payload,
		Status:              model.TaskStatusActive,
		Priority:            req.Priority,
		DedupeKey:           req.DedupeKey,
		DedupeWindowSeconds: req.DedupeWindowSeconds,
		MaxRetries:          req.MaxRetries,
		BackoffStrategy:     req.BackoffStrategy,
		ConcurrencyKey:      req.ConcurrencyKey,
	}

	spec := schedule.Spec{
		Kind:     task.ScheduleKind,
		Expr:     task.ScheduleExpr,
		Timezone: task.Timezone,
		Anchor:   now,
	}
	if err := spec.Validate(); err != nil {
		return nil, apperrors.ValidationField("schedule_expr", err.Error())
	}
	if !task.ScheduleKind.ExternallyFired() {
		first, ok, err := spec.First(now)
		if err != nil {
			return nil, apperrors.ValidationField("schedule_expr", err.Error())
		}
		if ok {
			task.NextRunAt = &first
		}
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, actor, model.AuditTaskCreated, task.ID, map[string]any{
		"title":         task.Title,
		"schedule_kind": string(task.ScheduleKind),
		"schedule_expr": task.ScheduleExpr,
	})
	s.notifyChanged(ctx, task.ID)

	s.logger.InfoContext(ctx, "task created",
		"task_id", task.ID, "schedule_kind", task.ScheduleKind, "created_by", actor)
	return task, nil
}

// Get retrieves a task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns tasks matching the filter options.
func (s *TaskService) List(ctx context.Context, opts model.TaskListOptions) ([]model.Task, error) {
	return s.repo.List(ctx, opts)
}

// Update applies a partial update. Canceled tasks are immutable. Schedule
// changes recompute the next fire; pausing or canceling drops pending firings
// so stale work never executes.
func (s *TaskService) Update(ctx context.Context, actor, id string, req *model.UpdateTaskRequest) (*model.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == model.TaskStatusCanceled {
		return nil, apperrors.Conflict("canceled tasks cannot be updated")
	}

	applyTaskUpdate(task, req)

	if len(req.Payload) > 0 {
		if _, perr := pipeline.ParsePayload(task.Payload); perr != nil {
			return nil, apperrors.ValidationField("payload", perr.Error())
		}
	}

	now := s.timeProvider.Now().UTC()
	statusChanged := req.Status != nil
	if req.ChangesSchedule() || (statusChanged && *req.Status == model.TaskStatusActive) {
		spec := schedule.Spec{
			Kind:     task.ScheduleKind,
			Expr:     task.ScheduleExpr,
			Timezone: task.Timezone,
			Anchor:   task.CreatedAt,
		}
		if verr := spec.Validate(); verr != nil {
			return nil, apperrors.ValidationField("schedule_expr", verr.Error())
		}
		task.NextRunAt = nil
		if !task.ScheduleKind.ExternallyFired() && task.Status == model.TaskStatusActive {
			first, ok, ferr := spec.First(now)
			if ferr != nil {
				return nil, apperrors.ValidationField("schedule_expr", ferr.Error())
			}
			if ok {
				task.NextRunAt = &first
			}
		}
	}
	if statusChanged && *req.Status != model.TaskStatusActive {
		task.NextRunAt = nil
	}

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}

	if statusChanged && *req.Status != model.TaskStatusActive {
		s.dropPending(ctx, task.ID)
	}

	action := model.AuditTaskUpdated
	if statusChanged && *req.Status == model.TaskStatusCanceled {
		action = model.AuditTaskCanceled
	}
	s.writeAudit(ctx, actor, action, task.ID, map[string]any{
		"status": string(task.Status),
	})
	s.notifyChanged(ctx, task.ID)

	return task, nil
}

// Cancel is a terminal transition: the task stops firing and its pending
// queue entries are removed. Already-claimed firings finish under their
// holding worker.
func (s *TaskService) Cancel(ctx context.Context, actor, id string) (*model.Task, error) {
	canceled := model.TaskStatusCanceled
	return s.Update(ctx, actor, id, &model.UpdateTaskRequest{Status: &canceled})
}

// Stats returns task counts per lifecycle state.
func (s *TaskService) Stats(ctx context.Context) (model.TaskStats, error) {
	return s.repo.Stats(ctx)
}

func (s *TaskService) dropPending(ctx context.Context, taskID string) {
	dropped, err := s.work.DeletePendingByTask(ctx, taskID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to drop pending firings",
			"task_id", taskID, "error", err)
		return
	}
	if dropped > 0 {
		s.logger.InfoContext(ctx, "dropped pending firings",
			"task_id", taskID, "count", dropped)
	}
}

// writeAudit records a mutation; audit failures are logged, never surfaced,
// so a log hiccup cannot fail the primary write that already committed.
func (s *TaskService) writeAudit(ctx context.Context, actor, action, subjectID string, details map[string]any) {
	raw, _ := json.Marshal(details)
	if err := s.audit.Insert(ctx, &model.AuditEntry{
		Actor:     actor,
		Action:    action,
		SubjectID: &subjectID,
		Details:   raw,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", action, "subject_id", subjectID, "error", err)
	}
}

func (s *TaskService) notifyChanged(ctx context.Context, taskID string) {
	if err := s.repo.NotifyChanged(ctx, taskID); err != nil {
		s.logger.WarnContext(ctx, "task change notify failed",
			"task_id", taskID, "error", err)
	}
}

func applyTaskUpdate(task *model.Task, req *model.UpdateTaskRequest) {
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.ScheduleKind != nil {
		task.ScheduleKind = *req.ScheduleKind
	}
	if req.ScheduleExpr != nil {
		task.ScheduleExpr = *req.ScheduleExpr
	}
	if req.Timezone != nil {
		task.Timezone = *req.Timezone
	}
	if len(req.Payload) > 0 {
		task.Payload = req.Payload
	}
	if req.DedupeKey != nil {
		task.DedupeKey = req.DedupeKey
	}
	if req.DedupeWindowSeconds != nil {
		task.DedupeWindowSeconds = *req.DedupeWindowSeconds
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	if req.BackoffStrategy != nil {
		task.BackoffStrategy = *req.BackoffStrategy
	}
	if req.ConcurrencyKey != nil {
		task.ConcurrencyKey = req.ConcurrencyKey
	}
}
