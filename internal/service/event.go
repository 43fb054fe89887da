package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// EventServiceOptions groups dependencies for EventService.
type EventServiceOptions struct {
	Tasks        core.TaskRepository
	Work         core.DueWorkRepository
	Audit        core.AuditRepository
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// EventService fires event-driven tasks from external envelopes. Publishing
// is idempotent per (task, instant): the queue's uniqueness constraint absorbs
// duplicate deliveries of the same envelope.
type EventService struct {
	tasks        core.TaskRepository
	work         core.DueWorkRepository
	audit        core.AuditRepository
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewEventService constructs a new EventService.
func NewEventService(opts EventServiceOptions) (*EventService, error) {
	if opts.Tasks == nil {
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
	return &EventService{
		tasks:        opts.Tasks,
		work:         opts.Work,
		audit:        opts.Audit,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "event_service"),
	}, nil
}

// MustNewEventService constructs a new EventService and panics on error.
func MustNewEventService(opts EventServiceOptions) *EventService {
	svc, err := NewEventService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create EventService: %v", err))
	}
	return svc
}

// Publish materializes one firing for every active subscriber of the
// envelope's topic. Tasks that already have a pending firing at this instant
// are counted as matched but not fired again.
func (s *EventService) Publish(ctx context.Context, actor string, env *model.EventEnvelope) (*model.PublishEventResponse, error) {
	if err := env.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	subscribers, err := s.tasks.ListActiveByTopic(ctx, env.Topic)
	if err != nil {
		return nil, fmt.Errorf("list subscribers for topic %q: %w", env.Topic, err)
	}

	now := s.timeProvider.Now().UTC()
	resp := &model.PublishEventResponse{
		Topic:   env.Topic,
		Matched: len(subscribers),
	}

	for i := range subscribers {
		task := &subscribers[i]
		inserted, ierr := s.work.Insert(ctx, task.ID, now)
		if ierr != nil {
			return nil, fmt.Errorf("fire task %s: %w", task.ID, ierr)
		}
		if inserted {
			resp.FiredTasks = append(resp.FiredTasks, task.ID)
		}
	}

	s.writeEventAudit(ctx, actor, env, resp)

	s.logger.InfoContext(ctx, "event published",
		"topic", env.Topic, "source", env.Source,
		"matched", resp.Matched, "fired", len(resp.FiredTasks))
	return resp, nil
}

func (s *EventService) writeEventAudit(ctx context.Context, actor string, env *model.EventEnvelope, resp *model.PublishEventResponse) {
	details, _ := json.Marshal(map[string]any{
		"source":      env.Source,
		"matched":     resp.Matched,
		"fired_tasks": resp.FiredTasks,
	})
	topic := env.Topic
	if err := s.audit.Insert(ctx, &model.AuditEntry{
		Actor:     actor,
		Action:    model.AuditEventFired,
		SubjectID: &topic,
		Details:   details,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", model.AuditEventFired, "topic", env.Topic, "error", err)
	}
}
