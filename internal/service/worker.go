package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ordinaut/ordinaut/internal/errors"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/backoff"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/domain/pipeline"
	"github.com/ordinaut/ordinaut/internal/observability/metrics"
	"github.com/ordinaut/ordinaut/internal/observability/notify"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
)

// gateDeferDelay is how far a firing is pushed when its concurrency key is
// held elsewhere. Short, so the firing re-enters the queue quickly once the
// other holder finishes.
const gateDeferDelay = time.Second

// RunOutcomeNotifier fans run outcome events out to configured sinks and the
// owning agent's webhook. Implemented by webhooknotifier.Service.
type RunOutcomeNotifier interface {
	NotifyRunOutcome(ctx context.Context, agentWebhookURL string, payload notify.RunOutcomePayload)
}

// WorkerServiceOptions groups dependencies for WorkerService.
type WorkerServiceOptions struct {
	Runs     core.RunRepository
	Work     core.DueWorkRepository
	Agents   core.AgentRepository
	Audit    core.AuditRepository
	Gate     core.ConcurrencyGate
	Executor *pipeline.Executor

	// Notifier receives terminal failures and recoveries. Optional.
	Notifier RunOutcomeNotifier
	// Metrics receives run lifecycle emissions. Optional.
	Metrics statsd.Sink

	// WorkerID identifies this worker in lease_owner columns and logs.
	WorkerID string
	// BackoffBase seeds retry delay computation for fixed and linear
	// strategies; defaults to backoff.DefaultBase.
	BackoffBase time.Duration

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// WorkerService executes one claimed firing end to end: concurrency gating,
// dedupe, run bookkeeping, pipeline execution, and outcome settlement. The
// claim loop in the worker adapter owns claiming and polling; this service
// owns everything between claim and finalize.
type WorkerService struct {
	runs        core.RunRepository
	work        core.DueWorkRepository
	agents      core.AgentRepository
	audit       core.AuditRepository
	gate        core.ConcurrencyGate
	executor    *pipeline.Executor
	notifier    RunOutcomeNotifier
	metrics     statsd.Sink
	workerID    string
	backoffBase time.Duration

	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewWorkerService constructs a new WorkerService.
func NewWorkerService(opts WorkerServiceOptions) (*WorkerService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Work == nil {
		return nil, errors.New("DueWorkRepository is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("AgentRepository is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("AuditRepository is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("ConcurrencyGate is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("pipeline Executor is required")
	}
	if opts.WorkerID == "" {
		return nil, errors.New("WorkerID is required")
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = backoff.DefaultBase
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WorkerService{
		runs:         opts.Runs,
		work:         opts.Work,
		agents:       opts.Agents,
		audit:        opts.Audit,
		gate:         opts.Gate,
		executor:     opts.Executor,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		workerID:     opts.WorkerID,
		backoffBase:  opts.BackoffBase,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "worker", "worker_id", opts.WorkerID),
	}, nil
}

// MustNewWorkerService constructs a new WorkerService and panics on error.
func MustNewWorkerService(opts WorkerServiceOptions) *WorkerService {
	svc, err := NewWorkerService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create WorkerService: %v", err))
	}
	return svc
}

// Process runs one claimed firing to completion. The claim's row lock is the
// worker's lease: execution is bounded by locked_until so a worker never
// finalizes a run the reaper may already have recovered.
func (s *WorkerService) Process(ctx context.Context, claim *model.ClaimedWork) (core.ProcessOutcome, error) {
	task := &claim.Task
	work := &claim.Work
	logger := s.logger.With("task_id", task.ID, "due_work_id", work.ID)

	if task.ConcurrencyKey != nil && *task.ConcurrencyKey != "" {
		release, acquired, err := s.gate.TryAcquire(ctx, *task.ConcurrencyKey)
		if err != nil {
			return core.OutcomeDeferred, fmt.Errorf("acquire concurrency gate: %w", err)
		}
		if !acquired {
			return s.deferFiring(ctx, logger, task, work)
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				logger.WarnContext(ctx, "concurrency gate release failed",
					"concurrency_key", *task.ConcurrencyKey, "error", rerr)
			}
		}()
	}

	now := s.timeProvider.Now().UTC()

	if skipped, err := s.maybeSkipDuplicate(ctx, logger, task, work); err != nil {
		return core.OutcomeFailed, err
	} else if skipped {
		return core.OutcomeSkipped, nil
	}

	attempt := work.Attempts + 1
	run := &model.TaskRun{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		DueWorkID:   &work.ID,
		LeaseOwner:  s.workerID,
		LeasedUntil: work.LockedUntil,
		StartedAt:   now,
		Attempt:     attempt,
	}
	if err := s.runs.Open(ctx, run); err != nil {
		return core.OutcomeFailed, fmt.Errorf("open run: %w", err)
	}

	logger = logger.With("run_id", run.ID, "attempt", attempt)
	result := s.execute(ctx, task, work, now)

	switch result.Disposition {
	case pipeline.DispositionOK:
		return s.settleSuccess(ctx, logger, task, work, run, result)
	case pipeline.DispositionRetry:
		if attempt <= task.MaxRetries {
			return s.settleRetry(ctx, logger, task, work, run, result)
		}
		// Retry budget exhausted: the transient failure is terminal now.
		fallthrough
	default:
		return s.settleTerminal(ctx, logger, task, work, run, result)
	}
}

func (s *WorkerService) deferFiring(ctx context.Context, logger *slog.Logger, task *model.Task, work *model.DueWork) (core.ProcessOutcome, error) {
	if err := s.work.Release(ctx, work.ID, gateDeferDelay); err != nil {
		return core.OutcomeDeferred, fmt.Errorf("release deferred firing: %w", err)
	}
	logger.InfoContext(ctx, "firing deferred, concurrency key held elsewhere",
		"concurrency_key", *task.ConcurrencyKey)
	s.emit(metrics.RunMetric{
		ScheduleKind: string(task.ScheduleKind),
		Outcome:      string(core.OutcomeDeferred),
		Result:       metrics.ResultNoop,
	})
	return core.OutcomeDeferred, nil
}

// maybeSkipDuplicate satisfies the firing without running when a successful
// run already finished inside the task's dedupe window. The window is
// anchored at the firing's scheduled run time, not the claim time, so a
// firing that sat in the queue behind a backlog is judged by when it was
// supposed to fire.
func (s *WorkerService) maybeSkipDuplicate(ctx context.Context, logger *slog.Logger, task *model.Task, work *model.DueWork) (bool, error) {
	if task.DedupeKey == nil || task.DedupeWindowSeconds <= 0 {
		return false, nil
	}

	last, err := s.runs.LastSuccess(ctx, task.ID)
	if err != nil {
		return false, fmt.Errorf("look up last success: %w", err)
	}
	if last == nil || last.FinishedAt == nil {
		return false, nil
	}

	window := time.Duration(task.DedupeWindowSeconds) * time.Second
	if work.RunAt.Sub(*last.FinishedAt) >= window {
		return false, nil
	}

	if err := s.work.Delete(ctx, work.ID); err != nil {
		return false, fmt.Errorf("delete deduped firing: %w", err)
	}
	s.writeAudit(ctx, s.workerID, model.AuditDedupeSkip, task.ID, map[string]any{
		"dedupe_key":      *task.DedupeKey,
		"window_seconds":  task.DedupeWindowSeconds,
		"last_success_at": last.FinishedAt.UTC().Format(time.RFC3339),
	})
	logger.InfoContext(ctx, "firing skipped, recent success inside dedupe window",
		"dedupe_key", *task.DedupeKey, "last_run_id", last.ID)
	s.emit(metrics.RunMetric{
		ScheduleKind: string(task.ScheduleKind),
		Outcome:      string(core.OutcomeSkipped),
		Result:       metrics.ResultNoop,
	})
	return true, nil
}

// execute parses and runs the task pipeline under the lease deadline.
func (s *WorkerService) execute(ctx context.Context, task *model.Task, work *model.DueWork, now time.Time) pipeline.Result {
	payload, err := pipeline.ParsePayload(task.Payload)
	if err != nil {
		// Admission validates payloads, so a parse failure here means the
		// stored column was mutated out of band. Permanent either way.
		return pipeline.Result{
			Disposition: pipeline.DispositionTerminal,
			Err:         fmt.Errorf("stored payload no longer parses: %w", err),
			StepIndex:   -1,
		}
	}

	runCtx := ctx
	if work.LockedUntil != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, *work.LockedUntil)
		defer cancel()
	}

	return s.executor.Run(runCtx, payload, now)
}

func (s *WorkerService) settleSuccess(ctx context.Context, logger *slog.Logger, task *model.Task, work *model.DueWork, run *model.TaskRun, result pipeline.Result) (core.ProcessOutcome, error) {
	finishedAt := s.timeProvider.Now().UTC()
	err := s.runs.Finalize(ctx, core.FinalizeParams{
		RunID:      run.ID,
		DueWorkID:  work.ID,
		Success:    true,
		Output:     result.Output,
		FinishedAt: finishedAt,
	})
	if err != nil {
		return core.OutcomeFailed, fmt.Errorf("finalize successful run: %w", err)
	}

	logger.InfoContext(ctx, "run completed",
		"duration", finishedAt.Sub(run.StartedAt))
	s.emit(metrics.RunMetric{
		ScheduleKind: string(task.ScheduleKind),
		Outcome:      string(core.OutcomeCompleted),
		Result:       metrics.ResultSuccess,
		Duration:     finishedAt.Sub(run.StartedAt),
	})

	if run.Attempt > 1 {
		s.notifyOutcome(ctx, logger, task, run, notify.RunOutcomePayload{
			Kind:       notify.KindRecovered,
			Severity:   notify.SeverityInfo,
			OccurredAt: finishedAt,
		})
	}
	return core.OutcomeCompleted, nil
}

func (s *WorkerService) settleRetry(ctx context.Context, logger *slog.Logger, task *model.Task, work *model.DueWork, run *model.TaskRun, result pipeline.Result) (core.ProcessOutcome, error) {
	finishedAt := s.timeProvider.Now().UTC()
	delay := backoff.ForTask(task, s.backoffBase).Delay(run.Attempt)
	errMsg := result.Err.Error()

	err := s.runs.Finalize(ctx, core.FinalizeParams{
		RunID:          run.ID,
		DueWorkID:      work.ID,
		Success:        false,
		Error:          &errMsg,
		ErrorStepIndex: stepIndexPtr(result),
		ErrorStepID:    stepIDPtr(result),
		FinishedAt:     finishedAt,
		Retry: &core.FinalizeRetry{
			RunAt:    finishedAt.Add(delay),
			Attempts: run.Attempt,
		},
	})
	if err != nil {
		return core.OutcomeFailed, fmt.Errorf("finalize retried run: %w", err)
	}

	logger.WarnContext(ctx, "run failed, retry scheduled",
		"error", result.Err, "step_id", result.StepID,
		"delay", delay, "max_retries", task.MaxRetries)
	s.emit(metrics.RunMetric{
		ScheduleKind: string(task.ScheduleKind),
		Outcome:      string(core.OutcomeRetried),
		Result:       metrics.ResultError,
		Duration:     finishedAt.Sub(run.StartedAt),
		Err:          result.Err,
	})
	return core.OutcomeRetried, nil
}

func (s *WorkerService) settleTerminal(ctx context.Context, logger *slog.Logger, task *model.Task, work *model.DueWork, run *model.TaskRun, result pipeline.Result) (core.ProcessOutcome, error) {
	finishedAt := s.timeProvider.Now().UTC()
	errMsg := "pipeline failed"
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	err := s.runs.Finalize(ctx, core.FinalizeParams{
		RunID:          run.ID,
		DueWorkID:      work.ID,
		Success:        false,
		Error:          &errMsg,
		ErrorStepIndex: stepIndexPtr(result),
		ErrorStepID:    stepIDPtr(result),
		FinishedAt:     finishedAt,
	})
	if err != nil {
		return core.OutcomeFailed, fmt.Errorf("finalize failed run: %w", err)
	}

	logger.ErrorContext(ctx, "run failed terminally",
		"error", result.Err, "step_id", result.StepID, "attempt", run.Attempt)
	s.emit(metrics.RunMetric{
		ScheduleKind: string(task.ScheduleKind),
		Outcome:      string(core.OutcomeFailed),
		Result:       metrics.ResultError,
		Duration:     finishedAt.Sub(run.StartedAt),
		Err:          result.Err,
	})

	s.notifyOutcome(ctx, logger, task, run, notify.RunOutcomePayload{
		Kind:       notify.KindTerminalFailure,
		Severity:   notify.SeverityCritical,
		Error:      errMsg,
		StepID:     result.StepID,
		OccurredAt: finishedAt,
	})
	return core.OutcomeFailed, nil
}

// notifyOutcome fills the shared payload fields and dispatches. Agent lookup
// failures degrade to a webhook-less notification rather than losing it.
func (s *WorkerService) notifyOutcome(ctx context.Context, logger *slog.Logger, task *model.Task, run *model.TaskRun, payload notify.RunOutcomePayload) {
	if s.notifier == nil {
		return
	}

	payload.TaskID = task.ID
	payload.TaskTitle = task.Title
	payload.RunID = run.ID
	payload.Attempt = run.Attempt
	payload.MaxRetries = task.MaxRetries

	webhookURL := ""
	agent, err := s.agents.GetByID(ctx, task.CreatedBy)
	switch {
	case err != nil:
		if !apperrors.IsNotFound(err) {
			logger.WarnContext(ctx, "agent lookup for notification failed",
				"agent_id", task.CreatedBy, "error", err)
		}
	case agent != nil:
		payload.AgentID = agent.ID
		payload.AgentName = agent.Name
		if agent.WebhookURL != nil {
			webhookURL = *agent.WebhookURL
		}
	}

	s.notifier.NotifyRunOutcome(ctx, webhookURL, payload)
}

func (s *WorkerService) writeAudit(ctx context.Context, actor, action, subjectID string, details map[string]any) {
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

func (s *WorkerService) emit(m metrics.RunMetric) {
	metrics.EmitRunLifecycle(s.metrics, m)
}

func stepIndexPtr(result pipeline.Result) *int {
	if result.StepIndex < 0 {
		return nil
	}
	idx := result.StepIndex
	return &idx
}

func stepIDPtr(result pipeline.Result) *string {
	if result.StepID == "" {
		return nil
	}
	id := result.StepID
	return &id
}
