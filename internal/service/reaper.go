package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/backoff"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	obserrors "github.com/ordinaut/ordinaut/internal/observability/errors"
	"github.com/ordinaut/ordinaut/internal/observability/metrics"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
)

// leaseExpiredError is recorded on runs closed by the reaper.
const leaseExpiredError = "lease expired before the worker finalized the run"

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Runs       core.RunRepository       // Required: run repository
	Work       core.DueWorkRepository   // Required: due work repository
	Audit      core.AuditRepository     // Required: audit log
	Heartbeats core.HeartbeatRepository // Required: worker heartbeats
	Config     config.ReaperConfig      // Required: reaper configuration
	Logger     *slog.Logger             // Optional: structured logger
	Metrics    statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// ReaperService recovers orchestrator state abandoned by dead workers.
//
// This service manages:
// - Failing in-flight runs whose lease expired without finalization, then
//   requeueing or dropping their firing depending on the retry budget.
// - Unlocking claimed due_work rows whose claim lease lapsed.
// - Pruning stale worker heartbeats.
type ReaperService struct {
	runs       core.RunRepository
	work       core.DueWorkRepository
	audit      core.AuditRepository
	heartbeats core.HeartbeatRepository
	config     config.ReaperConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Work == nil {
		return nil, errors.New("DueWorkRepository is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("AuditRepository is required")
	}
	if opts.Heartbeats == nil {
		return nil, errors.New("HeartbeatRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"batch_size", opts.Config.BatchSize,
			"heartbeat_max_age", opts.Config.HeartbeatMaxAge,
		)
	}

	return &ReaperService{
		runs:       opts.Runs,
		work:       opts.Work,
		audit:      opts.Audit,
		heartbeats: opts.Heartbeats,
		config:     opts.Config,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if _, err := s.RunCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.RunCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// RunCleanup performs all cleanup operations once and reports what was touched.
func (s *ReaperService) RunCleanup(ctx context.Context) (core.CleanupStats, error) {
	start := time.Now()
	var (
		stats              core.CleanupStats
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        func(ctx context.Context) (int64, error) { return s.reapExpiredLeases(ctx, &stats) },
			label:     "reap expired leases",
			count:     &metricsData.LeasesCount,
			metricErr: &metricsData.LeasesErr,
		},
		{
			fn:        func(ctx context.Context) (int64, error) { return s.clearExpiredLocks(ctx, &stats) },
			label:     "clear expired claim locks",
			count:     &metricsData.LocksCount,
			metricErr: &metricsData.LocksErr,
		},
		{
			fn:        func(ctx context.Context) (int64, error) { return s.pruneHeartbeats(ctx, &stats) },
			label:     "prune stale heartbeats",
			count:     &metricsData.HeartbeatsCount,
			metricErr: &metricsData.HeartbeatsErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return stats, context.Canceled
		}
		return stats, fmt.Errorf("cleanup failed: %w", joined)
	}

	return stats, nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// reapExpiredLeases fails in-flight runs whose worker lease lapsed and settles
// their firing: requeue with backoff while retry budget remains, drop with an
// audit record once it is exhausted. Loops until no more rows match to handle
// large datasets in batches.
func (s *ReaperService) reapExpiredLeases(ctx context.Context, stats *core.CleanupStats) (int64, error) {
	var totalCount int64
	for {
		now := time.Now().UTC()
		leases, err := s.runs.ListExpiredLeases(ctx, now, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		if len(leases) == 0 {
			break
		}

		for i := range leases {
			if err := s.reapLease(ctx, &leases[i], now, stats); err != nil {
				return totalCount, err
			}
			totalCount++
			stats.RunsExpired++
		}

		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaped expired run leases", "count", totalCount)
	}

	return totalCount, nil
}

func (s *ReaperService) reapLease(ctx context.Context, lease *core.ExpiredLease, now time.Time, stats *core.CleanupStats) error {
	run := &lease.Run
	task := &lease.Task

	if err := s.runs.FailRun(ctx, run.ID, leaseExpiredError, now); err != nil {
		return fmt.Errorf("fail run %s: %w", run.ID, err)
	}

	if run.DueWorkID == nil {
		// The firing was already settled elsewhere; the run row was the only orphan.
		return nil
	}

	if run.Attempt > task.MaxRetries {
		if err := s.work.Delete(ctx, *run.DueWorkID); err != nil {
			return fmt.Errorf("drop exhausted firing %d: %w", *run.DueWorkID, err)
		}
		s.auditLeaseLoss(ctx, task, run)
		stats.WorkDropped++
		if s.logger != nil {
			s.logger.WarnContext(ctx, "run lease lost with retry budget exhausted",
				"task_id", task.ID, "run_id", run.ID, "attempt", run.Attempt)
		}
		return nil
	}

	delay := backoff.ForTask(task, s.config.BackoffBase).Delay(run.Attempt)
	if err := s.work.Requeue(ctx, *run.DueWorkID, now.Add(delay), run.Attempt); err != nil {
		return fmt.Errorf("requeue firing %d: %w", *run.DueWorkID, err)
	}
	stats.WorkRequeued++
	if s.logger != nil {
		s.logger.InfoContext(ctx, "requeued firing after lease loss",
			"task_id", task.ID, "run_id", run.ID, "attempt", run.Attempt, "delay", delay)
	}
	return nil
}

func (s *ReaperService) auditLeaseLoss(ctx context.Context, task *model.Task, run *model.TaskRun) {
	details, _ := json.Marshal(map[string]any{
		"run_id":      run.ID,
		"attempt":     run.Attempt,
		"max_retries": task.MaxRetries,
		"lease_owner": run.LeaseOwner,
	})
	if err := s.audit.Insert(ctx, &model.AuditEntry{
		Actor:     "reaper",
		Action:    model.AuditTerminalLeaseLoss,
		SubjectID: &task.ID,
		Details:   details,
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", model.AuditTerminalLeaseLoss, "task_id", task.ID, "error", err)
	}
}

// clearExpiredLocks unlocks claimed due_work rows whose lease lapsed before a
// run row was opened. Loops until no more rows are affected.
func (s *ReaperService) clearExpiredLocks(ctx context.Context, stats *core.CleanupStats) (int64, error) {
	var totalCount int64
	for {
		count, err := s.work.ClearExpiredLocks(ctx, time.Now().UTC(), s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		stats.LocksCleared += int(count)
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "cleared expired claim locks", "count", totalCount)
	}

	return totalCount, nil
}

// pruneHeartbeats deletes heartbeat rows of workers gone longer than the
// configured max age.
func (s *ReaperService) pruneHeartbeats(ctx context.Context, stats *core.CleanupStats) (int64, error) {
	var totalCount int64
	for {
		cutoff := time.Now().UTC().Add(-s.config.HeartbeatMaxAge)
		count, err := s.heartbeats.Prune(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		stats.HeartbeatsPruned += int(count)
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned stale worker heartbeats",
			"count", totalCount,
			"max_age", s.config.HeartbeatMaxAge,
		)
	}

	return totalCount, nil
}

type cleanupMetrics struct {
	LeasesCount     int64
	LeasesErr       error
	LocksCount      int64
	LocksErr        error
	HeartbeatsCount int64
	HeartbeatsErr   error
	Elapsed         time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.LeasesCount + m.LocksCount + m.HeartbeatsCount
	firstErr := firstError(m.LeasesErr, m.LocksErr, m.HeartbeatsErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("reap_leases", m.LeasesCount, m.LeasesErr)
	s.emitCleanupOperationMetric("clear_locks", m.LocksCount, m.LocksErr)
	s.emitCleanupOperationMetric("prune_heartbeats", m.HeartbeatsCount, m.HeartbeatsErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.rows_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
