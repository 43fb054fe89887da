// Package worker provides the adapter that claims due firings and executes
// their pipelines through the worker service.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/domain/pipeline"
	"github.com/ordinaut/ordinaut/internal/observability/prom"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
	"github.com/ordinaut/ordinaut/internal/service"
)

// pollFallback bounds how long a claim slot blocks on LISTEN/NOTIFY before
// polling anyway. Covers missed notifications and firings scheduled into the
// near future.
const pollFallback = 5 * time.Second

// RunnerOptions configures the worker runner adapter.
type RunnerOptions struct {
	DB       *sql.DB
	Config   config.WorkerConfig
	Invoker  pipeline.ToolInvoker
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier service.RunOutcomeNotifier

	// Prom receives per-step duration observations for the /metrics
	// histogram. Optional.
	Prom *prom.Metrics

	// Optional dependency injections (useful for tests/decoupling)
	Runs       core.RunRepository
	Work       core.DueWorkRepository
	Agents     core.AgentRepository
	Audit      core.AuditRepository
	Heartbeats core.HeartbeatRepository
	Gate       core.ConcurrencyGate
}

// Runner claims due firings and hands each to the worker service. One runner
// owns a fixed number of claim slots plus a heartbeat loop.
type Runner struct {
	processor  core.WorkProcessor
	work       core.DueWorkRepository
	heartbeats core.HeartbeatRepository
	workerID   string
	lease      time.Duration
	hbInterval time.Duration
	slots      int
	logger     *slog.Logger
	processed  atomic.Int64
}

// NewRunner creates a new worker runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	workerID := newWorkerID()

	work := opts.Work
	if work == nil {
		work = data.NewDueWorkRepo(opts.DB, data.RepoConfig{})
	}
	runs := opts.Runs
	if runs == nil {
		runs = data.NewRunRepo(opts.DB, data.RepoConfig{})
	}
	agents := opts.Agents
	if agents == nil {
		agents = data.NewAgentRepo(opts.DB, data.RepoConfig{})
	}
	audit := opts.Audit
	if audit == nil {
		audit = data.NewAuditRepo(opts.DB, data.RepoConfig{})
	}
	heartbeats := opts.Heartbeats
	if heartbeats == nil {
		heartbeats = data.NewHeartbeatRepo(opts.DB, data.RepoConfig{})
	}
	gate := opts.Gate
	if gate == nil {
		gate = data.NewAdvisoryGate(opts.DB, data.RepoConfig{})
	}

	executor, err := pipeline.NewExecutor(pipeline.ExecutorOptions{
		Invoker:        opts.Invoker,
		Logger:         opts.Logger,
		DefaultTimeout: opts.Config.DefaultStepTimeout,
		ObserveStep:    stepObserver(opts.Metrics, opts.Prom),
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline executor: %w", err)
	}

	processor, err := service.NewWorkerService(service.WorkerServiceOptions{
		Runs:        runs,
		Work:        work,
		Agents:      agents,
		Audit:       audit,
		Gate:        gate,
		Executor:    executor,
		Notifier:    opts.Notifier,
		Metrics:     opts.Metrics,
		WorkerID:    workerID,
		BackoffBase: opts.Config.BackoffBase,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build worker service: %w", err)
	}

	return &Runner{
		processor:  processor,
		work:       work,
		heartbeats: heartbeats,
		workerID:   workerID,
		lease:      opts.Config.Lease,
		hbInterval: opts.Config.HeartbeatInterval,
		slots:      opts.Config.Concurrency,
		logger:     opts.Logger.With("component", "worker_runner", "worker_id", workerID),
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil {
		return errors.New("database connection is required")
	}
	if opts.Invoker == nil {
		return errors.New("tool invoker is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.Concurrency < 1 {
		opts.Config.Concurrency = 1
	}
	if opts.Config.Lease <= 0 {
		opts.Config.Lease = 300 * time.Second
	}
	if opts.Config.HeartbeatInterval <= 0 {
		opts.Config.HeartbeatInterval = 10 * time.Second
	}
	return nil
}

// newWorkerID builds a lease owner identity unique across restarts so a
// recycled process never inherits a dead sibling's leases.
func newWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

// Run starts the claim slots and the heartbeat loop, and blocks until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner",
		"slots", r.slots, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.slots {
		group.Go(func() error { return r.runClaimLoop(gctx) })
	}
	group.Go(func() error { return r.runHeartbeatLoop(gctx) })

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runClaimLoop claims and processes firings until the context ends.
func (r *Runner) runClaimLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		claim, err := r.work.ClaimNext(ctx, core.ClaimParams{
			WorkerID: r.workerID,
			Lease:    r.lease,
		})
		switch {
		case err == nil:
			r.process(ctx, claim)
		case errors.Is(err, model.ErrNoDueWork):
			r.waitForWork(ctx)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.logger.ErrorContext(ctx, "claim failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
	return ctx.Err()
}

func (r *Runner) process(ctx context.Context, claim *model.ClaimedWork) {
	outcome, err := r.processor.Process(ctx, claim)
	if err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "firing processing failed",
			"task_id", claim.Task.ID, "due_work_id", claim.Work.ID, "error", err)
	}
	if outcome != core.OutcomeDeferred {
		r.processed.Add(1)
	}
}

// waitForWork blocks on the queue's NOTIFY channel with a poll fallback.
func (r *Runner) waitForWork(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, pollFallback)
	defer cancel()

	err := r.work.WaitForNotification(waitCtx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return
	}
	r.logger.WarnContext(ctx, "queue notification wait failed", "error", err)
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
}

// runHeartbeatLoop upserts this worker's liveness row at the configured
// cadence so operators and the health endpoint can see it.
func (r *Runner) runHeartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.hbInterval)
	defer ticker.Stop()

	r.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	hostname, _ := os.Hostname()
	if err := r.heartbeats.Upsert(ctx, &model.WorkerHeartbeat{
		WorkerID:  r.workerID,
		Component: model.ComponentWorker,
		LastSeen:  time.Now().UTC(),
		Processed: int(r.processed.Load()),
		PID:       os.Getpid(),
		Hostname:  hostname,
	}); err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "worker heartbeat failed", "error", err)
	}
}

// stepObserver adapts the metrics sinks to the executor's per-step hook.
// Each step lands in StatsD and in the step-duration histogram on /metrics.
func stepObserver(sink statsd.Sink, promMetrics *prom.Metrics) func(address string, d time.Duration, success bool) {
	if sink == nil && promMetrics == nil {
		return nil
	}
	return func(address string, d time.Duration, success bool) {
		if promMetrics != nil {
			promMetrics.ObserveStep(address, d, success)
		}
		if sink == nil {
			return
		}
		result := "success"
		if !success {
			result = "error"
		}
		sink.Timing("pipeline.step_duration", d, map[string]string{
			"tool":   address,
			"result": result,
		})
	}
}
