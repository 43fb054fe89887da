// Package scheduler provides the adapter that runs the scheduler sweep loop.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/observability/metrics"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
	"github.com/ordinaut/ordinaut/internal/service"
)

// Runner drives the scheduler service: a periodic sweep plus an early wakeup
// whenever a task mutation is announced over LISTEN/NOTIFY.
type Runner struct {
	scheduler core.TaskScheduler
	waiter    taskChangeWaiter
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// taskChangeWaiter blocks until a task changes or the context ends.
type taskChangeWaiter interface {
	WaitForTaskChange(ctx context.Context) error
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  config.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Optional dependency injections for testing/decoupling
	Repo       core.SchedulerRepository
	Heartbeats core.HeartbeatRepository
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewSchedulerRepo(opts.DB, data.RepoConfig{})
	}
	heartbeats := opts.Heartbeats
	if heartbeats == nil && opts.DB != nil {
		heartbeats = data.NewHeartbeatRepo(opts.DB, data.RepoConfig{})
	}

	svc, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Repo:       repo,
		Heartbeats: heartbeats,
		BatchSize:  opts.Config.BatchSize,
		MaxCatchUp: opts.Config.MaxCatchUp,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		scheduler: svc,
		waiter:    svc,
		interval:  opts.Config.Interval,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Config.Interval <= 0 {
		opts.Config.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Between ticks it waits on task-change notifications so a freshly created
// task fires without waiting out the full interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	wake := r.startChangeListener(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-wake:
			r.tick(ctx, time.Now().UTC())

		case now := <-ticker.C:
			r.tick(ctx, now.UTC())
		}
	}
}

// startChangeListener forwards task-change notifications to a wakeup channel.
// A nil waiter degrades to pure interval polling.
func (r *Runner) startChangeListener(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	if r.waiter == nil {
		return wake
	}

	go func() {
		for {
			if err := r.waiter.WaitForTaskChange(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.WarnContext(ctx, "task change listener error", "error", err)
				select {
				case <-time.After(r.interval):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
				// A wakeup is already pending; coalesce.
			}
		}
	}()

	return wake
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	start := time.Now()
	processed, err := r.scheduler.Tick(ctx, now)
	elapsed := time.Since(start)

	r.emitTickMetrics(processed, elapsed, err)

	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
		}
		return
	}
	if processed > 0 {
		r.logger.InfoContext(ctx, "scheduler tick complete",
			"processed", processed, "elapsed", elapsed)
	}
}

func (r *Runner) emitTickMetrics(processed int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if processed == 0 {
		result = metrics.ResultNoop
	}

	metrics.EmitSchedulerTick(r.metrics, metrics.SchedulerTickMetric{
		Result:   result,
		Worked:   processed,
		Duration: elapsed,
		Err:      err,
	})
}
