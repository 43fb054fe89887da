// Package reaper provides the adapter that runs lease recovery and cleanup.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
	"github.com/ordinaut/ordinaut/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	// Optional dependency injections for testing/decoupling
	Runs       core.RunRepository
	Work       core.DueWorkRepository
	Audit      core.AuditRepository
	Heartbeats core.HeartbeatRepository
	Metrics    statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper: reaper,
		logger: opts.Logger,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireReaperService wires up all dependencies for the reaper service.
func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	runs := opts.Runs
	if runs == nil {
		runs = data.NewRunRepo(opts.DB, data.RepoConfig{})
	}
	work := opts.Work
	if work == nil {
		work = data.NewDueWorkRepo(opts.DB, data.RepoConfig{})
	}
	audit := opts.Audit
	if audit == nil {
		audit = data.NewAuditRepo(opts.DB, data.RepoConfig{})
	}
	heartbeats := opts.Heartbeats
	if heartbeats == nil {
		heartbeats = data.NewHeartbeatRepo(opts.DB, data.RepoConfig{})
	}

	// Use NewReaperService instead of Must to allow error propagation
	return service.NewReaperService(service.ReaperServiceOptions{
		Runs:       runs,
		Work:       work,
		Audit:      audit,
		Heartbeats: heartbeats,
		Config:     opts.Config,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
