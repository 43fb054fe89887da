package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/adapters/events"
	"github.com/ordinaut/ordinaut/internal/adapters/reaper"
	schedrunner "github.com/ordinaut/ordinaut/internal/adapters/scheduler"
	"github.com/ordinaut/ordinaut/internal/adapters/tools"
	"github.com/ordinaut/ordinaut/internal/adapters/worker"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/observability/prom"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
	"github.com/ordinaut/ordinaut/internal/service"
)

// SchedulerRunConfig contains configuration for the scheduler loop.
type SchedulerRunConfig struct {
	DB      *sql.DB
	Config  config.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// RunScheduler starts the scheduler sweep loop and blocks until ctx ends.
func RunScheduler(ctx context.Context, cfg SchedulerRunConfig) error {
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}
	return runner.Run(ctx)
}

// WorkerRunConfig contains configuration for the pipeline worker pool.
type WorkerRunConfig struct {
	DB       *sql.DB
	Config   config.WorkerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier service.RunOutcomeNotifier
	Prom     *prom.Metrics
}

// RunWorker starts the claim-and-execute worker pool and blocks until ctx ends.
func RunWorker(ctx context.Context, cfg WorkerRunConfig) error {
	invoker := tools.NewInvoker(tools.InvokerOptions{
		Timeout: cfg.Config.ToolTimeout,
		Logger:  cfg.Logger,
	})

	runner, err := worker.NewRunner(worker.RunnerOptions{
		DB:       cfg.DB,
		Config:   cfg.Config,
		Invoker:  invoker,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Notifier: cfg.Notifier,
		Prom:     cfg.Prom,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}
	return runner.Run(ctx)
}

// ReaperRunConfig contains configuration for the lease reaper.
type ReaperRunConfig struct {
	DB      *sql.DB
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// RunReaper starts the reaper cleanup loop and blocks until ctx ends.
func RunReaper(ctx context.Context, cfg ReaperRunConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}
	return runner.Run(ctx)
}

// EventBridgeRunConfig contains configuration for the Redis Streams bridge.
type EventBridgeRunConfig struct {
	RedisClient redis.UniversalClient
	Publisher   core.EventPublisher
	Config      config.EventsConfig
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// RunEventBridge starts the external event bridge and blocks until ctx ends.
func RunEventBridge(ctx context.Context, cfg EventBridgeRunConfig) error {
	bridge, err := events.NewBridge(events.BridgeOptions{
		Client:    cfg.RedisClient,
		Publisher: cfg.Publisher,
		Config:    cfg.Config,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create event bridge: %w", err)
	}
	return bridge.Run(ctx)
}
