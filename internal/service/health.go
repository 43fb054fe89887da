package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// defaultHeartbeatInterval matches the worker's default heartbeat cadence.
// Liveness lookups reach back three intervals, the dead-worker rule.
const defaultHeartbeatInterval = 10 * time.Second

// Component status values reported on /health.
const (
	HealthStatusOK   = "ok"
	HealthStatusDown = "down"
)

// ComponentHealth is one entry in the /health component list.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthServiceOptions groups dependencies for HealthService.
type HealthServiceOptions struct {
	DB *sql.DB
	// Redis is probed as a health component when set. Nil when the event
	// bridge is not part of this deployment.
	Redis      redis.UniversalClient
	Tasks      core.TaskRepository
	Runs       core.RunRepository
	Work       core.DueWorkRepository
	Heartbeats core.HeartbeatRepository

	// HeartbeatInterval is the workers' configured heartbeat cadence; the
	// liveness window is three times this. Defaults to 10s.
	HeartbeatInterval time.Duration

	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// HealthStatus is the aggregate health report served by the API.
type HealthStatus struct {
	Healthy    bool                    `json:"healthy"`
	Components []ComponentHealth       `json:"components"`
	Tasks      model.TaskStats         `json:"tasks"`
	Runs       model.RunStats          `json:"runs"`
	Queue      model.QueueStats        `json:"queue"`
	QueueLag   float64                 `json:"queue_lag_seconds"`
	Workers    []model.WorkerHeartbeat `json:"workers,omitempty"`
	Schedulers []model.WorkerHeartbeat `json:"schedulers,omitempty"`
	CheckedAt  time.Time               `json:"checked_at"`
}

func (s *HealthStatus) addComponent(name, status, message string) {
	s.Components = append(s.Components, ComponentHealth{Name: name, Status: status, Message: message})
	if status != HealthStatusOK {
		s.Healthy = false
	}
}

// HealthService aggregates liveness and backlog signals for probes and
// operators.
type HealthService struct {
	db           *sql.DB
	redis        redis.UniversalClient
	tasks        core.TaskRepository
	runs         core.RunRepository
	work         core.DueWorkRepository
	heartbeats   core.HeartbeatRepository
	hbWindow     time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewHealthService constructs a new HealthService.
func NewHealthService(opts HealthServiceOptions) (*HealthService, error) {
	if opts.DB == nil {
		return nil, errors.New("database handle is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Work == nil {
		return nil, errors.New("DueWorkRepository is required")
	}
	if opts.Heartbeats == nil {
		return nil, errors.New("HeartbeatRepository is required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HealthService{
		db:           opts.DB,
		redis:        opts.Redis,
		tasks:        opts.Tasks,
		runs:         opts.Runs,
		work:         opts.Work,
		heartbeats:   opts.Heartbeats,
		hbWindow:     3 * opts.HeartbeatInterval,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "health_service"),
	}, nil
}

// MustNewHealthService constructs a new HealthService and panics on error.
func MustNewHealthService(opts HealthServiceOptions) *HealthService {
	svc, err := NewHealthService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create HealthService: %v", err))
	}
	return svc
}

// Live reports process liveness. It never touches the database so a stalled
// pool cannot fail the liveness probe.
func (s *HealthService) Live() bool {
	return true
}

// Ready reports whether this instance can usefully accept traffic: the
// database answers and at least one worker has heartbeated within three
// heartbeat intervals. Used by the readiness probe.
func (s *HealthService) Ready(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	now := s.timeProvider.Now().UTC()
	beats, err := s.heartbeats.ListSince(ctx, now.Add(-s.hbWindow))
	if err != nil {
		return fmt.Errorf("list heartbeats: %w", err)
	}
	for _, hb := range beats {
		if hb.Component == model.ComponentWorker {
			return nil
		}
	}
	return fmt.Errorf("no live worker heartbeat within %s", s.hbWindow)
}

// Check assembles the full health report: a per-component status list plus
// queue backlog and run statistics. A database failure marks the report
// unhealthy but still returns whatever signals were gathered.
func (s *HealthService) Check(ctx context.Context) *HealthStatus {
	now := s.timeProvider.Now().UTC()
	status := &HealthStatus{
		Healthy:   true,
		CheckedAt: now,
	}

	dbUp := true
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.ErrorContext(ctx, "health check database ping failed", "error", err)
		dbUp = false
		status.addComponent("database", HealthStatusDown, err.Error())
	} else {
		status.addComponent("database", HealthStatusOK, "connected")
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.ErrorContext(ctx, "health check redis ping failed", "error", err)
			status.addComponent("redis", HealthStatusDown, err.Error())
		} else {
			status.addComponent("redis", HealthStatusOK, "connected")
		}
	}

	if !dbUp {
		status.addComponent("scheduler", HealthStatusDown, "database unreachable")
		status.addComponent("workers", HealthStatusDown, "database unreachable")
		return status
	}

	if stats, err := s.tasks.Stats(ctx); err != nil {
		s.degrade(ctx, status, "task stats", err)
	} else {
		status.Tasks = stats
	}

	if stats, err := s.runs.Stats(ctx); err != nil {
		s.degrade(ctx, status, "run stats", err)
	} else {
		status.Runs = stats
	}

	if stats, err := s.work.QueueStats(ctx); err != nil {
		s.degrade(ctx, status, "queue stats", err)
	} else {
		status.Queue = stats
		status.QueueLag = stats.Lag(now).Seconds()
	}

	beats, err := s.heartbeats.ListSince(ctx, now.Add(-s.hbWindow))
	if err != nil {
		s.degrade(ctx, status, "heartbeats", err)
		status.addComponent("scheduler", HealthStatusDown, "heartbeat lookup failed")
		status.addComponent("workers", HealthStatusDown, "heartbeat lookup failed")
		return status
	}
	for _, hb := range beats {
		switch hb.Component {
		case model.ComponentScheduler:
			status.Schedulers = append(status.Schedulers, hb)
		default:
			status.Workers = append(status.Workers, hb)
		}
	}

	if len(status.Schedulers) > 0 {
		status.addComponent("scheduler", HealthStatusOK,
			fmt.Sprintf("%d live", len(status.Schedulers)))
	} else {
		status.addComponent("scheduler", HealthStatusDown,
			fmt.Sprintf("no scheduler heartbeat within %s", s.hbWindow))
	}
	if len(status.Workers) > 0 {
		status.addComponent("workers", HealthStatusOK,
			fmt.Sprintf("%d live", len(status.Workers)))
	} else {
		status.addComponent("workers", HealthStatusDown,
			fmt.Sprintf("no worker heartbeat within %s", s.hbWindow))
	}
	return status
}

func (s *HealthService) degrade(ctx context.Context, status *HealthStatus, what string, err error) {
	s.logger.WarnContext(ctx, "health check signal unavailable", "signal", what, "error", err)
	status.Healthy = false
}
