package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the REST API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the task scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeWorker runs the pipeline execution workers.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs lease recovery and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeEvents runs the external event bridge.
	ServiceModeEvents ServiceMode = "events"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeWorker,
		ServiceModeReaper,
		ServiceModeEvents,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeScheduler,
			ServiceModeWorker,
			ServiceModeReaper,
			ServiceModeEvents:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, worker, reaper, events)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// IntervalSeconds is the seconds between scheduler sweeps, read from
	// SCHEDULER_INTERVAL. The loop also wakes early on task-change
	// notifications.
	IntervalSeconds int `env:"SCHEDULER_INTERVAL" envDefault:"5"`

	// Interval is the derived sweep interval. Sanitize fills it from
	// IntervalSeconds when unset; code constructing the config directly may
	// set it to sub-second values.
	Interval time.Duration

	// BatchSize is the number of due tasks evaluated per sweep.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`

	// MaxCatchUp bounds how many missed occurrences a sweep walks per task
	// before jumping straight past now. Zero selects the built-in default.
	MaxCatchUp int `env:"SCHEDULER_MAX_CATCH_UP" envDefault:"0"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval == 0 {
		s.Interval = time.Duration(s.IntervalSeconds) * time.Second
	}
	if s.Interval < 100*time.Millisecond {
		s.Interval = 100 * time.Millisecond
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.MaxCatchUp < 0 {
		s.MaxCatchUp = 0
	}
}

// WorkerConfig contains pipeline worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of claim-and-execute slots per process.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"10"`

	// LeaseSeconds is the claim lock and run lease horizon in seconds, read
	// from LEASE_DURATION_SECONDS.
	LeaseSeconds int `env:"LEASE_DURATION_SECONDS" envDefault:"300"`

	// Lease is the derived lease duration. Pipelines are cut off at the
	// lease boundary so a worker never outlives its claim.
	Lease time.Duration

	// HeartbeatSeconds is the liveness upsert cadence in seconds, read from
	// HEARTBEAT_INTERVAL_SECONDS. Workers missing three consecutive beats
	// count as dead.
	HeartbeatSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"10"`

	// HeartbeatInterval is the derived heartbeat cadence.
	HeartbeatInterval time.Duration

	// BackoffBase seeds retry delay computation for fixed and linear
	// backoff strategies.
	BackoffBase time.Duration `env:"WORKER_BACKOFF_BASE" envDefault:"2s"`

	// DefaultStepTimeout bounds a pipeline step with no explicit timeout.
	DefaultStepTimeout time.Duration `env:"WORKER_DEFAULT_STEP_TIMEOUT" envDefault:"30s"`

	// ToolTimeout bounds one outbound tool HTTP call.
	ToolTimeout time.Duration `env:"WORKER_TOOL_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Lease == 0 {
		w.Lease = time.Duration(w.LeaseSeconds) * time.Second
	}
	if w.HeartbeatInterval == 0 {
		w.HeartbeatInterval = time.Duration(w.HeartbeatSeconds) * time.Second
	}
	if w.Lease < 5*time.Second {
		w.Lease = 5 * time.Second
	}
	if w.HeartbeatInterval < time.Second {
		w.HeartbeatInterval = time.Second
	}
	if w.BackoffBase <= 0 {
		w.BackoffBase = 2 * time.Second
	}
	if w.DefaultStepTimeout <= 0 {
		w.DefaultStepTimeout = 30 * time.Second
	}
	if w.ToolTimeout <= 0 {
		w.ToolTimeout = 30 * time.Second
	}
}

// ReaperConfig contains lease recovery service configuration.
type ReaperConfig struct {
	// IntervalSeconds is the seconds between reaper cycles, read from
	// REAPER_INTERVAL_SECONDS.
	IntervalSeconds int `env:"REAPER_INTERVAL_SECONDS" envDefault:"30"`

	// Interval is the derived cycle interval.
	Interval time.Duration

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`

	// HeartbeatMaxAge is how stale a worker heartbeat may grow before its
	// row is pruned.
	HeartbeatMaxAge time.Duration `env:"REAPER_HEARTBEAT_MAX_AGE" envDefault:"1h"`

	// BackoffBase seeds retry delay computation when requeueing firings
	// recovered from dead workers.
	BackoffBase time.Duration `env:"REAPER_BACKOFF_BASE" envDefault:"2s"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval == 0 {
		r.Interval = time.Duration(r.IntervalSeconds) * time.Second
	}
	// Enforce a minimum interval to prevent excessive database load
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.HeartbeatMaxAge < time.Minute {
		r.HeartbeatMaxAge = time.Minute
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = 2 * time.Second
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// EventsConfig contains the Redis Streams event bridge configuration.
type EventsConfig struct {
	// Stream is the Redis stream external events are read from.
	Stream string `env:"EVENTS_STREAM" envDefault:"ordinaut:events"`

	// Group is the consumer group name. Every orchestrator deployment
	// shares one group so each envelope is delivered once.
	Group string `env:"EVENTS_GROUP" envDefault:"ordinaut"`

	// Block is how long one XREADGROUP call waits for new entries.
	Block time.Duration `env:"EVENTS_BLOCK" envDefault:"5s"`

	// BatchSize is the maximum number of entries read per call.
	BatchSize int `env:"EVENTS_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to event bridge configuration values.
func (e *EventsConfig) Sanitize() {
	e.Stream = strings.TrimSpace(e.Stream)
	if e.Stream == "" {
		e.Stream = "ordinaut:events"
	}
	e.Group = strings.TrimSpace(e.Group)
	if e.Group == "" {
		e.Group = "ordinaut"
	}
	if e.Block <= 0 {
		e.Block = 5 * time.Second
	}
	if e.BatchSize < 1 {
		e.BatchSize = 1
	}
}
