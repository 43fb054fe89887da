package core

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// TaskScheduler materializes due firings. Tick returns how many tasks the
// sweep processed.
type TaskScheduler interface {
	Tick(ctx context.Context, now time.Time) (int, error)
}

// ProcessOutcome names what happened to one claimed firing.
type ProcessOutcome string

const (
	// OutcomeCompleted means the pipeline ran to success.
	OutcomeCompleted ProcessOutcome = "completed"
	// OutcomeFailed means the firing failed terminally.
	OutcomeFailed ProcessOutcome = "failed"
	// OutcomeRetried means a transient failure re-armed the firing.
	OutcomeRetried ProcessOutcome = "retried"
	// OutcomeSkipped means a recent successful run satisfied the firing.
	OutcomeSkipped ProcessOutcome = "skipped"
	// OutcomeDeferred means the concurrency gate was held elsewhere and the
	// claim was released.
	OutcomeDeferred ProcessOutcome = "deferred"
)

// WorkProcessor executes one claimed firing end to end.
type WorkProcessor interface {
	Process(ctx context.Context, claim *model.ClaimedWork) (ProcessOutcome, error)
}

// CleanupStats summarizes one reaper cycle.
type CleanupStats struct {
	RunsExpired      int
	WorkRequeued     int
	WorkDropped      int
	LocksCleared     int
	HeartbeatsPruned int
}

// Total returns the number of rows the cycle touched.
func (s CleanupStats) Total() int {
	return s.RunsExpired + s.WorkRequeued + s.WorkDropped + s.LocksCleared + s.HeartbeatsPruned
}

// Reaper recovers state abandoned by dead workers.
type Reaper interface {
	RunCleanup(ctx context.Context) (CleanupStats, error)
}

// EventPublisher fires event-driven tasks from an external envelope.
type EventPublisher interface {
	Publish(ctx context.Context, actor string, env *model.EventEnvelope) (*model.PublishEventResponse, error)
}
