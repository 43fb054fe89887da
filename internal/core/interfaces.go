// Package core defines the repository and service ports of the orchestrator.
// Implementations live in internal/data and internal/service; adapters and
// handlers depend on these interfaces so they can be mocked in tests.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// TaskRepository persists tasks and their scheduling state.
type TaskRepository interface {
	Create(ctx context.Context, t *model.Task) error
	GetByID(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context, opts model.TaskListOptions) ([]model.Task, error)
	// ListActiveByTopic returns active event-driven tasks whose schedule
	// expression equals the topic.
	ListActiveByTopic(ctx context.Context, topic string) ([]model.Task, error)
	// Update writes every mutable column of the task row.
	Update(ctx context.Context, t *model.Task) error
	SetStatus(ctx context.Context, id string, status model.TaskStatus) error
	SetNextRunAt(ctx context.Context, id string, next *time.Time) error
	// NotifyChanged wakes listening scheduler instances after a task mutation.
	NotifyChanged(ctx context.Context, id string) error
	Stats(ctx context.Context) (model.TaskStats, error)
}

// ClaimParams identifies the claiming worker and the lease it takes.
type ClaimParams struct {
	WorkerID string
	Lease    time.Duration
}

// DueWorkRepository manages the firing queue. Claiming follows the
// SKIP LOCKED protocol: at most one worker ever holds a given row.
type DueWorkRepository interface {
	// Insert materializes a firing. A duplicate (task_id, run_at) pair is
	// tolerated and reported as inserted=false.
	Insert(ctx context.Context, taskID string, runAt time.Time) (bool, error)
	// ClaimNext locks and returns the highest-priority due firing together
	// with its task. Returns model.ErrNoDueWork when the queue is empty.
	ClaimNext(ctx context.Context, params ClaimParams) (*model.ClaimedWork, error)
	// Release drops the claim lock, optionally pushing run_at forward by delay.
	Release(ctx context.Context, id int64, delay time.Duration) error
	// Requeue re-arms a claimed firing for a later attempt.
	Requeue(ctx context.Context, id int64, runAt time.Time, attempts int) error
	// Delete finalizes a firing.
	Delete(ctx context.Context, id int64) error
	// DeletePendingByTask removes unclaimed firings of a task, used when a
	// task leaves the active state.
	DeletePendingByTask(ctx context.Context, taskID string) (int64, error)
	// ClearExpiredLocks unlocks rows whose claim lease lapsed without
	// finalization. Returns the number of rows cleared, up to limit.
	ClearExpiredLocks(ctx context.Context, now time.Time, limit int) (int64, error)
	// WaitForNotification blocks until a new firing is announced or ctx ends.
	WaitForNotification(ctx context.Context) error
	QueueStats(ctx context.Context) (model.QueueStats, error)
}

// FinalizeRetry re-arms the firing for another attempt instead of deleting it.
type FinalizeRetry struct {
	RunAt    time.Time
	Attempts int
}

// FinalizeParams closes a run and settles its firing in one transaction.
type FinalizeParams struct {
	RunID          string
	DueWorkID      int64
	Success        bool
	Error          *string
	ErrorStepIndex *int
	ErrorStepID    *string
	Output         json.RawMessage
	FinishedAt     time.Time
	// Retry, when set, requeues the firing; otherwise it is deleted.
	Retry *FinalizeRetry
}

// ExpiredLease pairs an orphaned in-flight run with its task for reaping.
type ExpiredLease struct {
	Run  model.TaskRun
	Task model.Task
}

// RunRepository persists execution attempts.
type RunRepository interface {
	// Open inserts an in-flight run row carrying the worker's lease.
	Open(ctx context.Context, run *model.TaskRun) error
	// Finalize records the run outcome and deletes or requeues the linked
	// firing atomically.
	Finalize(ctx context.Context, params FinalizeParams) error
	GetByID(ctx context.Context, id string) (*model.TaskRun, error)
	List(ctx context.Context, opts model.RunListOptions) ([]model.TaskRun, error)
	// LastSuccess returns the most recent successful run of the task, or nil.
	LastSuccess(ctx context.Context, taskID string) (*model.TaskRun, error)
	// ListExpiredLeases returns in-flight runs whose lease lapsed, joined with
	// their tasks.
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]ExpiredLease, error)
	// FailRun closes an orphaned run as failed with the given error message.
	FailRun(ctx context.Context, id, errMsg string, finishedAt time.Time) error
	Stats(ctx context.Context) (model.RunStats, error)
}

// AgentRepository persists registered agents.
type AgentRepository interface {
	Create(ctx context.Context, a *model.Agent) error
	GetByID(ctx context.Context, id string) (*model.Agent, error)
	GetByName(ctx context.Context, name string) (*model.Agent, error)
	List(ctx context.Context, limit, offset int) ([]model.Agent, error)
}

// AuditRepository appends to and reads the append-only audit log.
type AuditRepository interface {
	Insert(ctx context.Context, entry *model.AuditEntry) error
	List(ctx context.Context, opts model.AuditListOptions) ([]model.AuditEntry, error)
}

// HeartbeatRepository tracks worker and scheduler liveness.
type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb *model.WorkerHeartbeat) error
	// Prune deletes rows not refreshed since olderThan, up to limit.
	Prune(ctx context.Context, olderThan time.Time, limit int) (int64, error)
	ListSince(ctx context.Context, since time.Time) ([]model.WorkerHeartbeat, error)
}

// SchedulerTx exposes the operations a scheduler sweep performs while holding
// a task's advisory lock, all inside one transaction.
type SchedulerTx interface {
	// LockTask re-reads the task row with FOR UPDATE SKIP LOCKED. A nil task
	// means another instance holds the row lock; the sweep skips it.
	LockTask(ctx context.Context, id string) (*model.Task, error)
	InsertDueWork(ctx context.Context, taskID string, runAt time.Time) (bool, error)
	SetNextRunAt(ctx context.Context, id string, next *time.Time) error
	SetStatus(ctx context.Context, id string, status model.TaskStatus) error
	Audit(ctx context.Context, entry *model.AuditEntry) error
}

// SchedulerRepository is the store surface of the scheduler loop.
type SchedulerRepository interface {
	// ListDue returns active tasks whose next fire has arrived or whose next
	// fire is unknown and needs recovery.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Task, error)
	// TryWithTaskLock runs fn under the task's transaction-scoped advisory
	// lock. Returns false without running fn when the lock is contended.
	TryWithTaskLock(ctx context.Context, taskID string, fn func(ctx context.Context, tx SchedulerTx) error) (bool, error)
	// WaitForTaskChange blocks until a task mutation is announced or ctx ends.
	WaitForTaskChange(ctx context.Context) error
}

// ConcurrencyGate serializes firings that share a concurrency key across the
// whole deployment via session-scoped advisory locks.
type ConcurrencyGate interface {
	// TryAcquire takes the lock for key without blocking. When acquired, the
	// returned release must be called exactly once.
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}
