//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"time"
)

// ErrNoDueWork is returned when no due work is ready for claiming.
var ErrNoDueWork = errors.New("no due work available")

// DueWork announces a firing that is ready to execute. Rows are inserted by
// the scheduler (or an event publisher), locked by a worker during claim, and
// deleted on finalization or re-armed on retryable failure.
type DueWork struct {
	ID          int64      `json:"id"                     db:"id"`
	TaskID      string     `json:"task_id"                db:"task_id"`
	RunAt       time.Time  `json:"run_at"                 db:"run_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	LockedBy    *string    `json:"locked_by,omitempty"    db:"locked_by"`
	Attempts    int        `json:"attempts"               db:"attempts"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
}

// ClaimedWork pairs a locked due_work row with the task it belongs to. Claims
// always join the task so workers never race a second read against a
// concurrent task mutation.
type ClaimedWork struct {
	Work DueWork `json:"work"`
	Task Task    `json:"task"`
}

// QueueStats summarizes the due_work backlog for gauges and operators.
type QueueStats struct {
	Ready         int        `json:"ready"`
	Locked        int        `json:"locked"`
	Total         int        `json:"total"`
	OldestReadyAt *time.Time `json:"oldest_ready_at,omitempty"`
}

// Lag returns the age of the oldest ready firing, floored at zero.
func (s QueueStats) Lag(now time.Time) time.Duration {
	if s.OldestReadyAt == nil {
		return 0
	}
	d := now.Sub(*s.OldestReadyAt)
	if d < 0 {
		return 0
	}
	return d
}
