//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"time"
)

// TaskRun represents one execution attempt of a task firing.
type TaskRun struct {
	ID             string          `json:"id"                         db:"id"`
	TaskID         string          `json:"task_id"                    db:"task_id"`
	DueWorkID      *int64          `json:"due_work_id,omitempty"      db:"due_work_id"`
	LeaseOwner     string          `json:"lease_owner"                db:"lease_owner"`
	LeasedUntil    *time.Time      `json:"leased_until,omitempty"     db:"leased_until"`
	StartedAt      time.Time       `json:"started_at"                 db:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"      db:"finished_at"`
	Success        *bool           `json:"success"                    db:"success"`
	Error          *string         `json:"error,omitempty"            db:"error"`
	ErrorStepIndex *int            `json:"step_index,omitempty"       db:"error_step_index"`
	ErrorStepID    *string         `json:"step_id,omitempty"          db:"error_step_id"`
	Attempt        int             `json:"attempt"                    db:"attempt"`
	Output         json.RawMessage `json:"output,omitempty"           db:"output"`
}

// InFlight reports whether the run has neither succeeded nor failed yet.
func (r *TaskRun) InFlight() bool {
	return r.Success == nil
}

// RunListOptions controls paging and filtering for listing runs of a task.
type RunListOptions struct {
	TaskID  string
	Success *bool // Optional filter by outcome
	Limit   int   // Pagination limit
	Offset  int   // Pagination offset
}

// RunStats represents counts of runs per outcome, used by health and metrics.
type RunStats struct {
	InFlight  int `json:"in_flight"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
