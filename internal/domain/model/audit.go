//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"time"
)

// Audit action verbs recorded in the append-only audit log.
const (
	// AuditTaskCreated records a task creation.
	AuditTaskCreated = "task_created"
	// AuditTaskUpdated records a task mutation.
	AuditTaskUpdated = "task_updated"
	// AuditTaskCanceled records a task cancellation.
	AuditTaskCanceled = "task_canceled"
	// AuditAgentCreated records an agent registration.
	AuditAgentCreated = "agent_created"
	// AuditMisfire records dropped firings when catch-up work is coalesced.
	AuditMisfire = "misfire"
	// AuditDedupeSkip records a firing satisfied by a recent successful run.
	AuditDedupeSkip = "dedupe_skip"
	// AuditScheduleInvalid records a task paused over an unparseable schedule.
	AuditScheduleInvalid = "schedule_invalid"
	// AuditTerminalLeaseLoss records a reaped run whose retry budget was exhausted.
	AuditTerminalLeaseLoss = "terminal_lease_loss"
	// AuditEventFired records an external event materializing due work.
	AuditEventFired = "event_fired"
)

// AuditEntry is one append-only audit record. The store forbids updates and
// deletes on the underlying table.
type AuditEntry struct {
	ID        int64           `json:"id"                   db:"id"`
	Actor     string          `json:"actor"                db:"actor"`
	Action    string          `json:"action"               db:"action"`
	SubjectID *string         `json:"subject_id,omitempty" db:"subject_id"`
	Details   json.RawMessage `json:"details,omitempty"    db:"details"`
	CreatedAt time.Time       `json:"created_at"           db:"created_at"`
}

// AuditListOptions controls paging and filtering for reading the audit log.
type AuditListOptions struct {
	Action    *string // Optional filter by action verb
	SubjectID *string // Optional filter by subject
	Limit     int
	Offset    int
}
