// Package model defines the core data types and structures used throughout the ordinaut task system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxTitleLen = 255

	// DefaultTimezone applies when a task omits its timezone.
	DefaultTimezone = "Europe/Chisinau"

	// DefaultPriority applies when a task omits its priority.
	DefaultPriority = 5

	minPriority = 1
	maxPriority = 9
)

// ScheduleKind determines the grammar of a task's schedule expression.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ScheduleKind string

// TaskStatus represents the lifecycle state of a task.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskStatus string

// BackoffStrategy names the retry delay policy applied between attempts.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type BackoffStrategy string

const (
	// ScheduleKindCron fires on a 5-field (or 6-field with seconds) cron expression.
	ScheduleKindCron ScheduleKind = "cron"
	// ScheduleKindRRule fires on an RFC-5545 recurrence rule.
	ScheduleKindRRule ScheduleKind = "rrule"
	// ScheduleKindOnce fires exactly once at an RFC-3339 instant.
	ScheduleKindOnce ScheduleKind = "once"
	// ScheduleKindEvent fires when an external event matching the expression topic arrives.
	ScheduleKindEvent ScheduleKind = "event"
	// ScheduleKindCondition behaves as event: firing is externally driven.
	ScheduleKindCondition ScheduleKind = "condition"

	// TaskStatusActive indicates the task is eligible for scheduling and execution.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusPaused indicates the task is retained but produces no firings.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusCanceled indicates the task is terminally stopped.
	TaskStatusCanceled TaskStatus = "canceled"

	// BackoffExponentialJitter doubles a 2s base per attempt with ±50% jitter, capped at 300s.
	BackoffExponentialJitter BackoffStrategy = "exponential_jitter"
	// BackoffFixed waits a constant base delay between attempts.
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear waits attempt multiplied by the base delay.
	BackoffLinear BackoffStrategy = "linear"
)

// Valid returns true if the ScheduleKind is supported.
func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleKindCron, ScheduleKindRRule, ScheduleKindOnce, ScheduleKindEvent, ScheduleKindCondition:
		return true
	default:
		return false
	}
}

// ExternallyFired reports whether firings for this kind come from outside the
// scheduler loop (event publication) rather than from wall-clock evaluation.
func (k ScheduleKind) ExternallyFired() bool {
	return k == ScheduleKindEvent || k == ScheduleKindCondition
}

// UnmarshalText implements encoding.TextUnmarshaler for ScheduleKind.
func (k *ScheduleKind) UnmarshalText(text []byte) error {
	v := ScheduleKind(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*k = v
		return nil
	}
	return fmt.Errorf("invalid ScheduleKind: %q", string(text))
}

// Valid returns true if the TaskStatus is supported.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusActive, TaskStatusPaused, TaskStatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a status change is allowed. Canceled is terminal.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == TaskStatusCanceled {
		return false
	}
	return true
}

// UnmarshalText implements encoding.TextUnmarshaler for TaskStatus.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	v := TaskStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid TaskStatus: %q", string(text))
}

// Valid returns true if the BackoffStrategy is supported.
func (b BackoffStrategy) Valid() bool {
	switch b {
	case BackoffExponentialJitter, BackoffFixed, BackoffLinear:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for BackoffStrategy.
func (b *BackoffStrategy) UnmarshalText(text []byte) error {
	v := BackoffStrategy(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*b = v
		return nil
	}
	return fmt.Errorf("invalid BackoffStrategy: %q", string(text))
}

// Task represents a scheduled unit of work owned by an agent.
type Task struct {
	ID                  string          `json:"id"                        db:"id"`
	Title               string          `json:"title"                     db:"title"`
	Description         string          `json:"description,omitempty"     db:"description"`
	CreatedBy           string          `json:"created_by"                db:"created_by"`
	ScheduleKind        ScheduleKind    `json:"schedule_kind"             db:"schedule_kind"`
	ScheduleExpr        string          `json:"schedule_expr"             db:"schedule_expr"`
	Timezone            string          `json:"timezone"                  db:"timezone"`
	Payload             json.RawMessage `json:"payload"                   db:"payload"`
	Status              TaskStatus      `json:"status"                    db:"status"`
	Priority            int             `json:"priority"                  db:"priority"`
	DedupeKey           *string         `json:"dedupe_key,omitempty"      db:"dedupe_key"`
	DedupeWindowSeconds int             `json:"dedupe_window_seconds"     db:"dedupe_window_seconds"`
	MaxRetries          int             `json:"max_retries"               db:"max_retries"`
	BackoffStrategy     BackoffStrategy `json:"backoff_strategy"          db:"backoff_strategy"`
	ConcurrencyKey      *string         `json:"concurrency_key,omitempty" db:"concurrency_key"`
	NextRunAt           *time.Time      `json:"next_run_at,omitempty"     db:"next_run_at"`
	CreatedAt           time.Time       `json:"created_at"                db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"                db:"updated_at"`
}

// CreateTaskRequest represents a request to create a new task.
type CreateTaskRequest struct {
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	ScheduleKind        ScheduleKind    `json:"schedule_kind"`
	ScheduleExpr        string          `json:"schedule_expr"`
	Timezone            string          `json:"timezone,omitempty"`
	Payload             json.RawMessage `json:"payload"`
	Priority            int             `json:"priority,omitempty"`
	DedupeKey           *string         `json:"dedupe_key,omitempty"`
	DedupeWindowSeconds int             `json:"dedupe_window_seconds,omitempty"`
	MaxRetries          int             `json:"max_retries,omitempty"`
	BackoffStrategy     BackoffStrategy `json:"backoff_strategy,omitempty"`
	ConcurrencyKey      *string         `json:"concurrency_key,omitempty"`
}

// Validate checks the CreateTaskRequest fields and normalizes defaults in place
// (timezone, priority, backoff strategy).
func (r *CreateTaskRequest) Validate() error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return errors.New("title is required and cannot be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return errors.New("title cannot exceed 255 characters")
	}
	r.Title = title
	if !r.ScheduleKind.Valid() {
		return fmt.Errorf("invalid schedule_kind: %q", r.ScheduleKind)
	}
	if strings.TrimSpace(r.ScheduleExpr) == "" {
		return errors.New("schedule_expr is required")
	}
	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %q", r.Timezone)
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return errors.New("priority must be between 1 and 9")
	}
	if r.DedupeKey != nil && strings.TrimSpace(*r.DedupeKey) == "" {
		r.DedupeKey = nil
	}
	if r.DedupeKey != nil && r.DedupeWindowSeconds <= 0 {
		return errors.New("dedupe_window_seconds must be > 0 when dedupe_key is set")
	}
	if r.DedupeKey == nil && r.DedupeWindowSeconds != 0 {
		return errors.New("dedupe_window_seconds requires dedupe_key")
	}
	if r.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if r.BackoffStrategy == "" {
		r.BackoffStrategy = BackoffExponentialJitter
	}
	if !r.BackoffStrategy.Valid() {
		return fmt.Errorf("invalid backoff_strategy: %q", r.BackoffStrategy)
	}
	if r.ConcurrencyKey != nil && strings.TrimSpace(*r.ConcurrencyKey) == "" {
		r.ConcurrencyKey = nil
	}
	return nil
}

// UpdateTaskRequest represents a partial update to an existing task.
type UpdateTaskRequest struct {
	Title               *string          `json:"title,omitempty"`
	Description         *string          `json:"description,omitempty"`
	Status              *TaskStatus      `json:"status,omitempty"`
	Priority            *int             `json:"priority,omitempty"`
	ScheduleKind        *ScheduleKind    `json:"schedule_kind,omitempty"`
	ScheduleExpr        *string          `json:"schedule_expr,omitempty"`
	Timezone            *string          `json:"timezone,omitempty"`
	Payload             json.RawMessage  `json:"payload,omitempty"`
	DedupeKey           *string          `json:"dedupe_key,omitempty"`
	DedupeWindowSeconds *int             `json:"dedupe_window_seconds,omitempty"`
	MaxRetries          *int             `json:"max_retries,omitempty"`
	BackoffStrategy     *BackoffStrategy `json:"backoff_strategy,omitempty"`
	ConcurrencyKey      *string          `json:"concurrency_key,omitempty"`
}

// HasUpdates reports whether any field is set in UpdateTaskRequest.
func (r *UpdateTaskRequest) HasUpdates() bool {
	return r.Title != nil || r.Description != nil || r.Status != nil || r.Priority != nil ||
		r.ScheduleKind != nil || r.ScheduleExpr != nil || r.Timezone != nil ||
		len(r.Payload) > 0 ||
		r.DedupeKey != nil || r.DedupeWindowSeconds != nil || r.MaxRetries != nil ||
		r.BackoffStrategy != nil || r.ConcurrencyKey != nil
}

// ChangesSchedule reports whether the update touches any field the next-fire
// computation depends on.
func (r *UpdateTaskRequest) ChangesSchedule() bool {
	return r.ScheduleKind != nil || r.ScheduleExpr != nil || r.Timezone != nil
}

// Validate validates UpdateTaskRequest, ensuring at least one field is set and values are sane.
func (r *UpdateTaskRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Title != nil {
		t := strings.TrimSpace(*r.Title)
		if t == "" {
			return errors.New("title cannot be empty")
		}
		if utf8.RuneCountInString(t) > maxTitleLen {
			return errors.New("title cannot exceed 255 characters")
		}
		*r.Title = t
	}
	if r.Status != nil && !r.Status.Valid() {
		return fmt.Errorf("invalid status: %q", *r.Status)
	}
	if r.Priority != nil && (*r.Priority < minPriority || *r.Priority > maxPriority) {
		return errors.New("priority must be between 1 and 9")
	}
	if r.ScheduleKind != nil && !r.ScheduleKind.Valid() {
		return fmt.Errorf("invalid schedule_kind: %q", *r.ScheduleKind)
	}
	if r.ScheduleExpr != nil && strings.TrimSpace(*r.ScheduleExpr) == "" {
		return errors.New("schedule_expr cannot be empty")
	}
	if r.Timezone != nil {
		tz := strings.TrimSpace(*r.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return fmt.Errorf("invalid timezone: %q", tz)
		}
		*r.Timezone = tz
	}
	if r.DedupeWindowSeconds != nil && *r.DedupeWindowSeconds < 0 {
		return errors.New("dedupe_window_seconds must be >= 0")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if r.BackoffStrategy != nil && !r.BackoffStrategy.Valid() {
		return fmt.Errorf("invalid backoff_strategy: %q", *r.BackoffStrategy)
	}
	return nil
}

// TaskListOptions controls paging and filtering for listing tasks.
type TaskListOptions struct {
	Status       *TaskStatus   // Optional filter by status
	ScheduleKind *ScheduleKind // Optional filter by schedule kind
	CreatedBy    *string       // Optional filter by owning agent id
	Limit        int           // Pagination limit
	Offset       int           // Pagination offset
}

// TaskStats represents counts of tasks per lifecycle state.
type TaskStats struct {
	Active   int `json:"active"`
	Paused   int `json:"paused"`
	Canceled int `json:"canceled"`
}
