// Package testutil provides testing utilities and helpers for the orchestrator.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// TaskRequestBuilder provides a fluent interface for building CreateTaskRequest objects for testing.
type TaskRequestBuilder struct {
	req *model.CreateTaskRequest
}

// NewTaskRequest creates a new TaskRequestBuilder with sensible defaults.
func NewTaskRequest() *TaskRequestBuilder {
	return &TaskRequestBuilder{
		req: &model.CreateTaskRequest{
			Title:        "test task",
			ScheduleKind: model.ScheduleKindOnce,
			ScheduleExpr: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
			Timezone:     "UTC",
			Payload:      json.RawMessage(`{"pipeline": [{"id": "ping", "uses": "builtin:echo", "input": {"msg": "hi"}}]}`),
			Priority:     5,
			MaxRetries:   3,
		},
	}
}

// WithTitle sets the task title.
func (b *TaskRequestBuilder) WithTitle(title string) *TaskRequestBuilder {
	b.req.Title = title
	return b
}

// WithSchedule sets the schedule kind and expression together.
func (b *TaskRequestBuilder) WithSchedule(kind model.ScheduleKind, expr string) *TaskRequestBuilder {
	b.req.ScheduleKind = kind
	b.req.ScheduleExpr = expr
	return b
}

// WithTimezone sets the schedule timezone.
func (b *TaskRequestBuilder) WithTimezone(tz string) *TaskRequestBuilder {
	b.req.Timezone = tz
	return b
}

// WithPayload sets the pipeline payload.
func (b *TaskRequestBuilder) WithPayload(payload json.RawMessage) *TaskRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the pipeline payload from a string.
func (b *TaskRequestBuilder) WithPayloadString(payload string) *TaskRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithPriority sets the task priority.
func (b *TaskRequestBuilder) WithPriority(priority int) *TaskRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithDedupe sets the dedupe key and window.
func (b *TaskRequestBuilder) WithDedupe(key string, windowSeconds int) *TaskRequestBuilder {
	b.req.DedupeKey = &key
	b.req.DedupeWindowSeconds = windowSeconds
	return b
}

// WithMaxRetries sets the retry budget.
func (b *TaskRequestBuilder) WithMaxRetries(maxRetries int) *TaskRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// WithBackoff sets the backoff strategy.
func (b *TaskRequestBuilder) WithBackoff(strategy model.BackoffStrategy) *TaskRequestBuilder {
	b.req.BackoffStrategy = strategy
	return b
}

// WithConcurrencyKey sets the concurrency key.
func (b *TaskRequestBuilder) WithConcurrencyKey(key string) *TaskRequestBuilder {
	b.req.ConcurrencyKey = &key
	return b
}

// Build returns the constructed CreateTaskRequest.
func (b *TaskRequestBuilder) Build() *model.CreateTaskRequest {
	return b.req
}

// Common test task request presets

// OnceTaskRequest creates a one-shot task request firing at the given instant.
func OnceTaskRequest(at time.Time) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithSchedule(model.ScheduleKindOnce, at.UTC().Format(time.RFC3339)).
		Build()
}

// CronTaskRequest creates a cron task request with the given expression.
func CronTaskRequest(expr string) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithTitle("cron task").
		WithSchedule(model.ScheduleKindCron, expr).
		Build()
}

// EventTaskRequest creates an event-driven task request subscribed to topic.
func EventTaskRequest(topic string) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithTitle("event task").
		WithSchedule(model.ScheduleKindEvent, topic).
		Build()
}

// HighPriorityTaskRequest creates a priority-9 task request.
func HighPriorityTaskRequest() *model.CreateTaskRequest {
	return NewTaskRequest().
		WithTitle("urgent task").
		WithPriority(9).
		Build()
}

// RetryableTaskRequest creates a task request with custom retry settings.
func RetryableTaskRequest(maxRetries int, strategy model.BackoffStrategy) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithMaxRetries(maxRetries).
		WithBackoff(strategy).
		Build()
}

// AgentRequest creates an agent registration request.
func AgentRequest(name string, scopes ...string) *model.CreateAgentRequest {
	return &model.CreateAgentRequest{Name: name, Scopes: scopes}
}
