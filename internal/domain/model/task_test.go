//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleKind_Valid(t *testing.T) {
	assert.True(t, ScheduleKindCron.Valid())
	assert.True(t, ScheduleKindRRule.Valid())
	assert.True(t, ScheduleKindOnce.Valid())
	assert.True(t, ScheduleKindEvent.Valid())
	assert.True(t, ScheduleKindCondition.Valid())
	assert.False(t, ScheduleKind("interval").Valid())
}

func TestScheduleKind_ExternallyFired(t *testing.T) {
	assert.True(t, ScheduleKindEvent.ExternallyFired())
	assert.True(t, ScheduleKindCondition.ExternallyFired())
	assert.False(t, ScheduleKindCron.ExternallyFired())
	assert.False(t, ScheduleKindOnce.ExternallyFired())
}

func TestScheduleKind_UnmarshalText(t *testing.T) {
	var k ScheduleKind
	err := k.UnmarshalText([]byte(" RRULE "))
	require.NoError(t, err)
	assert.Equal(t, ScheduleKindRRule, k)

	err = k.UnmarshalText([]byte("hourly"))
	assert.Error(t, err)
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, TaskStatusActive.CanTransitionTo(TaskStatusPaused))
	assert.True(t, TaskStatusPaused.CanTransitionTo(TaskStatusActive))
	assert.True(t, TaskStatusActive.CanTransitionTo(TaskStatusCanceled))
	assert.False(t, TaskStatusCanceled.CanTransitionTo(TaskStatusActive))
	assert.False(t, TaskStatusActive.CanTransitionTo(TaskStatus("archived")))
}

func TestBackoffStrategy_Valid(t *testing.T) {
	assert.True(t, BackoffExponentialJitter.Valid())
	assert.True(t, BackoffFixed.Valid())
	assert.True(t, BackoffLinear.Valid())
	assert.False(t, BackoffStrategy("fibonacci").Valid())
}

func validCreateTaskRequest() *CreateTaskRequest {
	return &CreateTaskRequest{
		Title:        "nightly digest",
		ScheduleKind: ScheduleKindCron,
		ScheduleExpr: "0 8 * * *",
		Payload:      json.RawMessage(`{"pipeline":[{"id":"a","uses":"builtin:echo"}]}`),
	}
}

func TestCreateTaskRequest_Validate_Defaults(t *testing.T) {
	req := validCreateTaskRequest()
	require.NoError(t, req.Validate())
	assert.Equal(t, DefaultTimezone, req.Timezone)
	assert.Equal(t, DefaultPriority, req.Priority)
	assert.Equal(t, BackoffExponentialJitter, req.BackoffStrategy)
}

func TestCreateTaskRequest_Validate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CreateTaskRequest)
		errorMsg string
	}{
		{
			name:     "missing title",
			mutate:   func(r *CreateTaskRequest) { r.Title = "  " },
			errorMsg: "title is required",
		},
		{
			name:     "bad kind",
			mutate:   func(r *CreateTaskRequest) { r.ScheduleKind = "interval" },
			errorMsg: "invalid schedule_kind",
		},
		{
			name:     "empty expression",
			mutate:   func(r *CreateTaskRequest) { r.ScheduleExpr = "" },
			errorMsg: "schedule_expr is required",
		},
		{
			name:     "bad timezone",
			mutate:   func(r *CreateTaskRequest) { r.Timezone = "Mars/Olympus" },
			errorMsg: "invalid timezone",
		},
		{
			name:     "missing payload",
			mutate:   func(r *CreateTaskRequest) { r.Payload = nil },
			errorMsg: "payload is required",
		},
		{
			name:     "priority too high",
			mutate:   func(r *CreateTaskRequest) { r.Priority = 10 },
			errorMsg: "priority must be between 1 and 9",
		},
		{
			name:     "priority too low",
			mutate:   func(r *CreateTaskRequest) { r.Priority = -1 },
			errorMsg: "priority must be between 1 and 9",
		},
		{
			name: "dedupe key without window",
			mutate: func(r *CreateTaskRequest) {
				k := "report"
				r.DedupeKey = &k
			},
			errorMsg: "dedupe_window_seconds must be > 0",
		},
		{
			name:     "window without dedupe key",
			mutate:   func(r *CreateTaskRequest) { r.DedupeWindowSeconds = 60 },
			errorMsg: "dedupe_window_seconds requires dedupe_key",
		},
		{
			name:     "negative retries",
			mutate:   func(r *CreateTaskRequest) { r.MaxRetries = -1 },
			errorMsg: "max_retries must be >= 0",
		},
		{
			name:     "unknown backoff",
			mutate:   func(r *CreateTaskRequest) { r.BackoffStrategy = "fibonacci" },
			errorMsg: "invalid backoff_strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateTaskRequest()
			tt.mutate(req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestCreateTaskRequest_Validate_BlankOptionalKeysDropped(t *testing.T) {
	req := validCreateTaskRequest()
	blank := "   "
	req.DedupeKey = &blank
	ck := " "
	req.ConcurrencyKey = &ck
	require.NoError(t, req.Validate())
	assert.Nil(t, req.DedupeKey)
	assert.Nil(t, req.ConcurrencyKey)
}

func TestUpdateTaskRequest_Validate(t *testing.T) {
	empty := &UpdateTaskRequest{}
	assert.Error(t, empty.Validate())

	status := TaskStatusPaused
	ok := &UpdateTaskRequest{Status: &status}
	assert.NoError(t, ok.Validate())

	bad := TaskStatus("archived")
	assert.Error(t, (&UpdateTaskRequest{Status: &bad}).Validate())

	p := 12
	assert.Error(t, (&UpdateTaskRequest{Priority: &p}).Validate())

	tz := "Not/AZone"
	assert.Error(t, (&UpdateTaskRequest{Timezone: &tz}).Validate())
}

func TestUpdateTaskRequest_ChangesSchedule(t *testing.T) {
	expr := "*/5 * * * *"
	assert.True(t, (&UpdateTaskRequest{ScheduleExpr: &expr}).ChangesSchedule())
	p := 3
	assert.False(t, (&UpdateTaskRequest{Priority: &p}).ChangesSchedule())
}

func TestEventEnvelope_Validate(t *testing.T) {
	e := &EventEnvelope{Topic: "  orders.created  "}
	require.NoError(t, e.Validate())
	assert.Equal(t, "orders.created", e.Topic)

	assert.Error(t, (&EventEnvelope{Topic: "   "}).Validate())
}

func TestAgent_HasScope(t *testing.T) {
	a := &Agent{Scopes: []string{"tasks:write"}}
	assert.True(t, a.HasScope("tasks:write"))
	assert.False(t, a.HasScope("agents:write"))

	admin := &Agent{Scopes: []string{"admin"}}
	assert.True(t, admin.HasScope("anything"))
}
