package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	apperrors "github.com/ordinaut/ordinaut/internal/errors"
	"github.com/ordinaut/ordinaut/internal/testutil"
)

type eventHarness struct {
	tasks *mockTaskRepo
	work  *mockDueWorkRepo
	audit *mockAuditRepo
	svc   *EventService
}

func newEventHarness(t *testing.T) *eventHarness {
	t.Helper()
	h := &eventHarness{
		tasks: &mockTaskRepo{},
		work:  &mockDueWorkRepo{},
		audit: &mockAuditRepo{},
	}
	var err error
	h.svc, err = NewEventService(EventServiceOptions{
		Tasks:        h.tasks,
		Work:         h.work,
		Audit:        h.audit,
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)
	return h
}

func TestEventPublishFiresSubscribers(t *testing.T) {
	h := newEventHarness(t)

	h.tasks.On("ListActiveByTopic", mock.Anything, "calendar.updated").Return([]model.Task{
		{ID: "task-1"},
		{ID: "task-2"},
	}, nil)
	h.work.On("Insert", mock.Anything, "task-1", testutil.TestTime()).Return(true, nil)
	h.work.On("Insert", mock.Anything, "task-2", testutil.TestTime()).Return(true, nil)
	h.audit.On("Insert", mock.Anything, mock.MatchedBy(func(e *model.AuditEntry) bool {
		return e.Action == model.AuditEventFired && e.SubjectID != nil && *e.SubjectID == "calendar.updated"
	})).Return(nil)

	resp, err := h.svc.Publish(context.Background(), "agent-1", &model.EventEnvelope{
		Topic:  "calendar.updated",
		Source: "webhook",
	})
	require.NoError(t, err)

	assert.Equal(t, "calendar.updated", resp.Topic)
	assert.Equal(t, 2, resp.Matched)
	assert.Equal(t, []string{"task-1", "task-2"}, resp.FiredTasks)
	h.audit.AssertExpectations(t)
}

func TestEventPublishDuplicateDeliveryIsAbsorbed(t *testing.T) {
	h := newEventHarness(t)

	h.tasks.On("ListActiveByTopic", mock.Anything, "calendar.updated").Return([]model.Task{
		{ID: "task-1"},
	}, nil)
	// Queue uniqueness reports the firing as already present.
	h.work.On("Insert", mock.Anything, "task-1", testutil.TestTime()).Return(false, nil)
	h.audit.On("Insert", mock.Anything, mock.Anything).Return(nil)

	resp, err := h.svc.Publish(context.Background(), "agent-1", &model.EventEnvelope{Topic: "calendar.updated"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Matched)
	assert.Empty(t, resp.FiredTasks)
}

func TestEventPublishNoSubscribers(t *testing.T) {
	h := newEventHarness(t)

	h.tasks.On("ListActiveByTopic", mock.Anything, "nobody.cares").Return([]model.Task{}, nil)
	h.audit.On("Insert", mock.Anything, mock.Anything).Return(nil)

	resp, err := h.svc.Publish(context.Background(), "agent-1", &model.EventEnvelope{Topic: "nobody.cares"})
	require.NoError(t, err)
	assert.Zero(t, resp.Matched)
	assert.Empty(t, resp.FiredTasks)
}

func TestEventPublishRequiresTopic(t *testing.T) {
	h := newEventHarness(t)

	_, err := h.svc.Publish(context.Background(), "agent-1", &model.EventEnvelope{Topic: "  "})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	h.work.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}
