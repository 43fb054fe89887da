package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	apperrors "github.com/ordinaut/ordinaut/internal/errors"
	"github.com/ordinaut/ordinaut/internal/testutil"
)

type taskHarness struct {
	repo  *mockTaskRepo
	work  *mockDueWorkRepo
	audit *mockAuditRepo
	svc   *TaskService
}

func newTaskHarness(t *testing.T) *taskHarness {
	t.Helper()
	h := &taskHarness{
		repo:  &mockTaskRepo{},
		work:  &mockDueWorkRepo{},
		audit: &mockAuditRepo{},
	}
	var err error
	h.svc, err = NewTaskService(TaskServiceOptions{
		Repo:         h.repo,
		Work:         h.work,
		Audit:        h.audit,
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)
	return h
}

func createRequest() *model.CreateTaskRequest {
	return &model.CreateTaskRequest{
		Title:        "morning briefing",
		ScheduleKind: model.ScheduleKindCron,
		ScheduleExpr: "30 8 * * *",
		Timezone:     "UTC",
		Payload:      json.RawMessage(`{"pipeline":[{"id":"a","uses":"builtin:echo","input":{"msg":"hi"}}]}`),
	}
}

func TestTaskCreateComputesFirstFire(t *testing.T) {
	h := newTaskHarness(t)

	var created *model.Task
	h.repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*model.Task)
	}).Return(nil)
	h.repo.On("NotifyChanged", mock.Anything, mock.Anything).Return(nil)
	h.audit.On("Insert", mock.Anything, mock.MatchedBy(func(e *model.AuditEntry) bool {
		return e.Action == model.AuditTaskCreated && e.Actor == "agent-1"
	})).Return(nil)

	task, err := h.svc.Create(context.Background(), "agent-1", createRequest())
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskStatusActive, task.Status)
	assert.Equal(t, "agent-1", task.CreatedBy)
	require.NotNil(t, task.NextRunAt)
	// TestTime is 12:00 UTC; the 08:30 cron next fires tomorrow morning.
	assert.Equal(t, time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC), task.NextRunAt.UTC())
	h.audit.AssertExpectations(t)
}

func TestTaskCreateEventTaskHasNoNextFire(t *testing.T) {
	h := newTaskHarness(t)

	h.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	h.repo.On("NotifyChanged", mock.Anything, mock.Anything).Return(nil)
	h.audit.On("Insert", mock.Anything, mock.Anything).Return(nil)

	req := createRequest()
	req.ScheduleKind = model.ScheduleKindEvent
	req.ScheduleExpr = "calendar.updated"

	task, err := h.svc.Create(context.Background(), "agent-1", req)
	require.NoError(t, err)
	assert.Nil(t, task.NextRunAt)
}

func TestTaskCreateRejectsBadPayload(t *testing.T) {
	h := newTaskHarness(t)

	req := createRequest()
	req.Payload = json.RawMessage(`{"pipeline":[]}`)

	_, err := h.svc.Create(context.Background(), "agent-1", req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	h.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestTaskCreateRejectsBadScheduleExpr(t *testing.T) {
	h := newTaskHarness(t)

	req := createRequest()
	req.ScheduleExpr = "every other blue moon"

	_, err := h.svc.Create(context.Background(), "agent-1", req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestTaskUpdateCanceledTaskIsImmutable(t *testing.T) {
	h := newTaskHarness(t)

	h.repo.On("GetByID", mock.Anything, "task-1").Return(&model.Task{
		ID:     "task-1",
		Status: model.TaskStatusCanceled,
	}, nil)

	title := "new title"
	_, err := h.svc.Update(context.Background(), "agent-1", "task-1", &model.UpdateTaskRequest{Title: &title})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestTaskUpdatePauseDropsPendingFirings(t *testing.T) {
	h := newTaskHarness(t)

	next := testutil.TestTime().Add(time.Hour)
	h.repo.On("GetByID", mock.Anything, "task-1").Return(&model.Task{
		ID:           "task-1",
		Title:        "morning briefing",
		ScheduleKind: model.ScheduleKindCron,
		ScheduleExpr: "30 8 * * *",
		Timezone:     "UTC",
		Payload:      json.RawMessage(`{"pipeline":[{"id":"a","uses":"builtin:echo"}]}`),
		Status:       model.TaskStatusActive,
		NextRunAt:    &next,
		CreatedAt:    testutil.TestTime().Add(-24 * time.Hour),
	}, nil)
	h.repo.On("Update", mock.Anything, mock.MatchedBy(func(task *model.Task) bool {
		return task.Status == model.TaskStatusPaused && task.NextRunAt == nil
	})).Return(nil)
	h.repo.On("NotifyChanged", mock.Anything, "task-1").Return(nil)
	h.work.On("DeletePendingByTask", mock.Anything, "task-1").Return(int64(2), nil)
	h.audit.On("Insert", mock.Anything, mock.MatchedBy(func(e *model.AuditEntry) bool {
		return e.Action == model.AuditTaskUpdated
	})).Return(nil)

	paused := model.TaskStatusPaused
	task, err := h.svc.Update(context.Background(), "agent-1", "task-1", &model.UpdateTaskRequest{Status: &paused})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, task.Status)
	h.work.AssertExpectations(t)
}

func TestTaskCancelAuditsCancellation(t *testing.T) {
	h := newTaskHarness(t)

	h.repo.On("GetByID", mock.Anything, "task-1").Return(&model.Task{
		ID:           "task-1",
		Title:        "morning briefing",
		ScheduleKind: model.ScheduleKindCron,
		ScheduleExpr: "30 8 * * *",
		Timezone:     "UTC",
		Payload:      json.RawMessage(`{"pipeline":[{"id":"a","uses":"builtin:echo"}]}`),
		Status:       model.TaskStatusActive,
		CreatedAt:    testutil.TestTime().Add(-24 * time.Hour),
	}, nil)
	h.repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	h.repo.On("NotifyChanged", mock.Anything, "task-1").Return(nil)
	h.work.On("DeletePendingByTask", mock.Anything, "task-1").Return(int64(0), nil)
	h.audit.On("Insert", mock.Anything, mock.MatchedBy(func(e *model.AuditEntry) bool {
		return e.Action == model.AuditTaskCanceled
	})).Return(nil)

	task, err := h.svc.Cancel(context.Background(), "agent-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCanceled, task.Status)
	h.audit.AssertExpectations(t)
}

func TestTaskUpdateScheduleChangeRecomputesNextFire(t *testing.T) {
	h := newTaskHarness(t)

	old := testutil.TestTime().Add(time.Hour)
	h.repo.On("GetByID", mock.Anything, "task-1").Return(&model.Task{
		ID:           "task-1",
		Title:        "morning briefing",
		ScheduleKind: model.ScheduleKindCron,
		ScheduleExpr: "30 8 * * *",
		Timezone:     "UTC",
		Payload:      json.RawMessage(`{"pipeline":[{"id":"a","uses":"builtin:echo"}]}`),
		Status:       model.TaskStatusActive,
		NextRunAt:    &old,
		CreatedAt:    testutil.TestTime().Add(-24 * time.Hour),
	}, nil)

	var updated *model.Task
	h.repo.On("Update", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.Task)
	}).Return(nil)
	h.repo.On("NotifyChanged", mock.Anything, "task-1").Return(nil)
	h.audit.On("Insert", mock.Anything, mock.Anything).Return(nil)

	expr := "0 18 * * *"
	_, err := h.svc.Update(context.Background(), "agent-1", "task-1", &model.UpdateTaskRequest{ScheduleExpr: &expr})
	require.NoError(t, err)

	require.NotNil(t, updated)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), updated.NextRunAt.UTC())
}
