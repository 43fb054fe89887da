package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/observability/notify"
)

// Hand-rolled testify mocks for the core ports used across service tests.

type mockTaskRepo struct {
	mock.Mock
}

func (m *mockTaskRepo) Create(ctx context.Context, t *model.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockTaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*model.Task)
	return task, args.Error(1)
}

func (m *mockTaskRepo) List(ctx context.Context, opts model.TaskListOptions) ([]model.Task, error) {
	args := m.Called(ctx, opts)
	tasks, _ := args.Get(0).([]model.Task)
	return tasks, args.Error(1)
}

func (m *mockTaskRepo) ListActiveByTopic(ctx context.Context, topic string) ([]model.Task, error) {
	args := m.Called(ctx, topic)
	tasks, _ := args.Get(0).([]model.Task)
	return tasks, args.Error(1)
}

func (m *mockTaskRepo) Update(ctx context.Context, t *model.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockTaskRepo) SetStatus(ctx context.Context, id string, status model.TaskStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockTaskRepo) SetNextRunAt(ctx context.Context, id string, next *time.Time) error {
	args := m.Called(ctx, id, next)
	return args.Error(0)
}

func (m *mockTaskRepo) NotifyChanged(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockTaskRepo) Stats(ctx context.Context) (model.TaskStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(model.TaskStats)
	return stats, args.Error(1)
}

type mockDueWorkRepo struct {
	mock.Mock
}

func (m *mockDueWorkRepo) Insert(ctx context.Context, taskID string, runAt time.Time) (bool, error) {
	args := m.Called(ctx, taskID, runAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockDueWorkRepo) ClaimNext(ctx context.Context, params core.ClaimParams) (*model.ClaimedWork, error) {
	args := m.Called(ctx, params)
	claim, _ := args.Get(0).(*model.ClaimedWork)
	return claim, args.Error(1)
}

func (m *mockDueWorkRepo) Release(ctx context.Context, id int64, delay time.Duration) error {
	args := m.Called(ctx, id, delay)
	return args.Error(0)
}

func (m *mockDueWorkRepo) Requeue(ctx context.Context, id int64, runAt time.Time, attempts int) error {
	args := m.Called(ctx, id, runAt, attempts)
	return args.Error(0)
}

func (m *mockDueWorkRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockDueWorkRepo) DeletePendingByTask(ctx context.Context, taskID string) (int64, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDueWorkRepo) ClearExpiredLocks(ctx context.Context, now time.Time, limit int) (int64, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDueWorkRepo) WaitForNotification(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockDueWorkRepo) QueueStats(ctx context.Context) (model.QueueStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(model.QueueStats)
	return stats, args.Error(1)
}

type mockRunRepo struct {
	mock.Mock
}

func (m *mockRunRepo) Open(ctx context.Context, run *model.TaskRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *mockRunRepo) Finalize(ctx context.Context, params core.FinalizeParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockRunRepo) GetByID(ctx context.Context, id string) (*model.TaskRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*model.TaskRun)
	return run, args.Error(1)
}

func (m *mockRunRepo) List(ctx context.Context, opts model.RunListOptions) ([]model.TaskRun, error) {
	args := m.Called(ctx, opts)
	runs, _ := args.Get(0).([]model.TaskRun)
	return runs, args.Error(1)
}

func (m *mockRunRepo) LastSuccess(ctx context.Context, taskID string) (*model.TaskRun, error) {
	args := m.Called(ctx, taskID)
	run, _ := args.Get(0).(*model.TaskRun)
	return run, args.Error(1)
}

func (m *mockRunRepo) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]core.ExpiredLease, error) {
	args := m.Called(ctx, now, limit)
	leases, _ := args.Get(0).([]core.ExpiredLease)
	return leases, args.Error(1)
}

func (m *mockRunRepo) FailRun(ctx context.Context, id, errMsg string, finishedAt time.Time) error {
	args := m.Called(ctx, id, errMsg, finishedAt)
	return args.Error(0)
}

func (m *mockRunRepo) Stats(ctx context.Context) (model.RunStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(model.RunStats)
	return stats, args.Error(1)
}

type mockAgentRepo struct {
	mock.Mock
}

func (m *mockAgentRepo) Create(ctx context.Context, a *model.Agent) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *mockAgentRepo) GetByID(ctx context.Context, id string) (*model.Agent, error) {
	args := m.Called(ctx, id)
	agent, _ := args.Get(0).(*model.Agent)
	return agent, args.Error(1)
}

func (m *mockAgentRepo) GetByName(ctx context.Context, name string) (*model.Agent, error) {
	args := m.Called(ctx, name)
	agent, _ := args.Get(0).(*model.Agent)
	return agent, args.Error(1)
}

func (m *mockAgentRepo) List(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	args := m.Called(ctx, limit, offset)
	agents, _ := args.Get(0).([]model.Agent)
	return agents, args.Error(1)
}

type mockAuditRepo struct {
	mock.Mock
}

func (m *mockAuditRepo) Insert(ctx context.Context, entry *model.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditRepo) List(ctx context.Context, opts model.AuditListOptions) ([]model.AuditEntry, error) {
	args := m.Called(ctx, opts)
	entries, _ := args.Get(0).([]model.AuditEntry)
	return entries, args.Error(1)
}

type mockHeartbeatRepo struct {
	mock.Mock
}

func (m *mockHeartbeatRepo) Upsert(ctx context.Context, hb *model.WorkerHeartbeat) error {
	args := m.Called(ctx, hb)
	return args.Error(0)
}

func (m *mockHeartbeatRepo) Prune(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockHeartbeatRepo) ListSince(ctx context.Context, since time.Time) ([]model.WorkerHeartbeat, error) {
	args := m.Called(ctx, since)
	beats, _ := args.Get(0).([]model.WorkerHeartbeat)
	return beats, args.Error(1)
}

// mockGate implements core.ConcurrencyGate with scripted results.
type mockGate struct {
	acquired bool
	err      error
	releases int
	keys     []string
}

func (g *mockGate) TryAcquire(_ context.Context, key string) (func(context.Context) error, bool, error) {
	g.keys = append(g.keys, key)
	if g.err != nil || !g.acquired {
		return nil, false, g.err
	}
	return func(context.Context) error {
		g.releases++
		return nil
	}, true, nil
}

// recordingNotifier captures run outcome notifications.
type recordingNotifier struct {
	outcomes []notifiedOutcome
}

type notifiedOutcome struct {
	webhookURL string
	payload    notify.RunOutcomePayload
}

func (n *recordingNotifier) NotifyRunOutcome(_ context.Context, webhookURL string, payload notify.RunOutcomePayload) {
	n.outcomes = append(n.outcomes, notifiedOutcome{webhookURL: webhookURL, payload: payload})
}
