package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/data"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/testutil"
)

// fakeSchedulerTx records the scheduler's in-lock writes.
type fakeSchedulerTx struct {
	task *model.Task // what LockTask hands back; nil simulates a contended row

	inserted   []time.Time
	insertedOK bool
	nextRunAt  []*time.Time
	statuses   []model.TaskStatus
	audits     []*model.AuditEntry
}

func (tx *fakeSchedulerTx) LockTask(context.Context, string) (*model.Task, error) {
	return tx.task, nil
}

func (tx *fakeSchedulerTx) InsertDueWork(_ context.Context, _ string, runAt time.Time) (bool, error) {
	tx.inserted = append(tx.inserted, runAt)
	return tx.insertedOK, nil
}

func (tx *fakeSchedulerTx) SetNextRunAt(_ context.Context, _ string, next *time.Time) error {
	tx.nextRunAt = append(tx.nextRunAt, next)
	return nil
}

func (tx *fakeSchedulerTx) SetStatus(_ context.Context, _ string, status model.TaskStatus) error {
	tx.statuses = append(tx.statuses, status)
	return nil
}

func (tx *fakeSchedulerTx) Audit(_ context.Context, entry *model.AuditEntry) error {
	tx.audits = append(tx.audits, entry)
	return nil
}

// fakeSchedulerRepo serves one scripted tx per task id.
type fakeSchedulerRepo struct {
	due    []model.Task
	txs    map[string]*fakeSchedulerTx
	locked map[string]bool // task ids whose advisory lock is held elsewhere
}

func (r *fakeSchedulerRepo) ListDue(context.Context, time.Time, int) ([]model.Task, error) {
	return r.due, nil
}

func (r *fakeSchedulerRepo) TryWithTaskLock(ctx context.Context, taskID string, fn func(context.Context, core.SchedulerTx) error) (bool, error) {
	if r.locked[taskID] {
		return false, nil
	}
	tx, ok := r.txs[taskID]
	if !ok {
		tx = &fakeSchedulerTx{}
	}
	return true, fn(ctx, tx)
}

func (r *fakeSchedulerRepo) WaitForTaskChange(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func schedulerTask(opts ...func(*model.Task)) model.Task {
	next := testutil.TestTime().Add(-time.Minute)
	task := model.Task{
		ID:           "task-1",
		Title:        "daily sweep",
		ScheduleKind: model.ScheduleKindCron,
		ScheduleExpr: "*/5 * * * *",
		Timezone:     "UTC",
		Status:       model.TaskStatusActive,
		NextRunAt:    &next,
		CreatedAt:    testutil.TestTime().Add(-time.Hour),
	}
	for _, opt := range opts {
		opt(&task)
	}
	return task
}

func newSchedulerService(t *testing.T, repo *fakeSchedulerRepo) *SchedulerService {
	t.Helper()
	svc, err := NewSchedulerService(SchedulerServiceOptions{
		Repo:         repo,
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)
	return svc
}

func TestSchedulerTickFiresDueTask(t *testing.T) {
	task := schedulerTask()
	tx := &fakeSchedulerTx{task: &task, insertedOK: true}
	repo := &fakeSchedulerRepo{
		due: []model.Task{task},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, tx.inserted, 1)
	assert.Equal(t, task.NextRunAt.UTC(), tx.inserted[0].UTC())

	// The stored next fire advances past now.
	require.Len(t, tx.nextRunAt, 1)
	require.NotNil(t, tx.nextRunAt[0])
	assert.True(t, tx.nextRunAt[0].After(testutil.TestTime()))
	assert.Empty(t, tx.audits)
}

func TestSchedulerTickCoalescesMissedFiringsWithAudit(t *testing.T) {
	// Next fire four hours in the past: dozens of 5-minute slots were missed.
	task := schedulerTask(func(tk *model.Task) {
		stale := testutil.TestTime().Add(-4 * time.Hour)
		tk.NextRunAt = &stale
	})
	tx := &fakeSchedulerTx{task: &task, insertedOK: true}
	repo := &fakeSchedulerRepo{
		due: []model.Task{task},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// One coalesced firing, one misfire audit entry.
	require.Len(t, tx.inserted, 1)
	require.Len(t, tx.audits, 1)
	assert.Equal(t, model.AuditMisfire, tx.audits[0].Action)
}

func TestSchedulerTickSkipsContendedTasks(t *testing.T) {
	task := schedulerTask()
	repo := &fakeSchedulerRepo{
		due:    []model.Task{task},
		locked: map[string]bool{"task-1": true},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestSchedulerTickSkipsTaskPausedSinceListing(t *testing.T) {
	listed := schedulerTask()
	paused := schedulerTask(func(tk *model.Task) { tk.Status = model.TaskStatusPaused })
	tx := &fakeSchedulerTx{task: &paused}
	repo := &fakeSchedulerRepo{
		due: []model.Task{listed},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, tx.inserted)
}

func TestSchedulerTickRecoversMissingNextFire(t *testing.T) {
	task := schedulerTask(func(tk *model.Task) { tk.NextRunAt = nil })
	tx := &fakeSchedulerTx{task: &task}
	repo := &fakeSchedulerRepo{
		due: []model.Task{task},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// Recovery computes the next fire without firing retroactively.
	assert.Empty(t, tx.inserted)
	require.Len(t, tx.nextRunAt, 1)
	require.NotNil(t, tx.nextRunAt[0])
	assert.True(t, tx.nextRunAt[0].After(testutil.TestTime()))
}

func TestSchedulerTickPausesUnparseableSchedule(t *testing.T) {
	task := schedulerTask(func(tk *model.Task) {
		tk.ScheduleExpr = "not a cron line"
	})
	tx := &fakeSchedulerTx{task: &task}
	repo := &fakeSchedulerRepo{
		due: []model.Task{task},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Equal(t, []model.TaskStatus{model.TaskStatusPaused}, tx.statuses)
	require.Len(t, tx.nextRunAt, 1)
	assert.Nil(t, tx.nextRunAt[0])
	require.Len(t, tx.audits, 1)
	assert.Equal(t, model.AuditScheduleInvalid, tx.audits[0].Action)
}

func TestSchedulerTickExhaustedOnceTaskIsQuiet(t *testing.T) {
	// A once task that already fired has no next occurrence; nothing happens.
	task := schedulerTask(func(tk *model.Task) {
		tk.ScheduleKind = model.ScheduleKindOnce
		tk.ScheduleExpr = testutil.TestTime().Add(-time.Hour).Format(time.RFC3339)
		tk.NextRunAt = nil
	})
	tx := &fakeSchedulerTx{task: &task}
	repo := &fakeSchedulerRepo{
		due: []model.Task{task},
		txs: map[string]*fakeSchedulerTx{"task-1": tx},
	}

	processed, err := newSchedulerService(t, repo).Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, tx.inserted)
	assert.Empty(t, tx.nextRunAt)
}

func TestSchedulerHeartbeatUpsertedEachTick(t *testing.T) {
	hb := &mockHeartbeatRepo{}
	hb.On("Upsert", mock.Anything, mock.MatchedBy(func(beat *model.WorkerHeartbeat) bool {
		return beat.WorkerID == "scheduler-test" && beat.Component == model.ComponentScheduler
	})).Return(nil)

	svc, err := NewSchedulerService(SchedulerServiceOptions{
		Repo:         &fakeSchedulerRepo{},
		Heartbeats:   hb,
		InstanceID:   "scheduler-test",
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)

	_, err = svc.Tick(context.Background(), testutil.TestTime())
	require.NoError(t, err)
	hb.AssertExpectations(t)
}
