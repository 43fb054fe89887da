package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/testutil"
)

func TestDueWorkRepo_Integration_InsertIsIdempotent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "queue-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})
		runAt := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)

		inserted, err := repo.Insert(context.Background(), task.ID, runAt)
		require.NoError(t, err)
		assert.True(t, inserted)

		// Same (task, run_at) is a no-op, not an error.
		inserted, err = repo.Insert(context.Background(), task.ID, runAt)
		require.NoError(t, err)
		assert.False(t, inserted)

		stats, err := repo.QueueStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestDueWorkRepo_Integration_ClaimOrdering(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "claim-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})

		lowPriority := newTestTask(agent.ID)
		lowPriority.Priority = 3
		require.NoError(t, taskRepo.Create(context.Background(), lowPriority))

		highPriority := newTestTask(agent.ID)
		highPriority.Priority = 9
		require.NoError(t, taskRepo.Create(context.Background(), highPriority))

		repo := NewDueWorkRepo(db, RepoConfig{})
		past := time.Now().UTC().Add(-time.Minute)
		_, err := repo.Insert(context.Background(), lowPriority.ID, past.Add(-time.Hour))
		require.NoError(t, err)
		_, err = repo.Insert(context.Background(), highPriority.ID, past)
		require.NoError(t, err)

		params := core.ClaimParams{WorkerID: "w1", Lease: 30 * time.Second}

		// Priority beats earliness.
		first, err := repo.ClaimNext(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, highPriority.ID, first.Task.ID)
		assert.Equal(t, "w1", *first.Work.LockedBy)

		second, err := repo.ClaimNext(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, lowPriority.ID, second.Task.ID)

		_, err = repo.ClaimNext(context.Background(), params)
		require.ErrorIs(t, err, model.ErrNoDueWork)
	})
}

func TestDueWorkRepo_Integration_ClaimSkipsFutureAndLocked(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "skip-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})

		// Future work is invisible to claims.
		_, err := repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		_, err = repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Minute})
		require.ErrorIs(t, err, model.ErrNoDueWork)

		// A claimed firing cannot be claimed again while the lease holds.
		_, err = repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		claimed, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Minute})
		require.NoError(t, err)

		_, err = repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w2", Lease: time.Minute})
		require.ErrorIs(t, err, model.ErrNoDueWork)

		// Release makes it claimable by the other worker.
		require.NoError(t, repo.Release(context.Background(), claimed.Work.ID, 0))
		reclaimed, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w2", Lease: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, claimed.Work.ID, reclaimed.Work.ID)
		assert.Equal(t, "w2", *reclaimed.Work.LockedBy)
	})
}

func TestDueWorkRepo_Integration_ClaimIgnoresInactiveTasks(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "inactive-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})
		_, err := repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)

		require.NoError(t, taskRepo.SetStatus(context.Background(), task.ID, model.TaskStatusPaused))
		_, err = repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Minute})
		require.ErrorIs(t, err, model.ErrNoDueWork)
	})
}

func TestDueWorkRepo_Integration_RequeueAndExpiredLocks(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "requeue-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})
		_, err := repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Minute})
		require.NoError(t, err)

		retryAt := time.Now().UTC().Add(2 * time.Second)
		require.NoError(t, repo.Requeue(context.Background(), claimed.Work.ID, retryAt, 1))

		// Expired leases become claimable once the lock is cleared.
		_, err = repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		stale, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Millisecond})
		require.NoError(t, err)

		cleared, err := repo.ClearExpiredLocks(context.Background(), time.Now().UTC().Add(time.Second), 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)

		reclaimed, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w2", Lease: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, stale.Work.ID, reclaimed.Work.ID)
	})
}

func TestDueWorkRepo_Integration_DeletePendingByTask(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "dequeue-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})
		_, err := repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		_, err = repo.Insert(context.Background(), task.ID, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)

		// The claimed firing survives; the pending one goes.
		claimed, err := repo.ClaimNext(context.Background(), core.ClaimParams{WorkerID: "w1", Lease: time.Minute})
		require.NoError(t, err)

		deleted, err := repo.DeletePendingByTask(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		stats, err := repo.QueueStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.Locked)
		_ = claimed
	})
}

func TestDueWorkRepo_Integration_WaitForNotification(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		agent := insertTestAgent(t, db, "notify-agent")
		taskRepo := NewTaskRepo(db, RepoConfig{})
		task := newTestTask(agent.ID)
		require.NoError(t, taskRepo.Create(context.Background(), task))

		repo := NewDueWorkRepo(db, RepoConfig{})

		notified := make(chan error, 1)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go func() {
			notified <- repo.WaitForNotification(ctx)
		}()

		// Give the listener time to LISTEN before the insert fires the trigger.
		time.Sleep(200 * time.Millisecond)
		_, err := repo.Insert(context.Background(), task.ID, time.Now().UTC())
		require.NoError(t, err)

		select {
		case err := <-notified:
			require.NoError(t, err)
		case <-time.After(4 * time.Second):
			t.Fatal("timed out waiting for due_work notification")
		}
	})
}
