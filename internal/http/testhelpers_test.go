package httpx

import (
	"context"
	"sync"
	"time"

	"github.com/ordinaut/ordinaut/internal/core"
	domainauth "github.com/ordinaut/ordinaut/internal/domain/auth"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	apperrors "github.com/ordinaut/ordinaut/internal/errors"
)

// staticVerifier maps fixed tokens onto identities, standing in for the JWT
// and OIDC adapters in handler tests.
type staticVerifier struct {
	identities map[string]domainauth.Identity
}

func (v *staticVerifier) Verify(_ context.Context, token string) (domainauth.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return domainauth.Identity{}, apperrors.Validation("unknown token")
	}
	return identity, nil
}

func testVerifier() *staticVerifier {
	return &staticVerifier{identities: map[string]domainauth.Identity{
		"admin-token": {
			AgentID: "admin-agent",
			Name:    "admin",
			Scopes:  []string{domainauth.ScopeAdmin},
		},
		"writer-token": {
			AgentID: "writer-agent",
			Name:    "writer",
			Scopes: []string{
				domainauth.ScopeTasksRead,
				domainauth.ScopeTasksWrite,
				domainauth.ScopeRunsRead,
			},
		},
		"reader-token": {
			AgentID: "reader-agent",
			Name:    "reader",
			Scopes:  []string{domainauth.ScopeTasksRead},
		},
		"publisher-token": {
			AgentID: "publisher-agent",
			Name:    "publisher",
			Scopes:  []string{domainauth.ScopeEventsPublish},
		},
	}}
}

// In-memory repositories backing real services in handler tests.

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*model.Task)}
}

func (r *fakeTaskRepo) Create(_ context.Context, t *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *t
	r.tasks[t.ID] = &clone
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.NotFoundf("task %s not found", id)
	}
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepo) List(_ context.Context, opts model.TaskListOptions) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Task
	for _, task := range r.tasks {
		if opts.Status != nil && task.Status != *opts.Status {
			continue
		}
		out = append(out, *task)
	}
	return out, nil
}

func (r *fakeTaskRepo) ListActiveByTopic(_ context.Context, topic string) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Task
	for _, task := range r.tasks {
		if task.Status == model.TaskStatusActive &&
			task.ScheduleKind.ExternallyFired() &&
			task.ScheduleExpr == topic {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) Update(_ context.Context, t *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return apperrors.NotFoundf("task %s not found", t.ID)
	}
	clone := *t
	r.tasks[t.ID] = &clone
	return nil
}

func (r *fakeTaskRepo) SetStatus(_ context.Context, id string, status model.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return apperrors.NotFoundf("task %s not found", id)
	}
	task.Status = status
	return nil
}

func (r *fakeTaskRepo) SetNextRunAt(_ context.Context, id string, next *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return apperrors.NotFoundf("task %s not found", id)
	}
	task.NextRunAt = next
	return nil
}

func (r *fakeTaskRepo) NotifyChanged(context.Context, string) error { return nil }

func (r *fakeTaskRepo) Stats(context.Context) (model.TaskStats, error) {
	return model.TaskStats{}, nil
}

type fakeDueWorkRepo struct {
	mu       sync.Mutex
	inserted []string
	dropped  []string
}

func (r *fakeDueWorkRepo) Insert(_ context.Context, taskID string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, taskID)
	return true, nil
}

func (r *fakeDueWorkRepo) ClaimNext(context.Context, core.ClaimParams) (*model.ClaimedWork, error) {
	return nil, model.ErrNoDueWork
}

func (r *fakeDueWorkRepo) Release(context.Context, int64, time.Duration) error { return nil }

func (r *fakeDueWorkRepo) Requeue(context.Context, int64, time.Time, int) error { return nil }

func (r *fakeDueWorkRepo) Delete(context.Context, int64) error { return nil }

func (r *fakeDueWorkRepo) DeletePendingByTask(_ context.Context, taskID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, taskID)
	return 1, nil
}

func (r *fakeDueWorkRepo) ClearExpiredLocks(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func (r *fakeDueWorkRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeDueWorkRepo) QueueStats(context.Context) (model.QueueStats, error) {
	return model.QueueStats{}, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (r *fakeAuditRepo) Insert(_ context.Context, entry *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, _ model.AuditListOptions) ([]model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditEntry(nil), r.entries...), nil
}
