package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

type stubTaskStats struct {
	stats model.TaskStats
	err   error
}

func (s stubTaskStats) Stats(context.Context) (model.TaskStats, error) { return s.stats, s.err }

type stubRunStats struct {
	stats model.RunStats
	err   error
}

func (s stubRunStats) Stats(context.Context) (model.RunStats, error) { return s.stats, s.err }

type stubQueueStats struct {
	stats model.QueueStats
	err   error
}

func (s stubQueueStats) QueueStats(context.Context) (model.QueueStats, error) {
	return s.stats, s.err
}

func TestRefreshUpdatesGauges(t *testing.T) {
	oldest := time.Now().Add(-90 * time.Second)
	m := New(Options{Stores: Stores{
		Tasks: stubTaskStats{stats: model.TaskStats{Active: 4, Paused: 2, Canceled: 1}},
		Runs:  stubRunStats{stats: model.RunStats{InFlight: 3, Succeeded: 10, Failed: 5}},
		Work: stubQueueStats{stats: model.QueueStats{
			Ready:         7,
			Locked:        2,
			Total:         9,
			OldestReadyAt: &oldest,
		}},
	}})

	require.NoError(t, m.Refresh(context.Background()))

	assert.InDelta(t, 4, promtestutil.ToFloat64(m.tasks.WithLabelValues("active")), 0.001)
	assert.InDelta(t, 2, promtestutil.ToFloat64(m.tasks.WithLabelValues("paused")), 0.001)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.tasks.WithLabelValues("canceled")), 0.001)
	assert.InDelta(t, 3, promtestutil.ToFloat64(m.runs.WithLabelValues("in_flight")), 0.001)
	assert.InDelta(t, 10, promtestutil.ToFloat64(m.runs.WithLabelValues("succeeded")), 0.001)
	assert.InDelta(t, 7, promtestutil.ToFloat64(m.queueDepth.WithLabelValues("ready")), 0.001)
	assert.InDelta(t, 2, promtestutil.ToFloat64(m.queueDepth.WithLabelValues("locked")), 0.001)
	// Lag gauge tracks the oldest ready firing's age.
	assert.Greater(t, promtestutil.ToFloat64(m.schedulerLag), 85.0)
}

func TestSeriesNames(t *testing.T) {
	m := New(Options{Stores: Stores{
		Tasks: stubTaskStats{stats: model.TaskStats{Active: 1}},
		Runs:  stubRunStats{stats: model.RunStats{Succeeded: 1}},
		Work:  stubQueueStats{},
	}})
	require.NoError(t, m.Refresh(context.Background()))
	m.ObserveStep("http://tools.internal/echo", 40*time.Millisecond, true)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"orchestrator_tasks_total",
		"orchestrator_runs_total",
		"orchestrator_due_work_queue_depth",
		"orchestrator_scheduler_lag_seconds",
		"orchestrator_step_duration_seconds",
	} {
		assert.True(t, names[want], "missing series %s", want)
	}
}

func TestObserveStepRecordsHistogram(t *testing.T) {
	m := New(Options{})

	m.ObserveStep("builtin:noop", 25*time.Millisecond, true)
	m.ObserveStep("builtin:noop", 50*time.Millisecond, true)
	m.ObserveStep("http://tools.internal/flaky", 10*time.Millisecond, false)

	count := promtestutil.CollectAndCount(m.stepDuration, "orchestrator_step_duration_seconds")
	// Two label combinations, one histogram series each.
	assert.Equal(t, 2, count)
}

func TestRefreshJoinsSourceErrors(t *testing.T) {
	m := New(Options{Stores: Stores{
		Tasks: stubTaskStats{err: errors.New("task query failed")},
		Runs:  stubRunStats{stats: model.RunStats{Succeeded: 1}},
		Work:  stubQueueStats{err: errors.New("queue query failed")},
	}})

	err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task stats")
	assert.Contains(t, err.Error(), "queue stats")
	// Healthy sources still land.
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.runs.WithLabelValues("succeeded")), 0.001)
}

func TestRefreshSkipsMissingSources(t *testing.T) {
	m := New(Options{})
	require.NoError(t, m.Refresh(context.Background()))
}

func TestRunPollerStopsOnContextCancel(t *testing.T) {
	m := New(Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunPoller(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(Options{})
	require.NotNil(t, m.Handler())

	families, err := m.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "runtime collectors should be registered")
}
