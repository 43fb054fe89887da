// Package prom owns the Prometheus registry exposed on /metrics. Gauges are
// refreshed from store statistics by a poller running in the API process, so
// every instance reports the same queue picture without cross-process state.
package prom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

const defaultPollInterval = 15 * time.Second

// TaskStatsSource reports task counts by status.
type TaskStatsSource interface {
	Stats(ctx context.Context) (model.TaskStats, error)
}

// RunStatsSource reports run counts by state.
type RunStatsSource interface {
	Stats(ctx context.Context) (model.RunStats, error)
}

// QueueStatsSource reports due-work queue depth and age.
type QueueStatsSource interface {
	QueueStats(ctx context.Context) (model.QueueStats, error)
}

// Stores groups the statistic sources the poller reads.
type Stores struct {
	Tasks TaskStatsSource
	Runs  RunStatsSource
	Work  QueueStatsSource
}

// Options configures the metrics component.
type Options struct {
	Stores Stores
	// Interval between gauge refreshes. Defaults to 15s.
	Interval time.Duration
	Logger   *slog.Logger
}

// Metrics holds a private registry plus the orchestrator gauge families.
type Metrics struct {
	registry *prometheus.Registry
	stores   Stores
	interval time.Duration
	logger   *slog.Logger

	tasks        *prometheus.GaugeVec
	runs         *prometheus.GaugeVec
	queueDepth   *prometheus.GaugeVec
	schedulerLag prometheus.Gauge
	stepDuration *prometheus.HistogramVec
}

// New builds the registry with process/runtime collectors and the
// orchestrator gauge families registered.
func New(opts Options) *Metrics {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stores:   opts.Stores,
		interval: interval,
		logger:   logger.With("component", "prom"),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "tasks_total",
			Help:      "Number of tasks by status.",
		}, []string{"status"}),
		runs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "runs_total",
			Help:      "Number of runs by status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "due_work_queue_depth",
			Help:      "Due-work rows by claim state.",
		}, []string{"state"}),
		schedulerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "scheduler_lag_seconds",
			Help:      "Age of the oldest ready, unclaimed firing.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step execution time by tool and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasks,
		m.runs,
		m.queueDepth,
		m.schedulerLag,
		m.stepDuration,
	)

	return m
}

// ObserveStep records one pipeline step execution. Safe to call from any
// worker goroutine; histograms are concurrency-safe.
func (m *Metrics) ObserveStep(tool string, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.stepDuration.WithLabelValues(tool, result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Refresh reads all stat sources once and updates the gauges. Sources that
// are not configured are skipped.
func (m *Metrics) Refresh(ctx context.Context) error {
	var errs []error

	if m.stores.Tasks != nil {
		stats, err := m.stores.Tasks.Stats(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("task stats: %w", err))
		} else {
			m.tasks.WithLabelValues("active").Set(float64(stats.Active))
			m.tasks.WithLabelValues("paused").Set(float64(stats.Paused))
			m.tasks.WithLabelValues("canceled").Set(float64(stats.Canceled))
		}
	}

	if m.stores.Runs != nil {
		stats, err := m.stores.Runs.Stats(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("run stats: %w", err))
		} else {
			m.runs.WithLabelValues("in_flight").Set(float64(stats.InFlight))
			m.runs.WithLabelValues("succeeded").Set(float64(stats.Succeeded))
			m.runs.WithLabelValues("failed").Set(float64(stats.Failed))
		}
	}

	if m.stores.Work != nil {
		stats, err := m.stores.Work.QueueStats(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("queue stats: %w", err))
		} else {
			m.queueDepth.WithLabelValues("ready").Set(float64(stats.Ready))
			m.queueDepth.WithLabelValues("locked").Set(float64(stats.Locked))
			m.schedulerLag.Set(stats.Lag(time.Now()).Seconds())
		}
	}

	return errors.Join(errs...)
}

// RunPoller refreshes the gauges on the configured interval until ctx ends.
// Refresh failures are logged and retried on the next tick.
func (m *Metrics) RunPoller(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if err := m.Refresh(ctx); err != nil {
		m.logger.WarnContext(ctx, "metrics refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.WarnContext(ctx, "metrics refresh failed", "error", err)
			}
		}
	}
}
