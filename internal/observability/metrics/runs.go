// Package metrics centralizes metric emission helpers so services tag their
// events consistently.
package metrics

import (
	"time"

	obserrors "github.com/ordinaut/ordinaut/internal/observability/errors"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// RunMetric captures details about a task run outcome for metric emission.
type RunMetric struct {
	ScheduleKind string
	Outcome      string
	Result       string
	Duration     time.Duration
	Err          error
}

// EmitRunLifecycle emits standardised run lifecycle metrics.
func EmitRunLifecycle(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"schedule_kind": in.ScheduleKind,
		"outcome":       in.Outcome,
		"result":        in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("run.outcome", 1, tags)

	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// SchedulerTickMetric captures details about one scheduler sweep.
type SchedulerTickMetric struct {
	Result   string
	Worked   int
	Duration time.Duration
	Err      error
}

// EmitSchedulerTick emits standardised scheduler sweep metrics.
func EmitSchedulerTick(sink statsd.Sink, in SchedulerTickMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("scheduler.tick", 1, tags)
	sink.Count("scheduler.tasks_worked", int64(in.Worked), CloneTags(tags))

	if in.Duration > 0 {
		sink.Timing("scheduler.tick_duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
