// Package schedule computes firing instants for task schedules. The engine is
// pure: given a schedule spec and an instant, it reports the next fire time
// strictly after that instant, or that no further fires exist. Cron
// expressions are evaluated in the task's IANA timezone, so fires land on
// local wall-clock times across DST transitions.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

// Spec is the schedule portion of a task, sufficient to compute fires.
type Spec struct {
	Kind     model.ScheduleKind
	Expr     string
	Timezone string
	// Anchor fixes the recurrence start for rrule expressions that carry no
	// DTSTART of their own. Task creation time is the conventional anchor.
	Anchor time.Time
}

// SpecFromTask extracts the schedule spec of a task.
func SpecFromTask(t *model.Task) Spec {
	return Spec{
		Kind:     t.ScheduleKind,
		Expr:     t.ScheduleExpr,
		Timezone: t.Timezone,
		Anchor:   t.CreatedAt,
	}
}

// ParseError reports an unparseable schedule expression. Scheduler callers
// pause the task and audit rather than retrying.
type ParseError struct {
	Kind model.ScheduleKind
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s schedule %q: %v", e.Kind, e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(spec Spec, err error) *ParseError {
	return &ParseError{Kind: spec.Kind, Expr: spec.Expr, Err: err}
}

// standardParser accepts the common 5-field cron grammar plus @-descriptors.
var standardParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// secondsParser accepts the extended 6-field grammar with a leading seconds field.
var secondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate parses the expression without computing a fire, for task
// create/update admission.
func (s Spec) Validate() error {
	if !s.Kind.Valid() {
		return parseErr(s, fmt.Errorf("unknown schedule kind"))
	}
	if strings.TrimSpace(s.Expr) == "" {
		return parseErr(s, fmt.Errorf("empty expression"))
	}
	switch s.Kind {
	case model.ScheduleKindCron:
		_, _, err := s.parseCron()
		return err
	case model.ScheduleKindRRule:
		_, err := s.parseRRule()
		return err
	case model.ScheduleKindOnce:
		_, err := s.parseOnce()
		return err
	default:
		// event and condition expressions are opaque topic names
		return nil
	}
}

// First returns the initial fire for a freshly created or rescheduled task.
// Unlike Next, a once instant already in the past is still returned so the
// scheduler materializes it as a misfire catch-up instead of dropping it.
func (s Spec) First(now time.Time) (time.Time, bool, error) {
	if s.Kind == model.ScheduleKindOnce {
		at, err := s.parseOnce()
		if err != nil {
			return time.Time{}, false, err
		}
		return at, true, nil
	}
	return s.Next(now)
}

// Next returns the earliest fire instant strictly after the given time, or
// false when the schedule produces no further fires. Event-driven kinds never
// produce wall-clock fires.
func (s Spec) Next(after time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case model.ScheduleKindCron:
		sched, loc, err := s.parseCron()
		if err != nil {
			return time.Time{}, false, err
		}
		next := nextCron(sched, after, loc)
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		return next, true, nil

	case model.ScheduleKindRRule:
		next, err := s.parseRRule()
		if err != nil {
			return time.Time{}, false, err
		}
		at := next(after)
		if at.IsZero() {
			return time.Time{}, false, nil
		}
		return at, true, nil

	case model.ScheduleKindOnce:
		at, err := s.parseOnce()
		if err != nil {
			return time.Time{}, false, err
		}
		if at.After(after) {
			return at, true, nil
		}
		return time.Time{}, false, nil

	case model.ScheduleKindEvent, model.ScheduleKindCondition:
		return time.Time{}, false, nil

	default:
		return time.Time{}, false, parseErr(s, fmt.Errorf("unknown schedule kind"))
	}
}

func (s Spec) location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = model.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, parseErr(s, fmt.Errorf("load timezone %q: %w", tz, err))
	}
	return loc, nil
}

// nextCron evaluates the cron schedule in loc. Occurrences that land inside a
// DST spring-forward gap are not skipped to the next day: they slide to the
// first valid local instant past the gap.
func nextCron(sched cron.Schedule, after time.Time, loc *time.Location) time.Time {
	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return next
	}
	_, offset := after.In(loc).Zone()
	fixed := time.FixedZone("", offset)
	cand := sched.Next(after.In(fixed))
	if cand.IsZero() || !cand.Before(next) {
		return next
	}
	slid := time.Date(
		cand.Year(), cand.Month(), cand.Day(),
		cand.Hour(), cand.Minute(), cand.Second(), 0, loc,
	)
	if slid.After(after) && slid.Before(next) {
		return slid
	}
	return next
}

func (s Spec) parseCron() (cron.Schedule, *time.Location, error) {
	loc, err := s.location()
	if err != nil {
		return nil, nil, err
	}
	expr := strings.TrimSpace(s.Expr)
	parser := standardParser
	if !strings.HasPrefix(expr, "@") && len(strings.Fields(expr)) == 6 {
		parser = secondsParser
	}
	sched, perr := parser.Parse(expr)
	if perr != nil {
		return nil, nil, parseErr(s, perr)
	}
	return sched, loc, nil
}

// parseRRule returns a next-occurrence function over the recurrence. Both
// bare option strings ("FREQ=DAILY;BYHOUR=8") and full iCalendar bodies with
// DTSTART/RRULE lines are accepted; TZID on DTSTART wins over the task
// timezone.
func (s Spec) parseRRule() (func(time.Time) time.Time, error) {
	loc, err := s.location()
	if err != nil {
		return nil, err
	}
	expr := strings.TrimSpace(s.Expr)

	if strings.Contains(strings.ToUpper(expr), "DTSTART") {
		set, perr := rrule.StrSliceToRRuleSetInLoc(strings.Split(expr, "\n"), loc)
		if perr != nil {
			return nil, parseErr(s, perr)
		}
		return func(after time.Time) time.Time {
			return set.After(after.In(loc), false)
		}, nil
	}

	expr = strings.TrimPrefix(expr, "RRULE:")
	opt, perr := rrule.StrToROptionInLocation(expr, loc)
	if perr != nil {
		return nil, parseErr(s, perr)
	}
	if opt.Dtstart.IsZero() {
		anchor := s.Anchor
		if anchor.IsZero() {
			anchor = time.Now()
		}
		opt.Dtstart = anchor.In(loc)
	}
	r, perr := rrule.NewRRule(*opt)
	if perr != nil {
		return nil, parseErr(s, perr)
	}
	return func(after time.Time) time.Time {
		return r.After(after.In(loc), false)
	}, nil
}

func (s Spec) parseOnce() (time.Time, error) {
	expr := strings.TrimSpace(s.Expr)
	at, err := time.Parse(time.RFC3339, expr)
	if err != nil {
		// tolerate a local-time instant without offset, resolved in the task zone
		loc, lerr := s.location()
		if lerr != nil {
			return time.Time{}, lerr
		}
		at, err = time.ParseInLocation("2006-01-02T15:04:05", expr, loc)
		if err != nil {
			return time.Time{}, parseErr(s, err)
		}
	}
	return at, nil
}
