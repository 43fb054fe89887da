// Package plan turns a task's stored next fire into the concrete work the
// scheduler must materialize on a sweep: at most one catch-up firing for a
// late schedule, a count of coalesced misses, and the new next fire.
package plan

import (
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/schedule"
)

// DefaultMaxScan bounds how many missed occurrences a single sweep walks
// before jumping straight past now.
const DefaultMaxScan = 10000

// Plan is the outcome of evaluating one task on a sweep.
type Plan struct {
	// CatchUp is the earliest due firing, preserved with its original run_at.
	// Nil when the schedule is not yet due.
	CatchUp *time.Time
	// Dropped counts additional missed firings coalesced into the catch-up.
	Dropped int
	// NextRunAt is the earliest fire strictly after now, nil when the
	// schedule is exhausted.
	NextRunAt *time.Time
}

// Due reports whether the plan materializes work now.
func (p Plan) Due() bool { return p.CatchUp != nil }

// Compute evaluates the schedule between its stored next fire and now.
// from is the task's persisted next_run_at; every occurrence in [from, now]
// counts as missed, the first is kept, the rest are dropped. maxScan <= 0
// selects DefaultMaxScan.
func Compute(spec schedule.Spec, from, now time.Time, maxScan int) (Plan, error) {
	if maxScan <= 0 {
		maxScan = DefaultMaxScan
	}
	if from.After(now) {
		f := from
		return Plan{NextRunAt: &f}, nil
	}

	catchUp := from
	p := Plan{CatchUp: &catchUp}

	cursor := from
	for {
		next, ok, err := spec.Next(cursor)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			return p, nil
		}
		if next.After(now) {
			p.NextRunAt = &next
			return p, nil
		}
		p.Dropped++
		cursor = next
		if p.Dropped >= maxScan {
			// runaway backlog: skip the remainder in one step
			jumped, jok, jerr := spec.Next(now)
			if jerr != nil {
				return Plan{}, jerr
			}
			if jok {
				p.NextRunAt = &jumped
			}
			return p, nil
		}
	}
}
