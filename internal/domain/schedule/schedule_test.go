package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNext_CronDaily(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "0 9 * * *", Timezone: "Europe/Chisinau"}
	after := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

	next, ok, err := spec.Next(after)
	require.NoError(t, err)
	require.True(t, ok)
	// 09:00 EET is 07:00 UTC in January
	assert.Equal(t, time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC), next.UTC())
}

func TestNext_CronStrictlyAfter(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "*/5 * * * *", Timezone: "UTC"}
	fire := time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC)

	next, ok, err := spec.Next(fire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.After(fire))
	assert.Equal(t, time.Date(2026, 2, 1, 10, 10, 0, 0, time.UTC), next.UTC())
}

func TestNext_CronDescriptor(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "@hourly", Timezone: "UTC"}
	after := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)

	next, ok, err := spec.Next(after)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestNext_CronSixFieldSeconds(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "*/30 * * * * *", Timezone: "UTC"}
	after := time.Date(2026, 3, 1, 11, 0, 10, 0, time.UTC)

	next, ok, err := spec.Next(after)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 30, 0, time.UTC), next.UTC())
}

// Chisinau jumps from EET (+02) to EEST (+03) on the last Sunday of March.
// The local wall-clock fire time must stay fixed while the UTC instant shifts.
func TestNext_CronDSTSpringForward(t *testing.T) {
	loc := mustLoc(t, "Europe/Chisinau")
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "0 9 * * *", Timezone: "Europe/Chisinau"}

	beforeTransition := time.Date(2026, 3, 28, 10, 0, 0, 0, loc)
	fire1, ok, err := spec.Next(beforeTransition)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, fire1.In(loc).Hour())
	assert.Equal(t, time.Date(2026, 3, 29, 6, 0, 0, 0, time.UTC), fire1.UTC())

	fire2, ok, err := spec.Next(fire1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, fire2.In(loc).Hour())
	assert.Equal(t, 24*time.Hour, fire2.Sub(fire1))

	// the 24h wall-clock step across the gap day is only 23h of real time
	dayBefore, ok, err := spec.Next(time.Date(2026, 3, 27, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 23*time.Hour, fire1.Sub(dayBefore))
}

// 02:00 does not exist on the transition day (clocks jump 02:00 to 03:00);
// the firing slides to the first valid local instant instead of skipping.
func TestNext_CronDSTGapSlides(t *testing.T) {
	loc := mustLoc(t, "Europe/Chisinau")
	spec := Spec{Kind: model.ScheduleKindCron, Expr: "0 2 * * *", Timezone: "Europe/Chisinau"}

	fire, ok, err := spec.Next(time.Date(2026, 3, 28, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 29, 0, 0, 0, 0, time.UTC), fire.UTC())
	assert.Equal(t, 3, fire.In(loc).Hour())
	assert.Equal(t, 29, fire.In(loc).Day())
}

func TestNext_OnceFuture(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindOnce, Expr: "2026-06-01T12:00:00Z"}
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	next, ok, err := spec.Next(after)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), next.UTC())

	// exhausted once the instant has passed
	_, ok, err = spec.Next(next)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirst_OncePastStillFires(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindOnce, Expr: "2026-01-01T08:00:00Z"}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	at, ok, err := spec.First(now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), at.UTC())
}

func TestNext_OnceLocalInstantWithoutOffset(t *testing.T) {
	loc := mustLoc(t, "Europe/Chisinau")
	spec := Spec{Kind: model.ScheduleKindOnce, Expr: "2026-07-01T09:30:00", Timezone: "Europe/Chisinau"}

	next, ok, err := spec.Next(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 7, 1, 9, 30, 0, 0, loc).UTC(), next.UTC())
}

func TestNext_RRuleAnchored(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := Spec{
		Kind:     model.ScheduleKindRRule,
		Expr:     "FREQ=DAILY;BYHOUR=8;BYMINUTE=0;BYSECOND=0",
		Timezone: "UTC",
		Anchor:   anchor,
	}

	next, ok, err := spec.Next(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 3, 8, 0, 0, 0, time.UTC), next.UTC())
}

func TestNext_RRuleWithDtstartBlock(t *testing.T) {
	loc := mustLoc(t, "Europe/Chisinau")
	spec := Spec{
		Kind:     model.ScheduleKindRRule,
		Expr:     "DTSTART;TZID=Europe/Chisinau:20260110T090000\nRRULE:FREQ=WEEKLY;BYDAY=SA",
		Timezone: "Europe/Chisinau",
	}

	next, ok, err := spec.Next(time.Date(2026, 1, 10, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 17, 9, 0, 0, 0, loc).UTC(), next.UTC())
}

func TestNext_RRuleCountExhausted(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	spec := Spec{
		Kind:     model.ScheduleKindRRule,
		Expr:     "RRULE:FREQ=DAILY;COUNT=2",
		Timezone: "UTC",
		Anchor:   anchor,
	}

	next, ok, err := spec.Next(anchor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), next.UTC())

	_, ok, err = spec.Next(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_EventKindsNeverFire(t *testing.T) {
	for _, kind := range []model.ScheduleKind{model.ScheduleKindEvent, model.ScheduleKindCondition} {
		spec := Spec{Kind: kind, Expr: "orders.created"}
		_, ok, err := spec.Next(time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestValidate_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"bad cron", Spec{Kind: model.ScheduleKindCron, Expr: "61 * * * *", Timezone: "UTC"}},
		{"bad cron fields", Spec{Kind: model.ScheduleKindCron, Expr: "* * *", Timezone: "UTC"}},
		{"bad rrule", Spec{Kind: model.ScheduleKindRRule, Expr: "FREQ=SOMETIMES", Timezone: "UTC"}},
		{"bad once", Spec{Kind: model.ScheduleKindOnce, Expr: "tomorrow", Timezone: "UTC"}},
		{"bad timezone", Spec{Kind: model.ScheduleKindCron, Expr: "* * * * *", Timezone: "Mars/Olympus"}},
		{"empty expr", Spec{Kind: model.ScheduleKindCron, Expr: "  ", Timezone: "UTC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestValidate_EventTopicIsOpaque(t *testing.T) {
	spec := Spec{Kind: model.ScheduleKindEvent, Expr: "warehouse.stock.low"}
	assert.NoError(t, spec.Validate())
}
