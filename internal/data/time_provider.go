package data

import "time"

// TimeProvider abstracts the clock so due-work claims, lease expiry, and
// dedupe comparisons can run against a pinned time in tests. Production
// code always reads UTC from it.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider is a test clock pinned to one instant.
type FixedTimeProvider struct {
	now time.Time
}

// NewFixedTimeProvider pins the clock to t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{now: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.now
}

// Advance moves the pinned clock forward by d.
func (f *FixedTimeProvider) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
