package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityInfo     = "info"
)

// Outcome kinds carried in run notifications.
const (
	// KindTerminalFailure marks a run whose retry budget is exhausted or
	// whose failure is permanent.
	KindTerminalFailure = "terminal_failure"
	// KindRecovered marks a success that followed one or more failed attempts.
	KindRecovered = "recovered"
)

// RunOutcomePayload captures the canonical data we emit for task run
// notifications: terminal failures and recoveries after retries.
type RunOutcomePayload struct {
	Kind       string
	TaskID     string
	TaskTitle  string
	RunID      string
	AgentID    string
	AgentName  string
	Attempt    int
	MaxRetries int
	Error      string
	ErrorClass string
	StepID     string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming run outcome notifications.
type Sink interface {
	SendRunOutcome(ctx context.Context, payload RunOutcomePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload RunOutcomePayload) error

// SendRunOutcome implements the Sink interface.
func (f SinkFunc) SendRunOutcome(ctx context.Context, payload RunOutcomePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
