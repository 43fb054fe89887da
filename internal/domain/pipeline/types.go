// Package pipeline executes the declarative step sequence carried in a task's
// payload. Steps run strictly in order against an external tool catalog; each
// step's rendered input and recorded response are plain JSON. The executor is
// deterministic given identical tool responses: the only timing-dependent
// inputs are the now/today environment values resolved once at start.
package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the parsed form of a task's payload column.
type Payload struct {
	Params   json.RawMessage `json:"params,omitempty"`
	Pipeline []Step          `json:"pipeline"`
}

// Step is one tool invocation in a pipeline.
type Step struct {
	ID             string          `json:"id"`
	Uses           string          `json:"uses"`
	Input          json.RawMessage `json:"input,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	SaveAs         string          `json:"save_as,omitempty"`
}

// ParsePayload strictly decodes and validates a task payload at admission
// time. Unknown fields are rejected so schema typos fail at create, not at
// execution.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	if len(raw) == 0 {
		return nil, errors.New("payload is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if len(p.Params) > 0 && !isJSONObject(p.Params) {
		return nil, errors.New("params must be a JSON object")
	}
	if len(p.Pipeline) == 0 {
		return nil, errors.New("pipeline must contain at least one step")
	}
	seen := make(map[string]int, len(p.Pipeline)*2)
	for i := range p.Pipeline {
		s := &p.Pipeline[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("step %d: id is required", i)
		}
		if strings.TrimSpace(s.Uses) == "" {
			return nil, fmt.Errorf("step %d (%s): uses is required", i, s.ID)
		}
		if s.TimeoutSeconds < 0 {
			return nil, fmt.Errorf("step %d (%s): timeout_seconds must be >= 0", i, s.ID)
		}
		if prev, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("step %d (%s): id collides with step %d", i, s.ID, prev)
		}
		seen[s.ID] = i
		if s.SaveAs = strings.TrimSpace(s.SaveAs); s.SaveAs != "" && s.SaveAs != s.ID {
			if prev, dup := seen[s.SaveAs]; dup {
				return nil, fmt.Errorf("step %d (%s): save_as %q collides with step %d", i, s.ID, s.SaveAs, prev)
			}
			seen[s.SaveAs] = i
		}
	}
	return &p, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Disposition is the outcome variant of a pipeline run or a single step.
type Disposition int

const (
	// DispositionOK means the pipeline completed and produced output.
	DispositionOK Disposition = iota
	// DispositionRetry means a transient failure; the firing may re-run.
	DispositionRetry
	// DispositionTerminal means the failure is permanent for this firing.
	DispositionTerminal
)

// String returns the lower-case name of the disposition.
func (d Disposition) String() string {
	switch d {
	case DispositionOK:
		return "ok"
	case DispositionRetry:
		return "retry"
	case DispositionTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is what a pipeline run hands back to the worker.
type Result struct {
	Disposition Disposition
	// Output is the run output JSON, set only on OK.
	Output json.RawMessage
	// Err carries the step-annotated failure, set on Retry and Terminal.
	Err error
	// StepIndex and StepID locate the failing step; StepIndex is -1 when the
	// failure is not step-scoped.
	StepIndex int
	StepID    string
}

// ToolError lets invokers state whether a tool failure is worth retrying.
// HTTP invokers map 5xx and transport failures to retryable, 4xx to terminal.
type ToolError struct {
	Retryable bool
	Status    int
	Err       error
}

func (e *ToolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tool returned status %d: %v", e.Status, e.Err)
	}
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error { return e.Err }
