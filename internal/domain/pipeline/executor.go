package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultStepTimeout bounds a tool invocation when the step does not set its own.
const DefaultStepTimeout = 30 * time.Second

// ToolCall is one request to the external tool catalog.
type ToolCall struct {
	// Address locates the tool: an http(s) URL or a builtin: name.
	Address string
	// Input is the step's rendered input document.
	Input json.RawMessage
}

// ToolInvoker performs a single tool request/response. Implementations do not
// retry; retries happen at the task level.
type ToolInvoker interface {
	Invoke(ctx context.Context, call ToolCall) (json.RawMessage, error)
}

// ToolInvokerFunc adapts a function to the ToolInvoker interface.
type ToolInvokerFunc func(ctx context.Context, call ToolCall) (json.RawMessage, error)

// Invoke implements ToolInvoker.
func (f ToolInvokerFunc) Invoke(ctx context.Context, call ToolCall) (json.RawMessage, error) {
	return f(ctx, call)
}

// ExecutorOptions groups dependencies for the executor.
type ExecutorOptions struct {
	Invoker        ToolInvoker   // Required: tool catalog access
	Logger         *slog.Logger  // Optional: structured logger
	DefaultTimeout time.Duration // Optional: per-step bound, defaults to DefaultStepTimeout
	// ObserveStep, when set, receives the duration of every tool invocation.
	ObserveStep func(address string, d time.Duration, success bool)
}

// Executor runs pipelines step by step.
type Executor struct {
	invoker     ToolInvoker
	logger      *slog.Logger
	timeout     time.Duration
	observeStep func(string, time.Duration, bool)
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Invoker == nil {
		return nil, errors.New("ToolInvoker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Executor{
		invoker:     opts.Invoker,
		logger:      logger.With("component", "pipeline_executor"),
		timeout:     timeout,
		observeStep: opts.ObserveStep,
	}, nil
}

// MustNewExecutor constructs an Executor and panics on error.
// Use this when you want fail-fast behavior during application startup.
func MustNewExecutor(opts ExecutorOptions) *Executor {
	e, err := NewExecutor(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return e
}

// Run executes the pipeline to completion or to its first failing step. The
// now instant seeds the ${now} and ${today} environment values and should
// already be in the task's timezone. Cancellation of ctx surfaces as a
// retryable result: the firing re-runs after the interruption.
func (e *Executor) Run(ctx context.Context, p *Payload, now time.Time) Result {
	env, err := buildEnv(p.Params, now)
	if err != nil {
		return terminal(-1, "", err)
	}
	steps := env["steps"].(map[string]any)

	var lastResponse any
	for i := range p.Pipeline {
		step := &p.Pipeline[i]
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry(i, step.ID, ctxErr)
		}

		input, renderErr := renderInput(step.Input, env)
		if renderErr != nil {
			return terminal(i, step.ID, renderErr)
		}

		response, invokeErr := e.invokeStep(ctx, step, input)
		if invokeErr != nil {
			if disposition(invokeErr) == DispositionTerminal {
				return terminal(i, step.ID, invokeErr)
			}
			return retry(i, step.ID, invokeErr)
		}

		var decoded any
		if unmarshalErr := json.Unmarshal(response, &decoded); unmarshalErr != nil {
			return terminal(i, step.ID, fmt.Errorf("tool returned invalid JSON: %w", unmarshalErr))
		}
		steps[step.ID] = decoded
		if step.SaveAs != "" {
			steps[step.SaveAs] = decoded
		}
		lastResponse = decoded
	}

	output, err := json.Marshal(map[string]any{
		"result": lastResponse,
		"steps":  steps,
	})
	if err != nil {
		return terminal(-1, "", fmt.Errorf("marshal pipeline output: %w", err))
	}
	return Result{Disposition: DispositionOK, Output: output, StepIndex: -1}
}

func (e *Executor) invokeStep(ctx context.Context, step *Step, input json.RawMessage) (json.RawMessage, error) {
	timeout := e.timeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	response, err := e.invoker.Invoke(stepCtx, ToolCall{Address: step.Uses, Input: input})
	if e.observeStep != nil {
		e.observeStep(step.Uses, time.Since(start), err == nil)
	}
	if err != nil {
		e.logger.DebugContext(ctx, "tool invocation failed",
			slog.String("tool", step.Uses),
			slog.String("step_id", step.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return response, nil
}

// disposition classifies an invocation failure. Only tool errors typed as
// non-retryable are terminal; timeouts, cancellations, and untyped failures
// read as transient and re-run within the task's retry budget.
func disposition(err error) Disposition {
	var toolErr *ToolError
	if errors.As(err, &toolErr) && !toolErr.Retryable {
		return DispositionTerminal
	}
	return DispositionRetry
}

func buildEnv(params json.RawMessage, now time.Time) (map[string]any, error) {
	env := map[string]any{
		"steps": map[string]any{},
		"now":   now.Format(time.RFC3339),
		"today": now.Format("2006-01-02"),
	}
	if len(params) == 0 {
		env["params"] = map[string]any{}
		return env, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	env["params"] = decoded
	return env, nil
}

func retry(index int, id string, err error) Result {
	return Result{
		Disposition: DispositionRetry,
		Err:         annotate(index, id, err),
		StepIndex:   index,
		StepID:      id,
	}
}

func terminal(index int, id string, err error) Result {
	return Result{
		Disposition: DispositionTerminal,
		Err:         annotate(index, id, err),
		StepIndex:   index,
		StepID:      id,
	}
}

func annotate(index int, id string, err error) error {
	if index < 0 {
		return err
	}
	return fmt.Errorf("step %d (%s): %w", index, id, err)
}
