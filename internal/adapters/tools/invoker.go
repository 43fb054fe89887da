// Package tools provides the built-in tool invoker used by the pipeline
// executor: builtin: addresses for dev and test tools, and http(s) addresses
// as JSON POST calls against external tool endpoints.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/pipeline"
)

// maxResponseBytes caps how much of a tool response is read into memory.
const maxResponseBytes = 1 << 20

// InvokerOptions configures the built-in tool invoker.
type InvokerOptions struct {
	// Client is the HTTP client for http(s) tool addresses.
	// Defaults to a client with Timeout.
	Client *http.Client

	// Timeout bounds one outbound tool call when Client is not supplied.
	Timeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Invoker resolves builtin: and http(s):// tool addresses.
type Invoker struct {
	client *http.Client
	logger *slog.Logger
}

// NewInvoker creates the built-in tool invoker.
func NewInvoker(opts InvokerOptions) *Invoker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		client: client,
		logger: logger.With("component", "tool_invoker"),
	}
}

// Invoke implements pipeline.ToolInvoker.
func (i *Invoker) Invoke(ctx context.Context, call pipeline.ToolCall) (json.RawMessage, error) {
	switch {
	case strings.HasPrefix(call.Address, "builtin:"):
		return i.invokeBuiltin(ctx, strings.TrimPrefix(call.Address, "builtin:"), call.Input)
	case strings.HasPrefix(call.Address, "http://"), strings.HasPrefix(call.Address, "https://"):
		return i.invokeHTTP(ctx, call.Address, call.Input)
	default:
		return nil, &pipeline.ToolError{
			Retryable: false,
			Err:       fmt.Errorf("unsupported tool address %q", call.Address),
		}
	}
}

// invokeBuiltin dispatches the in-process tools used by the dev seed and tests.
func (i *Invoker) invokeBuiltin(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "echo":
		return builtinEcho(input)
	case "sleep":
		return builtinSleep(ctx, input)
	case "fail":
		return builtinFail(input)
	default:
		return nil, &pipeline.ToolError{
			Retryable: false,
			Err:       fmt.Errorf("unknown builtin tool %q", name),
		}
	}
}

// builtinEcho returns its input unchanged, or an empty object for no input.
func builtinEcho(input json.RawMessage) (json.RawMessage, error) {
	if len(input) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return input, nil
}

// builtinSleep pauses for input.seconds (fractional allowed) and reports how
// long it actually slept. A lease-bounded context cuts the sleep short.
func builtinSleep(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Seconds float64 `json:"seconds"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return nil, &pipeline.ToolError{Retryable: false, Err: fmt.Errorf("sleep input: %w", err)}
		}
	}
	if params.Seconds < 0 {
		return nil, &pipeline.ToolError{Retryable: false, Err: errors.New("sleep seconds must not be negative")}
	}

	start := time.Now()
	select {
	case <-time.After(time.Duration(params.Seconds * float64(time.Second))):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out, _ := json.Marshal(map[string]any{"slept_seconds": time.Since(start).Seconds()})
	return out, nil
}

// builtinFail always errors, with input-controlled retryability.
func builtinFail(input json.RawMessage) (json.RawMessage, error) {
	params := struct {
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}{Message: "builtin failure"}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return nil, &pipeline.ToolError{Retryable: false, Err: fmt.Errorf("fail input: %w", err)}
		}
	}
	return nil, &pipeline.ToolError{Retryable: params.Retryable, Err: errors.New(params.Message)}
}

// invokeHTTP POSTs the step input as JSON and returns the response body.
// 5xx and transport failures are retryable, 4xx is terminal.
func (i *Invoker) invokeHTTP(ctx context.Context, address string, input json.RawMessage) (json.RawMessage, error) {
	body := input
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(body))
	if err != nil {
		return nil, &pipeline.ToolError{Retryable: false, Err: fmt.Errorf("build tool request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth a retry.
		return nil, &pipeline.ToolError{Retryable: true, Err: fmt.Errorf("tool call failed: %w", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &pipeline.ToolError{Retryable: true, Err: fmt.Errorf("read tool response: %w", err)}
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &pipeline.ToolError{
			Retryable: true,
			Status:    resp.StatusCode,
			Err:       errors.New(truncateForError(payload)),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &pipeline.ToolError{
			Retryable: false,
			Status:    resp.StatusCode,
			Err:       errors.New(truncateForError(payload)),
		}
	}

	if len(payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(payload) {
		return nil, &pipeline.ToolError{
			Retryable: false,
			Status:    resp.StatusCode,
			Err:       errors.New("tool response is not valid JSON"),
		}
	}
	return payload, nil
}

func truncateForError(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "tool returned an error with no body"
	}
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
