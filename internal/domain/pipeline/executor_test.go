package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoInvoker answers every call with its rendered input.
var echoInvoker = ToolInvokerFunc(func(_ context.Context, call ToolCall) (json.RawMessage, error) {
	return call.Input, nil
})

func newTestExecutor(t *testing.T, invoker ToolInvoker) *Executor {
	t.Helper()
	e, err := NewExecutor(ExecutorOptions{Invoker: invoker})
	require.NoError(t, err)
	return e
}

func mustParse(t *testing.T, raw string) *Payload {
	t.Helper()
	p, err := ParsePayload(json.RawMessage(raw))
	require.NoError(t, err)
	return p
}

func decodeOutput(t *testing.T, res Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	return out
}

func TestParsePayload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		errorMsg string
	}{
		{"empty", ``, "payload is required"},
		{"no steps", `{"pipeline":[]}`, "at least one step"},
		{"unknown field", `{"pipeline":[{"id":"a","uses":"x"}],"extra":1}`, "invalid payload"},
		{"missing id", `{"pipeline":[{"uses":"x"}]}`, "id is required"},
		{"missing uses", `{"pipeline":[{"id":"a"}]}`, "uses is required"},
		{"negative timeout", `{"pipeline":[{"id":"a","uses":"x","timeout_seconds":-1}]}`, "timeout_seconds"},
		{"duplicate id", `{"pipeline":[{"id":"a","uses":"x"},{"id":"a","uses":"y"}]}`, "collides"},
		{"save_as collision", `{"pipeline":[{"id":"a","uses":"x"},{"id":"b","uses":"y","save_as":"a"}]}`, "collides"},
		{"params not object", `{"params":[1,2],"pipeline":[{"id":"a","uses":"x"}]}`, "params must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestRun_EchoBindsTypedParam(t *testing.T) {
	exec := newTestExecutor(t, echoInvoker)
	p := mustParse(t, `{
		"params": {"x": 42},
		"pipeline": [{"id": "a", "uses": "builtin:echo", "input": {"v": "${params.x}"}, "save_as": "out"}]
	}`)

	res := exec.Run(context.Background(), p, time.Now())
	require.Equal(t, DispositionOK, res.Disposition, "unexpected error: %v", res.Err)

	out := decodeOutput(t, res)
	steps := out["steps"].(map[string]any)
	assert.Equal(t, float64(42), steps["out"].(map[string]any)["v"])
	assert.Equal(t, float64(42), steps["a"].(map[string]any)["v"])
	assert.Equal(t, float64(42), out["result"].(map[string]any)["v"])
}

func TestRun_StepsChainAndStringInterpolation(t *testing.T) {
	exec := newTestExecutor(t, echoInvoker)
	p := mustParse(t, `{
		"params": {"city": "Chisinau"},
		"pipeline": [
			{"id": "first", "uses": "builtin:echo", "input": {"greeting": "hello ${params.city}", "n": 7}},
			{"id": "second", "uses": "builtin:echo", "input": {"prev": "${steps.first.n}", "msg": "${steps.first.greeting} x${steps.first.n}"}}
		]
	}`)

	res := exec.Run(context.Background(), p, time.Now())
	require.Equal(t, DispositionOK, res.Disposition, "unexpected error: %v", res.Err)

	out := decodeOutput(t, res)
	second := out["steps"].(map[string]any)["second"].(map[string]any)
	assert.Equal(t, float64(7), second["prev"])
	assert.Equal(t, "hello Chisinau x7", second["msg"])
}

func TestRun_NowAndTodayResolvedAtStart(t *testing.T) {
	exec := newTestExecutor(t, echoInvoker)
	p := mustParse(t, `{
		"pipeline": [{"id": "a", "uses": "builtin:echo", "input": {"at": "${now}", "day": "${today}"}}]
	}`)
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	res := exec.Run(context.Background(), p, now)
	require.Equal(t, DispositionOK, res.Disposition)

	out := decodeOutput(t, res)
	step := out["steps"].(map[string]any)["a"].(map[string]any)
	assert.Equal(t, "2026-05-04T10:30:00Z", step["at"])
	assert.Equal(t, "2026-05-04", step["day"])
}

func TestRun_UnresolvedReferenceIsTerminal(t *testing.T) {
	exec := newTestExecutor(t, echoInvoker)
	p := mustParse(t, `{
		"pipeline": [{"id": "a", "uses": "builtin:echo", "input": {"v": "${params.missing}"}}]
	}`)

	res := exec.Run(context.Background(), p, time.Now())
	assert.Equal(t, DispositionTerminal, res.Disposition)
	assert.Equal(t, 0, res.StepIndex)
	assert.Equal(t, "a", res.StepID)
	assert.Contains(t, res.Err.Error(), "step 0 (a)")
	assert.Contains(t, res.Err.Error(), "unresolved reference")
}

func TestRun_ToolErrorDispositions(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{"5xx is retryable", &ToolError{Retryable: true, Status: 503, Err: errors.New("service unavailable")}, DispositionRetry},
		{"4xx is terminal", &ToolError{Retryable: false, Status: 400, Err: errors.New("bad request")}, DispositionTerminal},
		{"untyped transport error retries", errors.New("connection reset"), DispositionRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := ToolInvokerFunc(func(_ context.Context, _ ToolCall) (json.RawMessage, error) {
				return nil, tt.err
			})
			exec := newTestExecutor(t, failing)
			p := mustParse(t, `{"pipeline":[{"id":"a","uses":"https://tools/x"}]}`)

			res := exec.Run(context.Background(), p, time.Now())
			assert.Equal(t, tt.want, res.Disposition)
			assert.Contains(t, res.Err.Error(), "step 0 (a)")
		})
	}
}

func TestRun_SecondStepFailureAnnotated(t *testing.T) {
	calls := 0
	invoker := ToolInvokerFunc(func(_ context.Context, call ToolCall) (json.RawMessage, error) {
		calls++
		if calls == 2 {
			return nil, &ToolError{Retryable: false, Status: 422, Err: errors.New("unprocessable")}
		}
		return call.Input, nil
	})
	exec := newTestExecutor(t, invoker)
	p := mustParse(t, `{"pipeline":[
		{"id":"fetch","uses":"https://tools/fetch"},
		{"id":"transform","uses":"https://tools/transform"}
	]}`)

	res := exec.Run(context.Background(), p, time.Now())
	assert.Equal(t, DispositionTerminal, res.Disposition)
	assert.Equal(t, 1, res.StepIndex)
	assert.Equal(t, "transform", res.StepID)
	assert.Contains(t, res.Err.Error(), "step 1 (transform)")
}

func TestRun_InvalidToolJSONIsTerminal(t *testing.T) {
	invoker := ToolInvokerFunc(func(_ context.Context, _ ToolCall) (json.RawMessage, error) {
		return json.RawMessage("not-json"), nil
	})
	exec := newTestExecutor(t, invoker)
	p := mustParse(t, `{"pipeline":[{"id":"a","uses":"https://tools/x"}]}`)

	res := exec.Run(context.Background(), p, time.Now())
	assert.Equal(t, DispositionTerminal, res.Disposition)
	assert.Contains(t, res.Err.Error(), "invalid JSON")
}

func TestRun_StepTimeoutIsRetryable(t *testing.T) {
	blocking := ToolInvokerFunc(func(ctx context.Context, _ ToolCall) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec, err := NewExecutor(ExecutorOptions{Invoker: blocking, DefaultTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	p := mustParse(t, `{"pipeline":[{"id":"slow","uses":"https://tools/slow"}]}`)

	res := exec.Run(context.Background(), p, time.Now())
	assert.Equal(t, DispositionRetry, res.Disposition)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestRun_CanceledContextIsRetryable(t *testing.T) {
	exec := newTestExecutor(t, echoInvoker)
	p := mustParse(t, `{"pipeline":[{"id":"a","uses":"builtin:echo"}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Run(ctx, p, time.Now())
	assert.Equal(t, DispositionRetry, res.Disposition)
}

func TestRun_ObserveStepFires(t *testing.T) {
	var observed []string
	exec, err := NewExecutor(ExecutorOptions{
		Invoker: echoInvoker,
		ObserveStep: func(address string, _ time.Duration, success bool) {
			require.True(t, success)
			observed = append(observed, address)
		},
	})
	require.NoError(t, err)
	p := mustParse(t, `{"pipeline":[
		{"id":"a","uses":"builtin:echo"},
		{"id":"b","uses":"https://tools/x"}
	]}`)
	invoked := exec.Run(context.Background(), p, time.Now())
	require.Equal(t, DispositionOK, invoked.Disposition)
	assert.Equal(t, []string{"builtin:echo", "https://tools/x"}, observed)
}

func TestNewExecutor_RequiresInvoker(t *testing.T) {
	_, err := NewExecutor(ExecutorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ToolInvoker is required")
}
