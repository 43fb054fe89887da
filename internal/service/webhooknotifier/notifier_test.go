package webhooknotifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/observability/notify"
)

func TestNotifyRunOutcomeFansOutToAllSinks(t *testing.T) {
	var first, second atomic.Int32
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "one", Sink: notify.SinkFunc(func(context.Context, notify.RunOutcomePayload) error {
				first.Add(1)
				return nil
			})},
			{Name: "two", Sink: notify.SinkFunc(func(context.Context, notify.RunOutcomePayload) error {
				second.Add(1)
				return errors.New("delivery refused")
			})},
		},
	})

	require.True(t, svc.Enabled())

	svc.NotifyRunOutcome(context.Background(), "", notify.RunOutcomePayload{
		Kind:   notify.KindTerminalFailure,
		TaskID: "task-1",
		RunID:  "run-1",
	})

	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestNotifyRunOutcomeDefaultsSeverity(t *testing.T) {
	var got notify.RunOutcomePayload
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "capture", Sink: notify.SinkFunc(func(_ context.Context, p notify.RunOutcomePayload) error {
				got = p
				return nil
			})},
		},
	})

	svc.NotifyRunOutcome(context.Background(), "", notify.RunOutcomePayload{
		Kind: notify.KindRecovered,
	})
	assert.Equal(t, notify.SeverityInfo, got.Severity)
	assert.False(t, got.OccurredAt.IsZero())

	svc.NotifyRunOutcome(context.Background(), "", notify.RunOutcomePayload{
		Kind: notify.KindTerminalFailure,
	})
	assert.Equal(t, notify.SeverityCritical, got.Severity)
}

func TestNotifyRunOutcomePostsAgentWebhook(t *testing.T) {
	received := make(chan agentWebhookBody, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var decoded agentWebhookBody
		require.NoError(t, json.Unmarshal(body, &decoded))
		received <- decoded
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(Options{})
	require.False(t, svc.Enabled())

	svc.NotifyRunOutcome(context.Background(), server.URL, notify.RunOutcomePayload{
		Kind:       notify.KindTerminalFailure,
		TaskID:     "task-7",
		TaskTitle:  "Morning Briefing",
		RunID:      "run-7",
		Attempt:    3,
		MaxRetries: 2,
		Error:      "boom",
		StepID:     "fetch",
	})

	select {
	case got := <-received:
		assert.Equal(t, notify.KindTerminalFailure, got.Kind)
		assert.Equal(t, "task-7", got.TaskID)
		assert.Equal(t, "run-7", got.RunID)
		assert.Equal(t, 3, got.Attempt)
		assert.Equal(t, "fetch", got.StepID)
		assert.Equal(t, notify.SeverityCritical, got.Severity)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotifyRunOutcomeWebhookFailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc := NewService(Options{})
	// Must not panic or block; failures are logged only.
	svc.NotifyRunOutcome(context.Background(), server.URL, notify.RunOutcomePayload{
		Kind:   notify.KindTerminalFailure,
		TaskID: "task-1",
	})
}
