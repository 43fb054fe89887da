// Package webhooknotifier fans run outcome notifications out to configured
// sinks and to the owning agent's registered webhook.
package webhooknotifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ordinaut/ordinaut/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the webhook notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Client delivers agent webhook posts; defaults to a 5s-timeout client.
	Client *http.Client
}

// Service dispatches run outcome events to all registered sinks and, when the
// owning agent carries a webhook URL, to that webhook as a JSON POST.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	client *http.Client
}

// NewService constructs a webhook notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "webhook_notifier")
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return &Service{
		logger: logger,
		sinks:  sinks,
		client: client,
	}
}

// NotifyRunOutcome fans the payload out to all sinks plus the agent webhook.
// Delivery failures are logged and never propagated: notifications are
// best-effort, the run outcome is already durable.
func (s *Service) NotifyRunOutcome(ctx context.Context, agentWebhookURL string, payload notify.RunOutcomePayload) {
	if payload.Severity == "" {
		if payload.Kind == notify.KindRecovered {
			payload.Severity = notify.SeverityInfo
		} else {
			payload.Severity = notify.SeverityCritical
		}
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendRunOutcome(ctx, payload); err != nil {
				s.logger.Error("run notifier delivery error",
					"sink", entry.Name,
					"task_id", payload.TaskID,
					"run_id", payload.RunID,
					"error", err,
				)
			}
		}()
	}
	if agentWebhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.postAgentWebhook(ctx, agentWebhookURL, payload); err != nil {
				s.logger.Error("agent webhook delivery error",
					"task_id", payload.TaskID,
					"run_id", payload.RunID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any statically configured sinks.
// Per-agent webhooks fire regardless.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}

type agentWebhookBody struct {
	Kind       string            `json:"kind"`
	TaskID     string            `json:"task_id"`
	TaskTitle  string            `json:"task_title,omitempty"`
	RunID      string            `json:"run_id"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
	Error      string            `json:"error,omitempty"`
	StepID     string            `json:"step_id,omitempty"`
	Severity   string            `json:"severity"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Service) postAgentWebhook(ctx context.Context, url string, payload notify.RunOutcomePayload) error {
	body, err := json.Marshal(agentWebhookBody{
		Kind:       payload.Kind,
		TaskID:     payload.TaskID,
		TaskTitle:  payload.TaskTitle,
		RunID:      payload.RunID,
		Attempt:    payload.Attempt,
		MaxRetries: payload.MaxRetries,
		Error:      payload.Error,
		StepID:     payload.StepID,
		Severity:   payload.Severity,
		OccurredAt: payload.OccurredAt.UTC(),
		Metadata:   payload.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
