package slack

import (
	"strings"
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.RunOutcomePayload{
		Kind:       notify.KindTerminalFailure,
		TaskID:     "task-1",
		TaskTitle:  "Morning Briefing",
		RunID:      "run-123",
		AgentName:  "calendar-agent",
		Attempt:    4,
		MaxRetries: 3,
		StepID:     "fetch",
		Error:      "boom",
		ErrorClass: "test_error",
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#alerts" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	if !containsAll(
		text,
		[]string{"Task run failure", "run-123", "attempt 4/4", "task-1", "Morning Briefing", "calendar-agent", "fetch", "boom", "test_error"},
	) {
		t.Fatalf("message text missing fields: %s", text)
	}
}

func TestFormatMessageRecoveredHeader(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.RunOutcomePayload{
		Kind:   notify.KindRecovered,
		TaskID: "task-1",
		RunID:  "run-9",
	})

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	if !strings.Contains(text, "Task recovered") {
		t.Fatalf("expected recovery header, got: %s", text)
	}
}

func TestFormatMessageTaskLink(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL:    "https://hooks.slack.com/services/test",
		TaskURLPrefix: "https://ordinaut.local/tasks",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.RunOutcomePayload{
		TaskID: "task-123",
	})

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}

	expected := "<https://ordinaut.local/tasks/task-123|task-123>"
	if !strings.Contains(text, expected) {
		t.Fatalf("expected task link %q in text: %s", expected, text)
	}
}

func TestFormatMessageEscapesTaskTitle(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.RunOutcomePayload{
		TaskID:    "task-123",
		TaskTitle: "test & <task>",
	})

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}

	if !strings.Contains(text, "test &amp; &lt;task&gt;") {
		t.Fatalf("expected escaped task title, got: %s", text)
	}
}

func TestFormatTaskValuePermutations(t *testing.T) {
	tcs := []struct {
		name   string
		taskID string
		title  string
		prefix string
		want   string
	}{
		{
			name:   "id with link",
			taskID: "task-1",
			prefix: "https://app.example/tasks",
			want:   "<https://app.example/tasks/task-1|task-1>",
		},
		{
			name:   "title only",
			title:  "Briefing",
			prefix: "https://app.example/tasks",
			want:   "Briefing",
		},
		{
			name:   "id and title with link",
			taskID: "task-2",
			title:  "Briefing",
			prefix: "https://app.example/tasks",
			want:   "<https://app.example/tasks/task-2|Briefing> (task-2)",
		},
		{
			name:   "id and title without link",
			taskID: "task-3",
			title:  "Briefing",
			prefix: "not a url",
			want:   "Briefing (task-3)",
		},
		{
			name:   "empty inputs",
			want:   "",
			title:  "",
			prefix: "https://app.example/tasks",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(Config{
				WebhookURL:    "https://hooks.slack.com/services/test",
				TaskURLPrefix: tc.prefix,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := client.formatTaskValue(tc.taskID, tc.title)
			if got != tc.want {
				t.Fatalf("formatTaskValue(%q,%q) = %q, want %q", tc.taskID, tc.title, got, tc.want)
			}
		})
	}
}

func containsAll(text string, substrs []string) bool {
	for _, s := range substrs {
		if !strings.Contains(text, s) {
			return false
		}
	}
	return true
}
