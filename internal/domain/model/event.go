//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EventEnvelope is one external event delivered over the bus or the publish
// endpoint. Event-kind tasks whose schedule expression equals the topic fire
// once per envelope.
type EventEnvelope struct {
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Source      string          `json:"source,omitempty"`
	PublishedAt time.Time       `json:"published_at,omitempty"`
}

// Validate validates the envelope before matching.
func (e *EventEnvelope) Validate() error {
	e.Topic = strings.TrimSpace(e.Topic)
	if e.Topic == "" {
		return errors.New("topic is required")
	}
	return nil
}

// PublishEventResponse reports how many tasks an event envelope fired.
type PublishEventResponse struct {
	Topic      string   `json:"topic"`
	Matched    int      `json:"matched"`
	FiredTasks []string `json:"fired_tasks,omitempty"`
}
