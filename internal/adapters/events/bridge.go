// Package events provides the Redis Streams bridge that turns external event
// envelopes into due firings for event-driven tasks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/core"
	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/observability/statsd"
)

// BridgeActor is the audit actor recorded for bridge-published events.
const BridgeActor = "event-bridge"

// BridgeOptions configures the event bridge.
type BridgeOptions struct {
	Client    redis.UniversalClient
	Publisher core.EventPublisher
	Config    config.EventsConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink

	// Consumer overrides the generated consumer name. Useful in tests.
	Consumer string
}

// Bridge consumes a Redis Stream of event envelopes and publishes each into
// the orchestrator. Entries fan out to subscribed tasks and are acked only
// after a successful publish, so a crashed bridge redelivers rather than
// drops.
type Bridge struct {
	client    redis.UniversalClient
	publisher core.EventPublisher
	cfg       config.EventsConfig
	consumer  string
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewBridge creates a new event bridge with the given options.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()

	consumer := opts.Consumer
	if consumer == "" {
		consumer = fmt.Sprintf("bridge-%d", time.Now().UnixNano())
	}

	return &Bridge{
		client:    opts.Client,
		publisher: opts.Publisher,
		cfg:       opts.Config,
		consumer:  consumer,
		logger:    opts.Logger.With("component", "event_bridge"),
		metrics:   opts.Metrics,
	}, nil
}

// Run consumes the stream until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "starting event bridge",
		"stream", b.cfg.Stream, "group", b.cfg.Group, "consumer", b.consumer)

	for {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}

		entries, err := b.readBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.ErrorContext(ctx, "stream read failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, entry := range entries {
			b.handleEntry(ctx, entry)
		}
	}
}

// ensureGroup creates the consumer group at the stream head, tolerating the
// group already existing.
func (b *Bridge) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (b *Bridge) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    int64(b.cfg.BatchSize),
		Block:    b.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entries []redis.XMessage
	for _, stream := range streams {
		entries = append(entries, stream.Messages...)
	}
	return entries, nil
}

// handleEntry publishes one stream entry and acks it on success. Malformed
// entries are acked too: redelivery cannot fix them and they would wedge the
// pending list forever.
func (b *Bridge) handleEntry(ctx context.Context, entry redis.XMessage) {
	envelope, err := decodeEntry(entry)
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed stream entry",
			"entry_id", entry.ID, "error", err)
		b.ack(ctx, entry.ID)
		b.count("event_bridge.entry", "invalid")
		return
	}

	resp, err := b.publisher.Publish(ctx, BridgeActor, envelope)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.ErrorContext(ctx, "event publish failed",
				"entry_id", entry.ID, "topic", envelope.Topic, "error", err)
		}
		b.count("event_bridge.entry", "error")
		// Left unacked; the entry is redelivered on the next claim.
		return
	}

	b.ack(ctx, entry.ID)
	b.count("event_bridge.entry", "success")
	if len(resp.FiredTasks) > 0 {
		b.logger.InfoContext(ctx, "event fanned out",
			"topic", envelope.Topic, "matched", resp.Matched, "fired", len(resp.FiredTasks))
	}
}

// decodeEntry maps a stream entry onto an event envelope. The payload field
// carries the event body as a JSON document.
func decodeEntry(entry redis.XMessage) (*model.EventEnvelope, error) {
	topic, _ := entry.Values["topic"].(string)
	if topic == "" {
		return nil, errors.New("entry has no topic field")
	}

	envelope := &model.EventEnvelope{Topic: topic}

	if source, ok := entry.Values["source"].(string); ok {
		envelope.Source = source
	}

	if raw, ok := entry.Values["payload"].(string); ok && raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("payload of %q is not valid JSON", topic)
		}
		envelope.Payload = json.RawMessage(raw)
	}

	return envelope, nil
}

func (b *Bridge) ack(ctx context.Context, entryID string) {
	if err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, entryID).Err(); err != nil && ctx.Err() == nil {
		b.logger.WarnContext(ctx, "stream ack failed", "entry_id", entryID, "error", err)
	}
}

func (b *Bridge) count(name, result string) {
	if b.metrics == nil {
		return
	}
	b.metrics.Count(name, 1, map[string]string{"result": result})
}
