package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Publisher struct {
	client *redis.Client
	source string
}

// NewPublisher returns a publisher stamping every event with source.
func NewPublisher(client *redis.Client, source string) *Publisher {
	return &Publisher{client: client, source: source}
}

func (p *Publisher) Source() string {
	return p.source
}

// Publish wraps data in a new envelope and appends it to stream.
func (p *Publisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	event, err := NewEvent(eventType, p.source, data)
	if err != nil {
		return err
	}
	return p.PublishEvent(ctx, stream, event)
}

// PublishEvent appends a prepared envelope. The message carries the envelope
// plus eventType, timestamp and source fields for consumers that only inspect
// metadata.
func (p *Publisher) PublishEvent(ctx context.Context, stream string, event Event) error {
	if event.Source == "" {
		event.Source = p.source
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"event":     eventJSON,
			"eventId":   event.ID,
			"eventType": event.Type,
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
			"source":    event.Source,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		slog.ErrorContext(ctx, "failed to publish event",
			"stream", stream, "event_type", event.Type, "error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.DebugContext(ctx, "published event", "stream", stream, "event_type", event.Type, "event_id", event.ID)
	return nil
}
