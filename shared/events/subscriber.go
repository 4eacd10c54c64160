package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

// Subscriber consumes a stream through a consumer group. Messages whose
// handler fails stay pending and are reclaimed once they have been idle for
// claimMinIdle, which gives at-least-once delivery.
type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	claimMinIdle  time.Duration
	lastClaim     time.Time
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	ClaimMinIdle  time.Duration
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.ClaimMinIdle == 0 {
		config.ClaimMinIdle = time.Minute
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		claimMinIdle:  config.ClaimMinIdle,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	// Create consumer group if it doesn't exist
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("subscriber started", "stream", s.stream, "group", s.group, "consumer", s.consumer)

	for {
		select {
		case <-ctx.Done():
			slog.Info("subscriber stopping", "stream", s.stream)
			return ctx.Err()
		default:
			if time.Since(s.lastClaim) >= s.claimMinIdle {
				s.lastClaim = time.Now()
				if err := s.reclaimPending(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("failed to reclaim pending messages", "stream", s.stream, "error", err)
				}
			}
			if err := s.readMessages(ctx); err != nil && ctx.Err() == nil {
				slog.Error("error reading messages", "stream", s.stream, "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Subscriber) readMessages(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if err == redis.Nil {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.handleBatch(ctx, stream.Messages)
	}
	return nil
}

// reclaimPending takes over messages another delivery left unacknowledged.
func (s *Subscriber) reclaimPending(ctx context.Context) error {
	messages, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.claimMinIdle,
		Start:    "0-0",
		Count:    s.batchSize,
	}).Result()
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		slog.Info("reclaimed pending messages", "stream", s.stream, "count", len(messages))
	}
	s.handleBatch(ctx, messages)
	return nil
}

func (s *Subscriber) handleBatch(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			// Left unacknowledged; reclaimPending redelivers it later.
			slog.Error("failed to process message", "stream", s.stream, "message_id", message.ID, "error", err)
			continue
		}

		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			slog.Error("failed to ack message", "stream", s.stream, "message_id", message.ID, "error", err)
		}
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}
