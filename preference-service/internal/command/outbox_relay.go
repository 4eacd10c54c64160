package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/userpreference/platform/preference-service/internal/repository"
	"github.com/userpreference/platform/shared/logging"
)

type OutboxStore interface {
	PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*repository.OutboxEntry, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// OutboxRelay republishes events whose publish did not complete after the
// write that recorded them. Entries younger than the grace period are left to
// the request that wrote them.
type OutboxRelay struct {
	store     OutboxStore
	publisher EventPublisher
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func NewOutboxRelay(store OutboxStore, publisher EventPublisher, interval, grace time.Duration, batchSize int) *OutboxRelay {
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run relays until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return nil
		}
	}
}

// RunOnce relays one batch and returns how many entries were published.
func (r *OutboxRelay) RunOnce(ctx context.Context) int {
	entries, err := r.store.PendingOutbox(ctx, r.now().Add(-r.grace), r.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load pending outbox entries", logging.FieldError, err)
		return 0
	}

	published := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		event, err := entry.Event()
		if err != nil {
			// Retrying cannot fix the payload; retire it so it stops taking a batch slot.
			slog.ErrorContext(ctx, "dropping undecodable outbox entry",
				"outbox_id", entry.ID, logging.FieldEventType, entry.EventType, logging.FieldError, err)
			if err := r.store.MarkPublished(ctx, entry.ID, r.now()); err != nil {
				slog.WarnContext(ctx, "failed to retire outbox entry", "outbox_id", entry.ID, logging.FieldError, err)
			}
			continue
		}
		if err := r.publisher.PublishEvent(ctx, entry.Stream, event); err != nil {
			slog.WarnContext(ctx, "outbox publish failed, will retry",
				"outbox_id", entry.ID, logging.FieldEventType, entry.EventType, logging.FieldError, err)
			continue
		}
		if err := r.store.MarkPublished(ctx, entry.ID, r.now()); err != nil {
			continue
		}
		published++
	}
	if published > 0 {
		slog.InfoContext(ctx, "relayed outbox entries", "count", published)
	}
	return published
}
