package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/userpreference/platform/shared/events"
)

// OutboxEntry is an event recorded alongside the write that produced it.
// Payload is the JSON envelope, so a re-publish keeps the original event ID.
type OutboxEntry struct {
	ID          string
	Stream      string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewOutboxEntry records event for stream.
func NewOutboxEntry(stream string, event events.Event) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode outbox event")
	}
	return &OutboxEntry{
		ID:        event.ID,
		Stream:    stream,
		EventType: event.Type,
		Payload:   payload,
		CreatedAt: event.Timestamp.UTC(),
	}, nil
}

// Event decodes the stored envelope.
func (e *OutboxEntry) Event() (events.Event, error) {
	var event events.Event
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return events.Event{}, pkgerrors.Wrapf(err, "decode outbox entry %s", e.ID)
	}
	return event, nil
}

func (r *PreferenceRepository) insertOutbox(ctx context.Context, tx *sql.Tx, entry *OutboxEntry) error {
	query := `INSERT INTO preference_outbox (id, stream, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, r.db.Dialect.Rebind(query),
		entry.ID, entry.Stream, entry.EventType, string(entry.Payload), nanos(entry.CreatedAt))
	return pkgerrors.Wrap(err, "insert outbox entry")
}

// PendingOutbox returns unpublished entries created before olderThan, oldest first.
func (r *PreferenceRepository) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*OutboxEntry, error) {
	query := `
		SELECT id, stream, event_type, payload, created_at
		FROM preference_outbox
		WHERE published_at IS NULL AND created_at < ?
		ORDER BY created_at, id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(query), nanos(olderThan), limit)
	if err != nil {
		return nil, r.fail(ctx, "failed to read outbox", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		var (
			entry   OutboxEntry
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.Stream, &entry.EventType, &entry.Payload, &created); err != nil {
			return nil, r.fail(ctx, "failed to read outbox", err)
		}
		entry.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail(ctx, "failed to read outbox", err)
	}
	return entries, nil
}

// MarkPublished closes the inconsistency window for an entry.
func (r *PreferenceRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE preference_outbox SET published_at = ? WHERE id = ? AND published_at IS NULL`
	if _, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(query), nanos(at), id); err != nil {
		return r.fail(ctx, "failed to mark outbox entry published", err, "outbox_id", id)
	}
	return nil
}
