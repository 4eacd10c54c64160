package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	PreferenceCreated = "PreferenceCreated"
	PreferenceUpdated = "PreferenceUpdated"
	PreferenceDeleted = "PreferenceDeleted"

	PreferenceChangeNotified  = "PreferenceChangeNotified"
	UserNotificationRequested = "UserNotificationRequested"
)

// Stream names
const (
	PreferenceEventsStream     = "preference.events"
	ExternalEventsStream       = "preference.external"
	NotificationRequestsStream = "notification.requests"
)

// Event is the envelope written to every stream. ID is assigned once by the
// producer and survives redelivery, so consumers can use it as an idempotency key.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with a fresh ID and a UTC timestamp.
func NewEvent(eventType, source string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", e.Type, err)
	}
	return nil
}

// UserNotification asks the notification channel to contact a user.
type UserNotification struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}
