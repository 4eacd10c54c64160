package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/userpreference/platform/preference-service/internal/repository"
	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/models"
	"github.com/userpreference/platform/shared/utils"
)

// Remote configuration keys overriding the built-in defaults.
const (
	DefaultThemeKey    = "Preferences:Defaults:Theme"
	DefaultLanguageKey = "Preferences:Defaults:Language"
	DefaultTimezoneKey = "Preferences:Defaults:Timezone"
)

// ErrEventNotPublished reports a write that was stored but whose event did not
// reach the bus. The outbox relay publishes it later.
var ErrEventNotPublished = apperrors.Dependency("Preference change was saved but its event was not published", nil)

type PreferenceStore interface {
	FindLatestByUserID(ctx context.Context, userID string) (*models.Preference, error)
	Put(ctx context.Context, p *models.Preference, ifMatch string, outbox repository.OutboxFunc) error
	DeleteByUserID(ctx context.Context, userID string, entry *repository.OutboxEntry) (bool, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

type EventPublisher interface {
	Source() string
	PublishEvent(ctx context.Context, stream string, event events.Event) error
}

// DefaultsSource resolves remote overrides; appconfig.Store satisfies it.
type DefaultsSource interface {
	GetOrDefault(ctx context.Context, key, fallback string) string
}

// PreferenceCommandService performs one store write followed by one publish
// for every mutation.
type PreferenceCommandService struct {
	store     PreferenceStore
	publisher EventPublisher
	defaults  DefaultsSource
	now       func() time.Time
}

func NewPreferenceCommandService(store PreferenceStore, publisher EventPublisher, defaults DefaultsSource) *PreferenceCommandService {
	return &PreferenceCommandService{
		store:     store,
		publisher: publisher,
		defaults:  defaults,
		now:       time.Now,
	}
}

// CreatePreference stores a new record for the user, filling unset fields
// with defaults. When only the publish fails the stored record is returned
// together with ErrEventNotPublished.
func (s *PreferenceCommandService) CreatePreference(ctx context.Context, cmd cqrs.CreatePreferenceCommand) (*models.Preference, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, apperrors.Validation("userId is required")
	}

	p := models.NewPreference(utils.NewID(), cmd.UserID, s.resolveDefaults(ctx), s.now())
	applyFields(p, cmd.Fields)

	event, err := s.save(ctx, p, "", events.PreferenceCreated)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "created preferences", logging.FieldUserID, p.UserID, "id", p.ID)
	return p, s.publish(ctx, event)
}

// UpdatePreference applies the supplied fields to the user's current record.
func (s *PreferenceCommandService) UpdatePreference(ctx context.Context, cmd cqrs.UpdatePreferenceCommand) (*models.Preference, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, apperrors.Validation("userId is required")
	}

	p, err := s.store.FindLatestByUserID(ctx, cmd.UserID)
	if apperrors.IsCode(err, apperrors.CodeNotFound) && cmd.CreateIfMissing && cmd.IfMatch == "" {
		return s.CreatePreference(ctx, cqrs.CreatePreferenceCommand{UserID: cmd.UserID, Fields: cmd.Fields})
	}
	if err != nil {
		return nil, err
	}
	if cmd.IfMatch != "" && cmd.IfMatch != p.ETag {
		return nil, apperrors.PreconditionFailed("Preferences were modified by another request")
	}

	applyFields(p, cmd.Fields)
	p.Touch(s.now())

	event, err := s.save(ctx, p, cmd.IfMatch, events.PreferenceUpdated)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "updated preferences", logging.FieldUserID, p.UserID, "id", p.ID)
	return p, s.publish(ctx, event)
}

// DeletePreference removes every record of the user and reports whether
// anything was removed. No event is published when nothing was.
func (s *PreferenceCommandService) DeletePreference(ctx context.Context, cmd cqrs.DeletePreferenceCommand) (bool, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return false, apperrors.Validation("userId is required")
	}

	event, err := events.NewEvent(events.PreferenceDeleted, s.publisher.Source(), models.PreferenceDeleted{UserID: cmd.UserID})
	if err != nil {
		return false, apperrors.Dependency("failed to build preference event", err)
	}
	entry, err := repository.NewOutboxEntry(events.PreferenceEventsStream, event)
	if err != nil {
		return false, apperrors.Dependency("failed to build preference event", err)
	}

	removed, err := s.store.DeleteByUserID(ctx, cmd.UserID, entry)
	if err != nil || !removed {
		return false, err
	}
	slog.InfoContext(ctx, "deleted preferences", logging.FieldUserID, cmd.UserID)
	return true, s.publish(ctx, event)
}

// save persists p with an outbox entry carrying a snapshot of the stored record.
func (s *PreferenceCommandService) save(ctx context.Context, p *models.Preference, ifMatch, eventType string) (events.Event, error) {
	var event events.Event
	err := s.store.Put(ctx, p, ifMatch, func(stored *models.Preference) (*repository.OutboxEntry, error) {
		var err error
		event, err = events.NewEvent(eventType, s.publisher.Source(), stored.Clone())
		if err != nil {
			return nil, err
		}
		return repository.NewOutboxEntry(events.PreferenceEventsStream, event)
	})
	return event, err
}

func (s *PreferenceCommandService) publish(ctx context.Context, event events.Event) error {
	if err := s.publisher.PublishEvent(ctx, events.PreferenceEventsStream, event); err != nil {
		slog.ErrorContext(ctx, "failed to publish preference event",
			logging.FieldEventType, event.Type, "event_id", event.ID, logging.FieldError, err)
		return apperrors.Dependency(ErrEventNotPublished.Message, err)
	}
	if err := s.store.MarkPublished(ctx, event.ID, s.now()); err != nil {
		// The relay will publish the event again; consumers key on event ID.
		slog.WarnContext(ctx, "failed to mark outbox entry published", "event_id", event.ID, logging.FieldError, err)
	}
	return nil
}

func (s *PreferenceCommandService) resolveDefaults(ctx context.Context) models.Defaults {
	d := models.BuiltinDefaults()
	if s.defaults == nil {
		return d
	}
	d.Theme = s.defaults.GetOrDefault(ctx, DefaultThemeKey, d.Theme)
	d.Language = s.defaults.GetOrDefault(ctx, DefaultLanguageKey, d.Language)
	d.Timezone = s.defaults.GetOrDefault(ctx, DefaultTimezoneKey, d.Timezone)
	return d
}

// applyFields copies the supplied fields onto p. CustomSettings replaces the
// whole map when present.
func applyFields(p *models.Preference, f cqrs.PreferenceFields) {
	if f.Theme != nil {
		p.Theme = *f.Theme
	}
	if f.Language != nil {
		p.Language = *f.Language
	}
	if f.Timezone != nil {
		p.Timezone = *f.Timezone
	}
	if f.NotificationsEnabled != nil {
		p.NotificationsEnabled = *f.NotificationsEnabled
	}
	if f.AnalyticsEnabled != nil {
		p.AnalyticsEnabled = *f.AnalyticsEnabled
	}
	if f.CustomSettings != nil {
		settings := make(map[string]any, len(f.CustomSettings))
		for k, v := range f.CustomSettings {
			settings[k] = v
		}
		p.CustomSettings = settings
	}
}
