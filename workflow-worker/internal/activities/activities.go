// Package activities implements the four steps of the preference update
// workflow on top of the SQL audit table, Redis streams and Redis counters.
package activities

import (
	"context"
	"log/slog"
	"time"

	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/models"
	"github.com/userpreference/platform/workflow-worker/internal/repository"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

const (
	// NotificationMessageKey is the remote setting holding the notification text.
	NotificationMessageKey = "Workflow:NotificationMessage"

	DefaultNotificationMessage = "Your preferences have been updated."
	NotificationType           = "preference-update"

	AuditActionUpdated = "PreferenceUpdated"
)

type AuditWriter interface {
	Insert(ctx context.Context, entry *repository.AuditEntry) error
}

type AnalyticsRecorder interface {
	Record(ctx context.Context, runID string, p *models.Preference) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type SettingsSource interface {
	GetOrDefault(ctx context.Context, key, fallback string) string
}

type Config struct {
	ExternalStream     string
	NotificationStream string
}

type Activities struct {
	audit     AuditWriter
	analytics AnalyticsRecorder
	publisher EventPublisher
	settings  SettingsSource
	cfg       Config
	now       func() time.Time
}

func New(audit AuditWriter, analytics AnalyticsRecorder, publisher EventPublisher, settings SettingsSource, cfg Config) *Activities {
	if cfg.ExternalStream == "" {
		cfg.ExternalStream = events.ExternalEventsStream
	}
	if cfg.NotificationStream == "" {
		cfg.NotificationStream = events.NotificationRequestsStream
	}
	return &Activities{
		audit:     audit,
		analytics: analytics,
		publisher: publisher,
		settings:  settings,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Registry maps every workflow step onto its activity.
func (a *Activities) Registry() map[workflow.Step]workflow.Activity {
	return map[workflow.Step]workflow.Activity{
		workflow.StepLogChange:        a.LogChange,
		workflow.StepNotifyExternal:   a.NotifyExternal,
		workflow.StepUpdateAnalytics:  a.UpdateAnalytics,
		workflow.StepSendNotification: a.SendNotification,
	}
}

// LogChange writes the snapshot to the audit trail. The entry is keyed by run,
// so later attempts of the same run do not add duplicates.
func (a *Activities) LogChange(ctx context.Context, in workflow.Input) error {
	slog.InfoContext(ctx, "preference change",
		logging.FieldRunID, in.RunID,
		logging.FieldUserID, in.Snapshot.UserID,
		"theme", in.Snapshot.Theme,
		"language", in.Snapshot.Language,
		"timezone", in.Snapshot.Timezone,
		"notifications_enabled", in.Snapshot.NotificationsEnabled,
		"analytics_enabled", in.Snapshot.AnalyticsEnabled,
	)
	return a.audit.Insert(ctx, &repository.AuditEntry{
		ID:        in.RunID,
		RunID:     in.RunID,
		UserID:    in.Snapshot.UserID,
		Action:    AuditActionUpdated,
		Snapshot:  *in.Snapshot,
		CreatedAt: a.now().UTC(),
	})
}

// NotifyExternal forwards the snapshot to downstream systems.
func (a *Activities) NotifyExternal(ctx context.Context, in workflow.Input) error {
	if err := a.publisher.Publish(ctx, a.cfg.ExternalStream, events.PreferenceChangeNotified, in.Snapshot); err != nil {
		return err
	}
	slog.InfoContext(ctx, "notified external systems", logging.FieldRunID, in.RunID, logging.FieldUserID, in.Snapshot.UserID)
	return nil
}

// UpdateAnalytics counts the change once per run, even across attempts.
func (a *Activities) UpdateAnalytics(ctx context.Context, in workflow.Input) error {
	counted, err := a.analytics.Record(ctx, in.RunID, in.Snapshot)
	if err != nil {
		return err
	}
	if !counted {
		slog.InfoContext(ctx, "analytics already recorded for run", logging.FieldRunID, in.RunID)
	}
	return nil
}

// SendNotification asks the notification channel to tell the user about the change.
func (a *Activities) SendNotification(ctx context.Context, in workflow.Input) error {
	message := DefaultNotificationMessage
	if a.settings != nil {
		message = a.settings.GetOrDefault(ctx, NotificationMessageKey, DefaultNotificationMessage)
	}
	err := a.publisher.Publish(ctx, a.cfg.NotificationStream, events.UserNotificationRequested, events.UserNotification{
		UserID:  in.Snapshot.UserID,
		Message: message,
		Type:    NotificationType,
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "notification requested", logging.FieldRunID, in.RunID, logging.FieldUserID, in.Snapshot.UserID)
	return nil
}
