package trigger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/models"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

type WorkflowStarter interface {
	Start(ctx context.Context, eventID string, snapshot models.Preference) (*workflow.Run, error)
}

// PreferenceTrigger is the Redis stream subscriber handler. It starts one
// workflow run per PreferenceUpdated event and ignores every other type.
type PreferenceTrigger struct {
	starter WorkflowStarter
}

func NewPreferenceTrigger(starter WorkflowStarter) *PreferenceTrigger {
	return &PreferenceTrigger{starter: starter}
}

// Handle returns an error only when the run could not be scheduled, which
// leaves the message pending for redelivery. A run that ends Failed has been
// recorded and is acknowledged.
func (t *PreferenceTrigger) Handle(ctx context.Context, event events.Event) error {
	if event.Type != events.PreferenceUpdated {
		slog.DebugContext(ctx, "ignoring event", logging.FieldEventType, event.Type)
		return nil
	}

	var snapshot models.Preference
	if err := event.Decode(&snapshot); err != nil || snapshot.UserID == "" {
		slog.ErrorContext(ctx, "dropping malformed preference event",
			"event_id", event.ID, logging.FieldEventType, event.Type, logging.FieldError, err)
		return nil
	}

	_, err := t.starter.Start(ctx, event.ID, snapshot)
	if errors.Is(err, workflow.ErrStepFailed) {
		slog.WarnContext(ctx, "workflow run failed",
			logging.FieldRunID, event.ID, logging.FieldUserID, snapshot.UserID, logging.FieldError, err)
		return nil
	}
	return err
}
