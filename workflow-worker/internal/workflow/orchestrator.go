package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/models"
)

// ErrStepFailed marks a run that ended Failed because a step returned an
// error. The run record holds the cause.
var ErrStepFailed = apperrors.Dependency("workflow step failed", nil)

// Input is what every activity receives. Snapshot is a copy owned by the call.
type Input struct {
	RunID    string
	Attempt  int
	Snapshot *models.Preference
}

type Activity func(ctx context.Context, in Input) error

type RunStore interface {
	Get(ctx context.Context, id string) (*Run, bool, error)
	Save(ctx context.Context, run *Run) error
}

// Orchestrator executes runs one step at a time, saving the run after every
// transition. Steps of one run never overlap.
type Orchestrator struct {
	store      RunStore
	activities map[Step]Activity
	now        func() time.Time
}

func NewOrchestrator(store RunStore, activities map[Step]Activity) (*Orchestrator, error) {
	for _, step := range Steps {
		if activities[step] == nil {
			return nil, fmt.Errorf("no activity registered for step %s", step)
		}
	}
	return &Orchestrator{store: store, activities: activities, now: time.Now}, nil
}

// Start schedules the workflow for an event. A completed run for the same
// event is returned untouched. A failed or abandoned run is replaced by a new
// attempt from the first step.
func (o *Orchestrator) Start(ctx context.Context, eventID string, snapshot models.Preference) (*Run, error) {
	existing, found, err := o.store.Get(ctx, eventID)
	if err != nil {
		return nil, apperrors.Dependency("failed to load workflow run", err)
	}
	if found && existing.Status == StatusCompleted {
		slog.InfoContext(ctx, "workflow already completed for event",
			logging.FieldRunID, existing.ID, "attempt", existing.Attempt)
		return existing, nil
	}

	attempt := 1
	if found {
		attempt = existing.Attempt + 1
	}
	now := o.now().UTC()
	run := &Run{
		ID:        eventID,
		EventID:   eventID,
		Attempt:   attempt,
		Snapshot:  *snapshot.Clone(),
		State:     StateStarted,
		Status:    StatusRunning,
		Trace:     []Step{},
		Skipped:   []Step{},
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := o.save(ctx, run); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "workflow started",
		logging.FieldRunID, run.ID, logging.FieldUserID, run.Snapshot.UserID, "attempt", attempt)

	return o.Execute(ctx, run)
}

// Execute advances run until it is terminal. A step failure ends the run as
// Failed and returns an error matching ErrStepFailed.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (*Run, error) {
	for {
		t := Plan(run.State, &run.Snapshot)
		switch t.Action {
		case ActionNone:
			return run, nil

		case ActionComplete:
			o.finish(run, StatusCompleted, t.Next, "")
			if err := o.save(ctx, run); err != nil {
				return run, err
			}
			slog.InfoContext(ctx, "workflow completed",
				logging.FieldRunID, run.ID, "trace", run.Trace, "skipped", run.Skipped)
			return run, nil

		case ActionSkip:
			run.State = t.Next
			run.CurrentStep = ""
			run.Skipped = append(run.Skipped, t.Step)
			run.UpdatedAt = o.now().UTC()
			slog.InfoContext(ctx, "workflow step skipped", logging.FieldRunID, run.ID, logging.FieldStep, t.Step)
			if err := o.save(ctx, run); err != nil {
				return run, err
			}

		case ActionRun:
			run.CurrentStep = t.Step
			run.UpdatedAt = o.now().UTC()
			if err := o.save(ctx, run); err != nil {
				return run, err
			}

			started := o.now()
			err := o.activities[t.Step](ctx, Input{RunID: run.ID, Attempt: run.Attempt, Snapshot: run.Snapshot.Clone()})
			if err != nil {
				o.finish(run, StatusFailed, StateFailed, err.Error())
				slog.ErrorContext(ctx, "workflow step failed",
					logging.FieldRunID, run.ID, logging.FieldStep, t.Step, logging.FieldError, err)
				if saveErr := o.save(ctx, run); saveErr != nil {
					return run, saveErr
				}
				return run, apperrors.Dependency(ErrStepFailed.Message, err)
			}

			run.State = t.Next
			run.CurrentStep = ""
			run.Trace = append(run.Trace, t.Step)
			run.UpdatedAt = o.now().UTC()
			slog.InfoContext(ctx, "workflow step done", logging.FieldRunID, run.ID, logging.FieldStep, t.Step,
				logging.FieldDuration, o.now().Sub(started).Milliseconds())
			if err := o.save(ctx, run); err != nil {
				return run, err
			}

		default:
			return run, fmt.Errorf("unknown workflow action %q", t.Action)
		}
	}
}

func (o *Orchestrator) finish(run *Run, status Status, state State, reason string) {
	now := o.now().UTC()
	run.Status = status
	run.State = state
	run.Error = reason
	run.UpdatedAt = now
	run.FinishedAt = &now
}

func (o *Orchestrator) save(ctx context.Context, run *Run) error {
	if err := o.store.Save(ctx, run); err != nil {
		slog.ErrorContext(ctx, "failed to save workflow run", logging.FieldRunID, run.ID, logging.FieldError, err)
		return apperrors.Dependency("failed to save workflow run", err)
	}
	return nil
}
