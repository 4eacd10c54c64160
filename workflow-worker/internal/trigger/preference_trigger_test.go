package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/models"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

type mockStarter struct {
	startFn func(eventID string, snapshot models.Preference) (*workflow.Run, error)
	calls   []string
}

func (m *mockStarter) Start(_ context.Context, eventID string, snapshot models.Preference) (*workflow.Run, error) {
	m.calls = append(m.calls, eventID)
	if m.startFn != nil {
		return m.startFn(eventID, snapshot)
	}
	return &workflow.Run{ID: eventID, Status: workflow.StatusCompleted}, nil
}

func updatedEvent(t *testing.T, data any) events.Event {
	t.Helper()
	event, err := events.NewEvent(events.PreferenceUpdated, "preference-service", data)
	require.NoError(t, err)
	return event
}

func TestHandle(t *testing.T) {
	snapshot := models.Preference{ID: "pref-1", UserID: "u1", AnalyticsEnabled: true}

	tests := []struct {
		name          string
		event         func(t *testing.T) events.Event
		startFn       func(string, models.Preference) (*workflow.Run, error)
		expectStarted bool
		expectErr     bool
	}{
		{
			name:          "updated event starts a run",
			event:         func(t *testing.T) events.Event { return updatedEvent(t, snapshot) },
			expectStarted: true,
		},
		{
			name: "other event types are ignored",
			event: func(t *testing.T) events.Event {
				event, err := events.NewEvent(events.PreferenceCreated, "preference-service", snapshot)
				require.NoError(t, err)
				return event
			},
		},
		{
			name:  "malformed payload is dropped",
			event: func(t *testing.T) events.Event { return updatedEvent(t, "not a record") },
		},
		{
			name: "failed run is acknowledged",
			event: func(t *testing.T) events.Event { return updatedEvent(t, snapshot) },
			startFn: func(id string, _ models.Preference) (*workflow.Run, error) {
				return &workflow.Run{ID: id, Status: workflow.StatusFailed},
					apperrors.Dependency(workflow.ErrStepFailed.Message, errors.New("bus down"))
			},
			expectStarted: true,
		},
		{
			name:  "unscheduled run is retried",
			event: func(t *testing.T) events.Event { return updatedEvent(t, snapshot) },
			startFn: func(string, models.Preference) (*workflow.Run, error) {
				return nil, apperrors.Dependency("failed to save workflow run", errors.New("redis down"))
			},
			expectStarted: true,
			expectErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &mockStarter{startFn: tt.startFn}
			event := tt.event(t)

			err := NewPreferenceTrigger(starter).Handle(context.Background(), event)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.expectStarted {
				assert.Equal(t, []string{event.ID}, starter.calls)
			} else {
				assert.Empty(t, starter.calls)
			}
		})
	}
}

// flakyRunStore fails the save with the given sequence number once.
type flakyRunStore struct {
	mu     sync.Mutex
	runs   map[string]workflow.Run
	saves  int
	failAt int
}

func (s *flakyRunStore) Get(_ context.Context, id string) (*workflow.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return &run, true, nil
}

func (s *flakyRunStore) Save(_ context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saves == s.failAt {
		return errors.New("redis timeout")
	}
	copied := *run
	copied.Trace = append([]workflow.Step(nil), run.Trace...)
	copied.Skipped = append([]workflow.Step(nil), run.Skipped...)
	s.runs[run.ID] = copied
	return nil
}

func TestHandleRedeliveryStartsNewAttempt(t *testing.T) {
	// Saves: 1 Started, 2 LogChange running, 3 LogChange done.
	store := &flakyRunStore{runs: map[string]workflow.Run{}, failAt: 3}
	var steps []workflow.Step
	acts := map[workflow.Step]workflow.Activity{}
	for _, step := range workflow.Steps {
		step := step
		acts[step] = func(context.Context, workflow.Input) error {
			steps = append(steps, step)
			return nil
		}
	}
	o, err := workflow.NewOrchestrator(store, acts)
	require.NoError(t, err)
	trig := NewPreferenceTrigger(o)

	snapshot := models.Preference{ID: "pref-1", UserID: "u1"}
	event := updatedEvent(t, snapshot)

	err = trig.Handle(context.Background(), event)
	require.Error(t, err, "an unsaved run must stay pending for redelivery")
	assert.False(t, errors.Is(err, workflow.ErrStepFailed))

	abandoned, found, _ := store.Get(context.Background(), event.ID)
	require.True(t, found)
	assert.Equal(t, workflow.StatusRunning, abandoned.Status)
	assert.Equal(t, 1, abandoned.Attempt)

	require.NoError(t, trig.Handle(context.Background(), event))

	run, found, _ := store.Get(context.Background(), event.ID)
	require.True(t, found)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, workflow.StatusCompleted, run.Status)
	assert.Equal(t, []workflow.Step{workflow.StepLogChange, workflow.StepNotifyExternal}, run.Trace)
	assert.Equal(t, []workflow.Step{workflow.StepLogChange, workflow.StepLogChange, workflow.StepNotifyExternal}, steps)
}
