package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpreference/platform/shared/models"
)

// ---- fakes ----

type memoryRunStore struct {
	mu    sync.Mutex
	runs  map[string]Run
	saves []State
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{runs: map[string]Run{}}
}

func (s *memoryRunStore) Get(_ context.Context, id string) (*Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return &run, true, nil
}

func (s *memoryRunStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	copied.Trace = append([]Step(nil), run.Trace...)
	copied.Skipped = append([]Step(nil), run.Skipped...)
	s.runs[run.ID] = copied
	s.saves = append(s.saves, run.State)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	calls  []Step
	failOn Step
}

func (r *recorder) activities() map[Step]Activity {
	acts := make(map[Step]Activity, len(Steps))
	for _, step := range Steps {
		step := step
		acts[step] = func(_ context.Context, in Input) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, step)
			if step == r.failOn {
				return errors.New("downstream unavailable")
			}
			return nil
		}
	}
	return acts
}

func (r *recorder) invoked() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.calls...)
}

func snapshot(userID string, analytics, notifications bool) models.Preference {
	p := models.NewPreference("pref-"+userID, userID, models.BuiltinDefaults(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	p.AnalyticsEnabled = analytics
	p.NotificationsEnabled = notifications
	return *p
}

func newTestOrchestrator(t *testing.T, store RunStore, rec *recorder) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(store, rec.activities())
	require.NoError(t, err)
	return o
}

// ---- tests ----

func TestPlan(t *testing.T) {
	on := snapshot("u", true, true)
	off := snapshot("u", false, false)

	tests := []struct {
		state    State
		snapshot models.Preference
		expected Transition
	}{
		{StateStarted, on, Transition{ActionRun, StepLogChange, StateLoggedChange}},
		{StateLoggedChange, on, Transition{ActionRun, StepNotifyExternal, StateNotifiedExternal}},
		{StateNotifiedExternal, on, Transition{ActionRun, StepUpdateAnalytics, StateAnalyticsDone}},
		{StateNotifiedExternal, off, Transition{ActionSkip, StepUpdateAnalytics, StateAnalyticsSkipped}},
		{StateAnalyticsDone, on, Transition{ActionRun, StepSendNotification, StateNotificationDone}},
		{StateAnalyticsSkipped, off, Transition{ActionSkip, StepSendNotification, StateNotificationSkipped}},
		{StateNotificationDone, on, Transition{ActionComplete, "", StateCompleted}},
		{StateNotificationSkipped, off, Transition{ActionComplete, "", StateCompleted}},
		{StateCompleted, on, Transition{ActionNone, "", StateCompleted}},
		{StateFailed, on, Transition{ActionNone, "", StateFailed}},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			snap := tt.snapshot
			assert.Equal(t, tt.expected, Plan(tt.state, &snap))
		})
	}
}

func TestWorkflowTraces(t *testing.T) {
	tests := []struct {
		name          string
		analytics     bool
		notifications bool
		expected      []Step
		skipped       []Step
	}{
		{
			name:     "both flags off runs the first two steps",
			expected: []Step{StepLogChange, StepNotifyExternal},
			skipped:  []Step{StepUpdateAnalytics, StepSendNotification},
		},
		{
			name:          "both flags on runs all four steps in order",
			analytics:     true,
			notifications: true,
			expected:      []Step{StepLogChange, StepNotifyExternal, StepUpdateAnalytics, StepSendNotification},
			skipped:       []Step{},
		},
		{
			name:      "analytics only",
			analytics: true,
			expected:  []Step{StepLogChange, StepNotifyExternal, StepUpdateAnalytics},
			skipped:   []Step{StepSendNotification},
		},
		{
			name:          "notifications only",
			notifications: true,
			expected:      []Step{StepLogChange, StepNotifyExternal, StepSendNotification},
			skipped:       []Step{StepUpdateAnalytics},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, rec := newMemoryRunStore(), &recorder{}
			o := newTestOrchestrator(t, store, rec)

			run, err := o.Start(context.Background(), "evt-1", snapshot("u1", tt.analytics, tt.notifications))
			require.NoError(t, err)

			assert.Equal(t, tt.expected, rec.invoked())
			assert.Equal(t, tt.expected, run.Trace)
			assert.Equal(t, tt.skipped, run.Skipped)
			assert.Equal(t, StatusCompleted, run.Status)
			assert.Equal(t, StateCompleted, run.State)
			assert.NotNil(t, run.FinishedAt)

			stored, found, err := store.Get(context.Background(), "evt-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, StatusCompleted, stored.Status)
		})
	}
}

func TestStepFailureHaltsRun(t *testing.T) {
	store, rec := newMemoryRunStore(), &recorder{failOn: StepNotifyExternal}
	o := newTestOrchestrator(t, store, rec)

	run, err := o.Start(context.Background(), "evt-1", snapshot("u1", true, true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepFailed))

	assert.Equal(t, []Step{StepLogChange, StepNotifyExternal}, rec.invoked(), "steps 3 and 4 must not run")
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StepNotifyExternal, run.CurrentStep)
	assert.Equal(t, []Step{StepLogChange}, run.Trace)
	assert.Contains(t, run.Error, "downstream unavailable")

	stored, _, err := store.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestRunIsPersistedAfterEveryTransition(t *testing.T) {
	store, rec := newMemoryRunStore(), &recorder{}
	o := newTestOrchestrator(t, store, rec)

	_, err := o.Start(context.Background(), "evt-1", snapshot("u1", true, false))
	require.NoError(t, err)

	assert.Contains(t, store.saves, StateLoggedChange)
	assert.Contains(t, store.saves, StateNotifiedExternal)
	assert.Contains(t, store.saves, StateAnalyticsDone)
	assert.Contains(t, store.saves, StateNotificationSkipped)
	assert.Equal(t, StateCompleted, store.saves[len(store.saves)-1])
}

func TestRedeliveredEvent(t *testing.T) {
	t.Run("completed run is not executed again", func(t *testing.T) {
		store, rec := newMemoryRunStore(), &recorder{}
		o := newTestOrchestrator(t, store, rec)
		ctx := context.Background()

		_, err := o.Start(ctx, "evt-1", snapshot("u1", false, false))
		require.NoError(t, err)
		run, err := o.Start(ctx, "evt-1", snapshot("u1", false, false))
		require.NoError(t, err)

		assert.Equal(t, 1, run.Attempt)
		assert.Len(t, rec.invoked(), 2)
	})

	t.Run("failed run starts a new attempt from the first step", func(t *testing.T) {
		store, rec := newMemoryRunStore(), &recorder{failOn: StepLogChange}
		o := newTestOrchestrator(t, store, rec)
		ctx := context.Background()

		_, err := o.Start(ctx, "evt-1", snapshot("u1", false, false))
		require.Error(t, err)

		rec.failOn = ""
		run, err := o.Start(ctx, "evt-1", snapshot("u1", false, false))
		require.NoError(t, err)

		assert.Equal(t, 2, run.Attempt)
		assert.Equal(t, StatusCompleted, run.Status)
		assert.Equal(t, []Step{StepLogChange, StepLogChange, StepNotifyExternal}, rec.invoked())
	})

	t.Run("abandoned running run starts over", func(t *testing.T) {
		store, rec := newMemoryRunStore(), &recorder{}
		require.NoError(t, store.Save(context.Background(), &Run{
			ID: "evt-1", EventID: "evt-1", Attempt: 1,
			State: StateLoggedChange, Status: StatusRunning,
		}))
		o := newTestOrchestrator(t, store, rec)

		run, err := o.Start(context.Background(), "evt-1", snapshot("u1", false, false))
		require.NoError(t, err)
		assert.Equal(t, 2, run.Attempt)
		assert.Equal(t, []Step{StepLogChange, StepNotifyExternal}, rec.invoked())
	})
}

func TestActivitiesReceiveTheSameSnapshot(t *testing.T) {
	var seen []models.Preference
	acts := map[Step]Activity{}
	for _, step := range Steps {
		acts[step] = func(_ context.Context, in Input) error {
			seen = append(seen, *in.Snapshot)
			in.Snapshot.Theme = "mutated"
			return nil
		}
	}
	o, err := NewOrchestrator(newMemoryRunStore(), acts)
	require.NoError(t, err)

	snap := snapshot("u1", true, true)
	_, err = o.Start(context.Background(), "evt-1", snap)
	require.NoError(t, err)

	require.Len(t, seen, 4)
	for _, s := range seen {
		assert.Equal(t, snap.Theme, s.Theme)
	}
}

func TestNewOrchestratorRequiresEveryActivity(t *testing.T) {
	_, err := NewOrchestrator(newMemoryRunStore(), map[Step]Activity{
		StepLogChange: func(context.Context, Input) error { return nil },
	})
	assert.Error(t, err)
}

func TestRedisRunStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisRunStore(client, "workflow:run:", time.Hour)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, found)

	rec := &recorder{}
	o := newTestOrchestrator(t, store, rec)
	_, err = o.Start(ctx, "evt-1", snapshot("u1", true, false))
	require.NoError(t, err)

	run, found, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, []Step{StepLogChange, StepNotifyExternal, StepUpdateAnalytics}, run.Trace)
	assert.Equal(t, "u1", run.Snapshot.UserID)
	assert.True(t, mr.Exists("workflow:run:evt-1"))
	assert.Equal(t, time.Hour, mr.TTL("workflow:run:evt-1"))
}
