// Package workflow runs the preference update workflow: a linear sequence of
// four steps over one preference snapshot, two of them gated by the
// snapshot's flags. The run is an explicit record advanced by Plan and
// persisted after every transition.
package workflow

import (
	"time"

	"github.com/userpreference/platform/shared/models"
)

type Step string

const (
	StepLogChange        Step = "LogChange"
	StepNotifyExternal   Step = "NotifyExternal"
	StepUpdateAnalytics  Step = "UpdateAnalytics"
	StepSendNotification Step = "SendNotification"
)

// Steps lists every step in execution order.
var Steps = []Step{StepLogChange, StepNotifyExternal, StepUpdateAnalytics, StepSendNotification}

type State string

const (
	StateStarted             State = "Started"
	StateLoggedChange        State = "LoggedChange"
	StateNotifiedExternal    State = "NotifiedExternal"
	StateAnalyticsDone       State = "AnalyticsDone"
	StateAnalyticsSkipped    State = "AnalyticsSkipped"
	StateNotificationDone    State = "NotificationDone"
	StateNotificationSkipped State = "NotificationSkipped"
	StateCompleted           State = "Completed"
	StateFailed              State = "Failed"
)

type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Run is the persisted record of one workflow attempt. ID is the ID of the
// triggering event, so a redelivered event finds its earlier run.
type Run struct {
	ID          string            `json:"id"`
	EventID     string            `json:"eventId"`
	Attempt     int               `json:"attempt"`
	Snapshot    models.Preference `json:"snapshot"`
	State       State             `json:"state"`
	CurrentStep Step              `json:"currentStep,omitempty"`
	Status      Status            `json:"status"`
	Trace       []Step            `json:"trace"`
	Skipped     []Step            `json:"skipped"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
}

type Action string

const (
	ActionRun      Action = "run"
	ActionSkip     Action = "skip"
	ActionComplete Action = "complete"
	ActionNone     Action = "none"
)

// Transition is one move of the state machine: perform Action on Step, then
// move to Next.
type Transition struct {
	Action Action
	Step   Step
	Next   State
}

// Plan returns the transition out of state for snapshot. It has no side
// effects. Terminal and unknown states yield ActionNone.
func Plan(state State, snapshot *models.Preference) Transition {
	switch state {
	case StateStarted:
		return Transition{Action: ActionRun, Step: StepLogChange, Next: StateLoggedChange}
	case StateLoggedChange:
		return Transition{Action: ActionRun, Step: StepNotifyExternal, Next: StateNotifiedExternal}
	case StateNotifiedExternal:
		if snapshot.AnalyticsEnabled {
			return Transition{Action: ActionRun, Step: StepUpdateAnalytics, Next: StateAnalyticsDone}
		}
		return Transition{Action: ActionSkip, Step: StepUpdateAnalytics, Next: StateAnalyticsSkipped}
	case StateAnalyticsDone, StateAnalyticsSkipped:
		if snapshot.NotificationsEnabled {
			return Transition{Action: ActionRun, Step: StepSendNotification, Next: StateNotificationDone}
		}
		return Transition{Action: ActionSkip, Step: StepSendNotification, Next: StateNotificationSkipped}
	case StateNotificationDone, StateNotificationSkipped:
		return Transition{Action: ActionComplete, Next: StateCompleted}
	default:
		return Transition{Action: ActionNone, Next: state}
	}
}
