package controlplane

import (
	"slices"
	"time"
)

// EventType categorizes control plane events published on the event bus.
type EventType string

const (
	EventTaskUpserted     EventType = "task.upserted"
	EventTaskStateChanged EventType = "task.state_changed"
	EventTaskDone         EventType = "task.done"
	EventTaskPinned       EventType = "task.pinned"
	EventTaskRemoved      EventType = "task.removed"
	EventTaskNotify       EventType = "task.notify"
)

// Notification is a desktop notification requested via POST /v1/notify,
// carried as a ControlPlaneEvent payload rather than a Task field since it
// has no bearing on task state.
type Notification struct {
	Title   string
	Message string
}

// ControlPlaneEvent is the envelope published for every task change, and
// the payload streamed to SSE subscribers (/v1/events).
type ControlPlaneEvent struct {
	Type      EventType
	Timestamp time.Time

	TaskID    TaskID
	ProjectID ProjectID
	State     TaskState

	Transition   *StateTransition
	Notification *Notification
}

// NewControlPlaneEvent creates a new event with the current timestamp.
func NewControlPlaneEvent(eventType EventType, task *Task) ControlPlaneEvent {
	e := ControlPlaneEvent{
		Type:      eventType,
		Timestamp: time.Now(),
	}
	if task != nil {
		e.TaskID = task.ID
		e.ProjectID = task.ProjectID
		e.State = task.State
	}
	return e
}

// WithTransition attaches transition provenance to the event.
func (e ControlPlaneEvent) WithTransition(tr StateTransition) ControlPlaneEvent {
	e.Transition = &tr
	return e
}

// WithNotification attaches a desktop notification payload to the event.
func (e ControlPlaneEvent) WithNotification(n Notification) ControlPlaneEvent {
	e.Notification = &n
	return e
}

// EventFilter restricts a subscription to a subset of events. All set
// criteria are AND'd together; an empty filter matches everything.
type EventFilter struct {
	Types   []EventType
	TaskIDs []TaskID
}

// Matches returns true if the event satisfies every criterion in f.
func (f *EventFilter) Matches(event ControlPlaneEvent) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if len(f.TaskIDs) > 0 && !slices.Contains(f.TaskIDs, event.TaskID) {
		return false
	}
	return true
}

// IsEmpty returns true if the filter has no criteria set.
func (f *EventFilter) IsEmpty() bool {
	return len(f.Types) == 0 && len(f.TaskIDs) == 0
}
