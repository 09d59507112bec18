package backend

import (
	"context"
	"errors"
	"time"

	"curator/internal/plugin"
)

// ErrUnknownHandle is returned when Cancel receives a handle the backend did not issue.
var ErrUnknownHandle = errors.New("unknown backend handle")

// StepSpec is one step handed to the backend, in execution order.
type StepSpec struct {
	Index      int
	Kind       plugin.Kind
	Parameters map[string][]string
}

// EventType names a backend notification.
type EventType string

const (
	EventStepStarted  EventType = "step_started"
	EventStepFinished EventType = "step_finished"
	EventStepFailed   EventType = "step_failed"
	EventCompleted    EventType = "completed"
	EventCancelled    EventType = "cancelled"
)

// Terminal reports whether no further events follow this one.
func (t EventType) Terminal() bool {
	switch t {
	case EventCompleted, EventCancelled, EventStepFailed:
		return true
	default:
		return false
	}
}

// Event is an asynchronous notification about a dispatched execution.
type Event struct {
	Type      EventType
	StepIndex int
	Kind      plugin.Kind
	Counts    plugin.Counts
	Err       error
	At        time.Time
}

// Handle identifies one dispatched execution.
type Handle interface {
	ID() string
	Events() <-chan Event
}

// Backend runs dispatched executions.
type Backend interface {
	Dispatch(ctx context.Context, executionID string, steps []StepSpec) (Handle, error)
	Cancel(handle Handle) error
}
