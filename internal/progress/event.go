package progress

import (
	"errors"
	"fmt"
	"time"
)

// EventType names a task lifecycle transition.
type EventType string

// Supported lifecycle event types.
const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventWarning   EventType = "warning"
)

// Event captures a single lifecycle transition of a task.
type Event struct {
	// TaskID identifies the task the event belongs to.
	TaskID string
	// TS is the UTC timestamp recorded by the registry.
	TS time.Time
	// Type denotes which transition occurred.
	Type EventType
	// Current and Total mirror the task counters at the time of the event.
	Current int
	Total   int
	// Status is the task status after the transition.
	Status Status
	// Message carries human readable context such as an error or warning text.
	Message string
	// Dur is the task runtime for terminal events.
	Dur time.Duration
	// Extra holds ad hoc fields attached by the emitter.
	Extra map[string]any
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case EventCreated, EventUpdated, EventWarning:
	case EventCompleted, EventFailed:
		if !e.Status.Terminal() {
			return fmt.Errorf("%s event requires terminal status, got %q", e.Type, e.Status)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes the task lifecycle.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
