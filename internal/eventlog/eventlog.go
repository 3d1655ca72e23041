// Package eventlog declares the append-only log of task lifecycle entries.
// Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntry signals that an entry is missing required fields.
var ErrInvalidEntry = errors.New("invalid event log entry")

// DefaultListLimit caps List when callers pass a non-positive limit.
const DefaultListLimit = 100

// Entry is one structured log record.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`
	// TaskID is the task the entry describes.
	TaskID string `json:"task_id"`
	// Type is the lifecycle event type (created, updated, completed, failed, warning).
	Type string `json:"type"`
	// Message is an optional human readable description.
	Message string `json:"message,omitempty"`
	// Fields carries the event payload.
	Fields map[string]any `json:"fields,omitempty"`
	// CreatedAt is when the event happened.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the required fields.
func (e Entry) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	case e.TaskID == "":
		return fmt.Errorf("%w: task id is required", ErrInvalidEntry)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidEntry)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEntry)
	}
	return nil
}

// Repository stores entries append-only and supports age-based retention.
type Repository interface {
	// Append stores entries in order. Either all entries are stored or none.
	Append(ctx context.Context, entries []Entry) error
	// List returns up to limit of the most recent entries for a task, oldest first.
	List(ctx context.Context, taskID string, limit int) ([]Entry, error)
	// PurgeBefore deletes entries created before cutoff and returns how many went.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ValidateAll validates every entry in the batch.
func ValidateAll(entries []Entry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}
