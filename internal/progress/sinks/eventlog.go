package sinks

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
	"github.com/JakeFAU/realtime-progress/internal/progress"
)

// EventLogSink appends every lifecycle event to an eventlog.Repository.
type EventLogSink struct {
	repo  eventlog.Repository
	newID func() string
}

// NewEventLogSink constructs a sink for repo.
func NewEventLogSink(repo eventlog.Repository) *EventLogSink {
	return &EventLogSink{repo: repo, newID: uuid.NewString}
}

// Consume writes the batch as a single Append.
func (s *EventLogSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	entries := make([]eventlog.Entry, 0, len(batch))
	for _, evt := range batch {
		entries = append(entries, s.entryFor(evt))
	}
	if err := s.repo.Append(ctx, entries); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

func (s *EventLogSink) entryFor(evt progress.Event) eventlog.Entry {
	fields := map[string]any{
		"current": evt.Current,
		"total":   evt.Total,
		"status":  string(evt.Status),
	}
	if evt.Dur > 0 {
		fields["duration_seconds"] = evt.Dur.Seconds()
	}
	maps.Copy(fields, evt.Extra)
	return eventlog.Entry{
		ID:        s.newID(),
		TaskID:    evt.TaskID,
		Type:      string(evt.Type),
		Message:   evt.Message,
		Fields:    fields,
		CreatedAt: evt.TS,
	}
}

// Close implements the Sink interface; the repository is owned by the caller.
func (s *EventLogSink) Close(context.Context) error {
	return nil
}
