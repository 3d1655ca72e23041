package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
)

// EventLog keeps entries in process memory. It is the default backend when no
// external store is configured.
type EventLog struct {
	mu      sync.RWMutex
	entries []eventlog.Entry
}

// NewEventLog creates an empty in-memory event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append stores the entries after validating the whole batch.
func (l *EventLog) Append(_ context.Context, entries []eventlog.Entry) error {
	if err := eventlog.ValidateAll(entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		e.Fields = maps.Clone(e.Fields)
		l.entries = append(l.entries, e)
	}
	return nil
}

// List returns the newest limit entries for taskID in insertion order.
func (l *EventLog) List(_ context.Context, taskID string, limit int) ([]eventlog.Entry, error) {
	if limit <= 0 {
		limit = eventlog.DefaultListLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []eventlog.Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].TaskID == taskID {
			e := l.entries[i]
			e.Fields = maps.Clone(e.Fields)
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PurgeBefore drops entries older than cutoff.
func (l *EventLog) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	var removed int64
	for _, e := range l.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	return removed, nil
}

// Len returns the number of stored entries.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
