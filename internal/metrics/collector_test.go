package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

func TestCollectorSummary(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	require.Equal(t, Summary{}, c.Summary())

	now := time.Now()
	require.NoError(t, c.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: now, Type: progress.EventCreated},
		{TaskID: "b", TS: now, Type: progress.EventCreated},
		{TaskID: "c", TS: now, Type: progress.EventCreated},
		{TaskID: "d", TS: now, Type: progress.EventCreated},
		{TaskID: "a", TS: now, Type: progress.EventWarning},
		{TaskID: "a", TS: now, Type: progress.EventCompleted, Dur: 2 * time.Second},
		{TaskID: "b", TS: now, Type: progress.EventCompleted, Dur: 3 * time.Second},
		{TaskID: "c", TS: now, Type: progress.EventFailed, Dur: 4 * time.Second},
	}))

	s := c.Summary()
	require.Equal(t, 4, s.TotalTasks)
	require.Equal(t, 2, s.Completed)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, 1, s.Running)
	require.Equal(t, 1, s.Warnings)
	require.InDelta(t, 66.7, s.SuccessRate, 1e-9)
	require.InDelta(t, 3.0, s.AverageDurationSeconds, 1e-9)
}

func TestCollectorRecordMergesAndStamps(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	c.Record("t1", map[string]any{"accuracy": 0.9})
	c.Record("t1", map[string]any{"tokens": 120})

	got, ok := c.Custom("t1")
	require.True(t, ok)
	require.Equal(t, 0.9, got["accuracy"])
	require.Equal(t, 120, got["tokens"])
	require.Equal(t, "2024-01-02T03:04:05Z", got["timestamp"])

	got["accuracy"] = 0.1
	again, _ := c.Custom("t1")
	require.Equal(t, 0.9, again["accuracy"], "Custom returns a copy")

	_, ok = c.Custom("missing")
	require.False(t, ok)
}

func TestCollectorPerformance(t *testing.T) {
	t.Parallel()

	reg := progress.NewRegistry(progress.Config{})
	id := reg.Create(4)
	reg.Update(id, 2)
	reg.Complete(id, false, "bad input")

	c := NewCollector()
	c.Record(id, map[string]any{"retries": 1})

	view, ok := c.Performance(id, reg)
	require.True(t, ok)
	require.Equal(t, id, view["task_id"])
	require.Equal(t, 2, view["current"])
	require.Equal(t, "error", view["status"])
	require.Equal(t, "bad input", view["error_message"])
	require.Contains(t, view, "estimated_remaining")
	require.Equal(t, 1, view["custom_metrics"].(map[string]any)["retries"])

	_, ok = c.Performance("missing", reg)
	require.False(t, ok)
}
