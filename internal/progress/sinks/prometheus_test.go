package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{TaskID: "a", TS: now, Type: progress.EventCreated, Total: 10},
		{TaskID: "b", TS: now, Type: progress.EventCreated, Total: 5},
		{TaskID: "a", TS: now, Type: progress.EventUpdated, Current: 5, Total: 10},
		{TaskID: "a", TS: now, Type: progress.EventWarning, Message: "slow"},
		{TaskID: "a", TS: now, Type: progress.EventCompleted, Status: progress.StatusCompleted, Dur: 15 * time.Second},
		{TaskID: "a", TS: now, Type: progress.EventCompleted, Status: progress.StatusCompleted},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.tasksCreated), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasksRunning), 1e-9, "duplicate completion does not go negative")
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.updates), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.slowWarnings), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.taskRuntime, "progress_task_runtime_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "b", TS: now, Type: progress.EventFailed, Status: progress.StatusError, Dur: time.Second},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")), 1e-9)
	require.Zero(t, testutil.ToFloat64(sink.tasksRunning))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
