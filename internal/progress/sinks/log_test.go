package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

func TestLogSinkMessages(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "t1", TS: now, Type: progress.EventCreated, Total: 3},
		{TaskID: "t1", TS: now, Type: progress.EventUpdated, Current: 1, Total: 3, Extra: map[string]any{"percentage": 33.333}},
		{TaskID: "t1", TS: now, Type: progress.EventWarning, Message: "slow processing detected", Extra: map[string]any{"processing_speed": 0.5}},
		{TaskID: "t1", TS: now, Type: progress.EventFailed, Status: progress.StatusError, Message: "disk full", Dur: 1500 * time.Millisecond},
		{TaskID: "t2", TS: now, Type: progress.EventCompleted, Status: progress.StatusCompleted, Dur: 2 * time.Second},
	}))

	entries := logs.All()
	require.Len(t, entries, 5)
	require.Equal(t, "Task created: t1 with 3 items", entries[0].Message)
	require.Equal(t, "Progress [t1]: 1/3 (33.3%)", entries[1].Message)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "Task completed: t1 (failed) in 1.50s - Exception: disk full", entries[3].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(t, "Task completed: t2 (success) in 2.00s", entries[4].Message)
	require.Equal(t, "t2", entries[4].ContextMap()["task_id"])
}
