package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

// LogSink writes one structured log line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logEvent(evt)
	}
	return nil
}

func (s *LogSink) logEvent(evt progress.Event) {
	fields := []zap.Field{
		zap.String("task_id", evt.TaskID),
		zap.String("event", string(evt.Type)),
		zap.Int("current", evt.Current),
		zap.Int("total", evt.Total),
		zap.Time("ts", evt.TS),
	}
	switch evt.Type {
	case progress.EventCreated:
		s.logger.Info(fmt.Sprintf("Task created: %s with %d items", evt.TaskID, evt.Total), fields...)
	case progress.EventUpdated:
		pct, _ := evt.Extra["percentage"].(float64)
		s.logger.Debug(fmt.Sprintf("Progress [%s]: %d/%d (%.1f%%)", evt.TaskID, evt.Current, evt.Total, pct), fields...)
	case progress.EventCompleted:
		fields = append(fields, zap.Duration("dur", evt.Dur))
		s.logger.Info(fmt.Sprintf("Task completed: %s (success) in %.2fs", evt.TaskID, evt.Dur.Seconds()), fields...)
	case progress.EventFailed:
		fields = append(fields, zap.Duration("dur", evt.Dur), zap.String("error_message", evt.Message))
		msg := fmt.Sprintf("Task completed: %s (failed) in %.2fs", evt.TaskID, evt.Dur.Seconds())
		if evt.Message != "" {
			msg += " - Exception: " + evt.Message
		}
		s.logger.Error(msg, fields...)
	case progress.EventWarning:
		speed, _ := evt.Extra["processing_speed"].(float64)
		fields = append(fields, zap.Float64("processing_speed", speed))
		s.logger.Warn(fmt.Sprintf("Warning [%s]: %s", evt.TaskID, evt.Message), fields...)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
