package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/progress"
	"github.com/JakeFAU/realtime-progress/internal/publisher"
)

// Notification topics.
const (
	TopicCompleted = "task.completed"
	TopicFailed    = "task.failed"
)

// Notification is the payload published when a task reaches a terminal status.
type Notification struct {
	EventID         string    `json:"event_id"`
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Current         int       `json:"current"`
	Total           int       `json:"total"`
	DurationSeconds float64   `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Attributes exposes routing metadata to brokers that support it.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"event_id": n.EventID,
		"task_id":  n.TaskID,
		"status":   n.Status,
	}
}

// NotifySink publishes terminal outcomes. Non-terminal events are ignored.
type NotifySink struct {
	pub    publisher.Publisher
	logger *zap.Logger
}

// NewNotifySink constructs a sink publishing through pub.
func NewNotifySink(pub publisher.Publisher, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, logger: logger}
}

// Consume publishes one notification per terminal event. A failed publish
// does not stop the rest of the batch.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		topic := TopicCompleted
		if evt.Type == progress.EventFailed {
			topic = TopicFailed
		}
		n := Notification{
			EventID:         uuid.NewString(),
			TaskID:          evt.TaskID,
			Status:          string(evt.Status),
			ErrorMessage:    evt.Message,
			Current:         evt.Current,
			Total:           evt.Total,
			DurationSeconds: evt.Dur.Seconds(),
			CompletedAt:     evt.TS,
		}
		id, err := s.pub.Publish(ctx, topic, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %s: %w", topic, evt.TaskID, err))
			continue
		}
		s.logger.Debug("task notification published",
			zap.String("task_id", evt.TaskID),
			zap.String("topic", topic),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
