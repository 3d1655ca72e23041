package progress

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StreamEventType names an event delivered to a subscriber.
type StreamEventType string

// Stream event types. Complete and error end the stream.
const (
	StreamProgress StreamEventType = "progress"
	StreamComplete StreamEventType = "complete"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one element of a subscription. Snapshot is nil when the
// subscription refers to an unknown task; Message explains why.
type StreamEvent struct {
	Type     StreamEventType
	Snapshot *Snapshot
	Message  string
}

// Terminal reports whether no further events follow.
func (e StreamEvent) Terminal() bool {
	return e.Type != StreamProgress
}

// SubscribeOptions overrides the registry defaults for one subscription.
type SubscribeOptions struct {
	// IdleTimeout ends the stream without a terminal event when the task does
	// not finish in time. Negative disables the registry default.
	IdleTimeout time.Duration
	// PollInterval bounds how long the stream waits for a change notification.
	PollInterval time.Duration
}

// Subscribe returns a live, level-triggered sequence of events for task id.
// The task is read before Subscribe returns and that snapshot is the first
// event, so the caller observes the state at subscription time even if the
// task finishes straight after. A new event follows each time the task's
// count or status changes. The channel is closed after a terminal event,
// when the idle timeout elapses, or when ctx is cancelled.
func (r *Registry) Subscribe(ctx context.Context, id string, opts SubscribeOptions) <-chan StreamEvent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = r.cfg.PollInterval
	}
	switch {
	case opts.IdleTimeout < 0:
		opts.IdleTimeout = 0
	case opts.IdleTimeout == 0:
		opts.IdleTimeout = r.cfg.IdleTimeout
	}
	out := make(chan StreamEvent, 1)

	snap, changed, ok := r.watch(id)
	if !ok {
		out <- StreamEvent{
			Type:    StreamError,
			Message: fmt.Sprintf("Task %s not found", id),
		}
		close(out)
		return out
	}
	first := streamEventFor(snap)
	out <- first
	if first.Terminal() {
		close(out)
		return out
	}
	go r.stream(ctx, id, opts, snap, changed, out)
	return out
}

// stream follows the task after the initial snapshot has been queued.
func (r *Registry) stream(
	ctx context.Context,
	id string,
	opts SubscribeOptions,
	last Snapshot,
	changed <-chan struct{},
	out chan<- StreamEvent,
) {
	defer close(out)

	var idle <-chan time.Time
	if opts.IdleTimeout > 0 {
		timer := time.NewTimer(opts.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle:
			r.logger.Debug("subscription idle timeout", zap.String("task_id", id))
			return
		case <-changed:
		case <-ticker.C:
		}

		snap, next, ok := r.watch(id)
		if !ok {
			return
		}
		changed = next
		if snap.Current == last.Current && snap.Status == last.Status {
			continue
		}
		evt := streamEventFor(snap)
		if !send(ctx, out, evt) || evt.Terminal() {
			return
		}
		last = snap
	}
}

func streamEventFor(snap Snapshot) StreamEvent {
	evt := StreamEvent{Type: StreamProgress, Snapshot: &snap}
	switch snap.Status {
	case StatusCompleted:
		evt.Type = StreamComplete
	case StatusError:
		evt.Type = StreamError
		if snap.ErrorMessage != nil {
			evt.Message = *snap.ErrorMessage
		}
	}
	return evt
}

func send(ctx context.Context, out chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
