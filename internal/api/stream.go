package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/metrics"
	"github.com/JakeFAU/realtime-progress/internal/progress"
)

// streamTask serves GET /v1/tasks/{task_id}/stream as server-sent events.
// An optional ?timeout= in seconds overrides the configured idle timeout.
func (s *Server) streamTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	opts := progress.SubscribeOptions{PollInterval: s.cfg.Stream.PollInterval}
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		opts.IdleTimeout = time.Duration(secs * float64(time.Second))
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if hint := s.cfg.Stream.RetryHint; hint > 0 {
		fmt.Fprintf(w, "retry: %d\n\n", hint.Milliseconds())
	}
	flusher.Flush()

	metrics.StreamOpened()
	defer metrics.StreamClosed()

	var heartbeat <-chan time.Time
	if s.cfg.Stream.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Stream.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	events := s.tracker.Subscribe(r.Context(), id, opts)
	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeStreamEvent(w, evt); err != nil {
				s.logger.Debug("stream write failed", zap.String("task_id", id), zap.Error(err))
				return
			}
			flusher.Flush()
			metrics.ObserveStreamEvent(string(evt.Type))
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type notFoundPayload struct {
	ErrorMessage string `json:"error_message"`
}

func writeStreamEvent(w http.ResponseWriter, evt progress.StreamEvent) error {
	var payload any = notFoundPayload{ErrorMessage: evt.Message}
	if evt.Snapshot != nil {
		payload = evt.Snapshot
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	return nil
}
