package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
	"github.com/JakeFAU/realtime-progress/internal/metrics"
	"github.com/JakeFAU/realtime-progress/internal/progress/textparse"
)

const (
	maxEventsLimit = 1000
	eventsTimeout  = 3 * time.Second
)

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := s.tracker.Create(*req.Total)
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.tracker.Get(chi.URLParam(r, "task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// updateProgress accepts either an explicit count or a raw progress bar
// line. Lines without a recognizable bar are rejected with 422.
func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if allowed, retry := s.limiter.Allow(id); !allowed {
		metrics.ObserveThrottled()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "too many progress updates")
		return
	}
	current := 0
	if req.Current != nil {
		current = *req.Current
	} else {
		res, ok := textparse.Parse(req.Line)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "no progress information in line")
			return
		}
		current = res.Current
	}
	s.tracker.Update(id, current)
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "current": current})
}

// ingestOutput streams a plain-text body through a line parser so a worker
// can pipe its console output straight into the task.
func (s *Server) ingestOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	capture := textparse.NewCapture(id, s.tracker, s.logger.Named("capture"))
	if _, err := io.Copy(capture, r.Body); err != nil {
		s.logger.Debug("output body read interrupted", zap.String("task_id", id), zap.Error(err))
	}
	capture.Flush()
	parsed, dropped := capture.Stats()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": id,
		"parsed":  parsed,
		"dropped": dropped,
	})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.tracker.Complete(id, *req.Success, req.ErrorMessage)
	s.limiter.Forget(id)
	snap, _ := s.tracker.Get(id)
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	id := chi.URLParam(r, "task_id")
	limit := eventlog.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(val, maxEventsLimit)
	}
	ctx, cancel := context.WithTimeout(r.Context(), eventsTimeout)
	defer cancel()

	entries, err := s.events.List(ctx, id, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("list task events failed", zap.String("task_id", id), zap.Error(err))
		writeError(w, status, "failed to list task events")
		return
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "events": entries})
}
