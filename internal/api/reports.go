package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/metrics"
)

func (s *Server) recordTaskMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics collector unavailable")
		return
	}
	id := chi.URLParam(r, "task_id")
	var req recordMetricsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.collector.Record(id, req.Metrics)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) taskMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics collector unavailable")
		return
	}
	view, ok := s.collector.Performance(chi.URLParam(r, "task_id"), s.tracker)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) metricsSummary(w http.ResponseWriter, _ *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics collector unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Summary())
}

func (s *Server) exportMetrics(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics exporter unavailable")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = metrics.FormatJSON
	}
	var buf bytes.Buffer
	err := s.exporter.Export(&buf, format)
	metrics.ObserveExport(format, err)
	if err != nil {
		if errors.Is(err, metrics.ErrUnknownFormat) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("metrics export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	contentType := "application/json"
	if format == metrics.FormatText {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("export write failed", zap.Error(err))
	}
}
