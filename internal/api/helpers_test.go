package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-progress/internal/config"
	"github.com/JakeFAU/realtime-progress/internal/metrics"
	"github.com/JakeFAU/realtime-progress/internal/progress"
	"github.com/JakeFAU/realtime-progress/internal/storage/memory"
)

type testEnv struct {
	server    *Server
	registry  *progress.Registry
	hub       *progress.Hub
	events    *memory.EventLog
	collector *metrics.Collector
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Stream: config.StreamConfig{PollInterval: 20 * time.Millisecond},
	}
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	collector := metrics.NewCollector()
	hub := progress.NewHub(progress.HubConfig{MaxBatchWait: 10 * time.Millisecond}, collector)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	registry := progress.NewRegistry(progress.Config{Emitter: hub, PollInterval: 20 * time.Millisecond})
	events := memory.NewEventLog()
	server := NewServer(cfg, Deps{
		Tracker:   registry,
		Events:    events,
		Collector: collector,
		Exporter:  metrics.NewExporter(collector, registry),
		Logger:    zap.NewNop(),
	})
	return &testEnv{server: server, registry: registry, hub: hub, events: events, collector: collector}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func readyErr(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}
