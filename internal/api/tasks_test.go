package api

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
	"github.com/JakeFAU/realtime-progress/internal/progress"
)

func createTask(t *testing.T, env *testEnv, total int) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/v1/tasks", `{"total":`+strconv.Itoa(total)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.NotEmpty(t, body["task_id"])
	return body["task_id"]
}

func TestTasks_CreateAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	id := createTask(t, env, 100)

	rec := env.do(t, http.MethodGet, "/v1/tasks/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[map[string]any](t, rec)
	require.Equal(t, id, snap["task_id"])
	require.EqualValues(t, 100, snap["total"])
	require.EqualValues(t, 0, snap["current"])
	require.Equal(t, "processing", snap["status"])
	require.Nil(t, snap["error_message"])
	require.Nil(t, snap["estimated_remaining"])
}

func TestTasks_CreateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	cases := map[string]string{
		"invalid json":  `{"total":`,
		"missing total": `{}`,
		"negative":      `{"total":-1}`,
		"unknown field": `{"total":1,"name":"x"}`,
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/tasks", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestTasks_GetUnknown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := env.do(t, http.MethodGet, "/v1/tasks/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "task not found")
}

func TestTasks_UpdateProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	id := createTask(t, env, 100)

	rec := env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress", `{"current":40}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap, ok := env.registry.Get(id)
	require.True(t, ok)
	require.Equal(t, 40, snap.Current)

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress",
		`{"line":"Processing:  55%|█████▌    | 55/100 [00:05<00:04, 10.00it/s]"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap, _ = env.registry.Get(id)
	require.Equal(t, 55, snap.Current)

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress", `{"line":"loading model weights"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks/missing/progress", `{"current":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks_IngestOutput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	id := createTask(t, env, 10)

	output := "starting\r" +
		"  30%|███       | 3/10 [00:03<00:07, 1.00it/s]\r" +
		"  70%|███████   | 7/10 [00:07<00:03, 1.00it/s]\n" +
		"done"
	rec := env.do(t, http.MethodPost, "/v1/tasks/"+id+"/output", output)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	require.EqualValues(t, 2, body["parsed"])
	require.EqualValues(t, 2, body["dropped"])

	snap, _ := env.registry.Get(id)
	require.Equal(t, 7, snap.Current)

	rec = env.do(t, http.MethodPost, "/v1/tasks/missing/output", output)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks_Complete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	id := createTask(t, env, 10)

	rec := env.do(t, http.MethodPost, "/v1/tasks/"+id+"/complete", `{"success":false,"error_message":"disk full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := decodeBody[map[string]any](t, rec)
	require.Equal(t, "error", snap["status"])
	require.Equal(t, "disk full", snap["error_message"])

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/complete", `{"success":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got, _ := env.registry.Get(id)
	require.Equal(t, progress.StatusError, got.Status, "first completion wins")

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/complete", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/tasks/missing/complete", `{"success":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks_Events(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	now := time.Now().UTC()
	entries := make([]eventlog.Entry, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, eventlog.Entry{
			ID:        "evt-" + strconv.Itoa(i),
			TaskID:    "task-1",
			Type:      "updated",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, env.events.Append(t.Context(), entries))

	rec := env.do(t, http.MethodGet, "/v1/tasks/task-1/events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		TaskID string           `json:"task_id"`
		Events []eventlog.Entry `json:"events"`
	}](t, rec)
	require.Equal(t, "task-1", body.TaskID)
	require.Len(t, body.Events, 2)
	require.Equal(t, "evt-3", body.Events[0].ID)
	require.Equal(t, "evt-4", body.Events[1].ID)

	rec = env.do(t, http.MethodGet, "/v1/tasks/task-1/events?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tasks/other/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestTasks_EventsWithoutLog(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.server.events = nil
	rec := env.do(t, http.MethodGet, "/v1/tasks/task-1/events", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTasks_UpdateProgressThrottled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Tracker.UpdateRPS = 0.5
	cfg.Tracker.UpdateBurst = 1
	env := newTestEnv(t, cfg)
	id := createTask(t, env, 10)

	rec := env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress", `{"current":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks/"+id+"/progress", `{"current":2}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	snap, _ := env.registry.Get(id)
	require.Equal(t, 1, snap.Current)

	other := createTask(t, env, 10)
	rec = env.do(t, http.MethodPost, "/v1/tasks/"+other+"/progress", `{"current":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code, "limits are per task")
}
