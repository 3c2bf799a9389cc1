package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truevault/automation/template"
)

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	engine, cleanup := createTestEngine(t)
	defer cleanup()
	handler := engine.Handler()

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzAfterShutdown(t *testing.T) {
	engine, cleanup := createTestEngine(t)
	handler := engine.Handler()
	cleanup()

	rec := doRequest(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	engine, cleanup := createTestEngine(t)
	defer cleanup()

	_, err := engine.Schedule(context.Background(), "work", nil, time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := doRequest(t, engine.Handler(), http.MethodGet, "/api/stats?days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(30), body["window_days"])
	tasks := body["tasks"].(map[string]any)
	assert.Equal(t, float64(1), tasks["pending"])
}

func TestListEndpoints(t *testing.T) {
	transport := &recordingTransport{}
	engine, cleanup := createTestEngine(t,
		WithTransport(transport),
		WithTemplates(template.Template{Name: "note", Subject: "s", Body: "b"}),
	)
	defer cleanup()
	ctx := context.Background()
	handler := engine.Handler()

	engine.RegisterStep(NewAuditLogStep("audit", nil))
	require.NoError(t, engine.RegisterWorkflow(WorkflowDefinition{
		Name:         "auditing",
		TriggerEvent: "thing.changed",
		Steps:        []string{"audit"},
		Active:       true,
	}))

	_, err := engine.Trigger(ctx, "thing.changed", nil)
	require.NoError(t, err)
	_, err = engine.Schedule(ctx, "cleanup", nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = engine.queue.Enqueue(ctx, "a@example.com", "note", nil)
	require.NoError(t, err)

	rec := doRequest(t, handler, http.MethodGet, "/api/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["executions"], 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/tasks?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["tasks"], 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/tasks?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["tasks"])

	rec = doRequest(t, handler, http.MethodGet, "/api/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["messages"], 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	workflows := decodeBody(t, rec)["workflows"].([]any)
	require.Len(t, workflows, 1)
	assert.Equal(t, "auditing", workflows[0].(map[string]any)["name"])
}

func TestProcessEndpoint(t *testing.T) {
	transport := &recordingTransport{}
	engine, cleanup := createTestEngine(t, WithTransport(transport))
	defer cleanup()
	ctx := context.Background()

	ran := false
	engine.RegisterTaskHandler("touch", func(ctx context.Context, payload map[string]string) error {
		ran = true
		return nil
	})
	_, err := engine.Schedule(ctx, "touch", nil, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	rec := doRequest(t, engine.Handler(), http.MethodPost, "/api/process", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ran)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["tasks_completed"])
}

func TestProcessEndpointLimits(t *testing.T) {
	transport := &recordingTransport{}
	engine, cleanup := createTestEngine(t, WithTransport(transport))
	defer cleanup()
	ctx := context.Background()
	handler := engine.Handler()

	engine.RegisterTaskHandler("bulk", func(ctx context.Context, payload map[string]string) error {
		return nil
	})
	for i := 0; i < 3; i++ {
		_, err := engine.Schedule(ctx, "bulk", nil, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		_, err = engine.SendTestMessage(ctx, "bulk@example.com", "s", "b")
		require.NoError(t, err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/process",
		`{"task_limit":2,"email_limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["tasks_claimed"])
	messages := body["messages"].(map[string]any)
	assert.Equal(t, float64(1), messages["sent"])

	rec = doRequest(t, handler, http.MethodPost, "/api/process", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTaskEndpoint(t *testing.T) {
	engine, cleanup := createTestEngine(t)
	defer cleanup()
	handler := engine.Handler()

	taskID, err := engine.Schedule(context.Background(), "work", nil, time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := doRequest(t, handler, http.MethodPost, "/api/tasks/cancel",
		`{"task_id":"`+taskID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["cancelled"])

	// Already cancelled.
	rec = doRequest(t, handler, http.MethodPost, "/api/tasks/cancel",
		`{"task_id":"`+taskID+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/tasks/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestMessageEndpoint(t *testing.T) {
	transport := &recordingTransport{}
	engine, cleanup := createTestEngine(t, WithTransport(transport))
	defer cleanup()
	handler := engine.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/messages/test",
		`{"recipient":"ops@example.com","subject":"Hello","body":"Check"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["message_id"])

	rec = doRequest(t, handler, http.MethodPost, "/api/messages/test", `{"subject":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/messages/test",
		`{"recipient":"not an address"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
