package automation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/truevault/automation/internal/storage"
)

// Handler returns the admin HTTP handler: health probes plus a small
// JSON API for the dashboard and operational tooling.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", e.handleHealthz)
	mux.HandleFunc("GET /readyz", e.handleReadyz)

	mux.HandleFunc("GET /api/stats", e.handleStats)
	mux.HandleFunc("GET /api/executions", e.handleExecutions)
	mux.HandleFunc("GET /api/tasks", e.handleTasks)
	mux.HandleFunc("GET /api/messages", e.handleMessages)
	mux.HandleFunc("GET /api/workflows", e.handleWorkflows)

	mux.HandleFunc("POST /api/process", e.handleProcess)
	mux.HandleFunc("POST /api/tasks/cancel", e.handleCancelTask)
	mux.HandleFunc("POST /api/messages/test", e.handleTestMessage)

	return mux
}

func (e *Engine) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (e *Engine) handleReadyz(w http.ResponseWriter, r *http.Request) {
	store := e.store()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage not initialized"})
		return
	}
	if err := store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (e *Engine) handleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	stats, err := e.Stats(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (e *Engine) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	execs, err := e.RecentExecutions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (e *Engine) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	status := storage.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := e.TasksByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (e *Engine) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	msgs, err := e.RecentMessages(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (e *Engine) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": e.Workflows()})
}

// handleProcess runs an immediate drain. Batch limits default to the
// configured sizes and can be overridden per request.
func (e *Engine) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskLimit  int `json:"task_limit"`
		EmailLimit int `json:"email_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.TaskLimit <= 0 {
		req.TaskLimit = e.config.taskBatchSize
	}
	if req.EmailLimit <= 0 {
		req.EmailLimit = e.config.emailBatchSize
	}

	result, err := e.ProcessDue(r.Context(), req.TaskLimit, req.EmailLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *Engine) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_id is required"})
		return
	}

	cancelled, err := e.CancelTask(r.Context(), req.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, map[string]any{
			"cancelled": false,
			"error":     "task already claimed or finished",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (e *Engine) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recipient is required"})
		return
	}
	if req.Subject == "" {
		req.Subject = "Test message"
	}

	messageID, err := e.SendTestMessage(r.Context(), req.Recipient, req.Subject, req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
