package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/metrics"
	"github.com/nodalcore/poolsupervisor/internal/supervisor"
)

// TaskHandler fronts the supervisor's Submit/TaskStatus surface. Task
// submission has no auth requirement — only the admin surface is
// protected — per the pool's non-goals.
type TaskHandler struct {
	sup *supervisor.Supervisor
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(sup *supervisor.Supervisor) *TaskHandler {
	return &TaskHandler{sup: sup}
}

// CreateTaskRequest is the wire shape accepted by POST /api/v1/tasks.
type CreateTaskRequest struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// CreateTaskResponse is returned immediately on submission; the task runs
// asynchronously and its eventual outcome is polled via Get.
type CreateTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Create handles POST /api/v1/tasks. It enqueues the task and returns
// without waiting for a worker to pick it up — callers poll Get (or
// subscribe over the WebSocket stream) for the terminal result.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "task type is required")
		return
	}

	var timeout time.Duration
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	fut, err := h.sup.Submit(req.Type, req.Payload, req.Priority, timeout, nil)
	if err != nil {
		switch err {
		case supervisor.ErrQueueFull:
			respondError(w, http.StatusServiceUnavailable, "queue at capacity")
		case supervisor.ErrPoolShutDown:
			respondError(w, http.StatusServiceUnavailable, "pool is shutting down")
		default:
			logger.Error().Err(err).Str("type", req.Type).Msg("failed to submit task")
			respondError(w, http.StatusInternalServerError, "failed to submit task")
		}
		return
	}

	metrics.RecordTaskSubmission(req.Type)

	logger.Info().
		Str("task_id", fut.TaskID()).
		Str("type", req.Type).
		Int("priority", req.Priority).
		Msg("task submitted")

	respondJSON(w, http.StatusAccepted, CreateTaskResponse{ID: fut.TaskID(), Status: "queued"})
}

// TaskStatusResponse is the wire shape returned by Get.
type TaskStatusResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"max_retries"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	snap, ok := h.sup.TaskStatus(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	respondJSON(w, http.StatusOK, TaskStatusResponse{
		ID:         snap.ID,
		Type:       snap.Type,
		Priority:   snap.Priority,
		Status:     snap.Status,
		Retries:    snap.Retries,
		MaxRetries: snap.MaxRetries,
		WorkerID:   snap.WorkerID,
		Result:     snap.Result,
	})
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. Only tasks that have not
// yet been dispatched to a worker can be cancelled; once a worker has
// started executing a task, it runs to completion.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	if !h.sup.CancelTask(taskID) {
		if _, ok := h.sup.TaskStatus(taskID); !ok {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusConflict, "task already dispatched to a worker")
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task cancelled")
	respondJSON(w, http.StatusOK, map[string]string{"id": taskID, "status": "cancelled"})
}

// PoolMetrics handles GET /api/v1/pool/metrics: it exposes the supervisor's
// point-in-time metrics, separately from the Prometheus /metrics endpoint.
func (h *TaskHandler) PoolMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sup.PoolMetrics())
}
