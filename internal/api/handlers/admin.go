package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/supervisor"
)

// AdminHandler fronts the supervisor's pool-management surface: worker
// inspection, scaling, graceful shutdown, and dead-letter-queue triage.
// Every route mounting this handler sits behind the auth middleware —
// task submission does not.
type AdminHandler struct {
	sup *supervisor.Supervisor
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(sup *supervisor.Supervisor) *AdminHandler {
	return &AdminHandler{sup: sup}
}

// ListWorkers handles GET /admin/workers
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.sup.AllWorkers()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}

	snap, ok := h.sup.WorkerStatus(workerID)
	if !ok {
		respondError(w, http.StatusNotFound, "worker not found")
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// ScaleRequest is the body accepted by the pool scale-up/scale-down routes.
type ScaleRequest struct {
	By int `json:"by"`
}

// ScaleUp handles POST /admin/pool/scale-up
func (h *AdminHandler) ScaleUp(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By <= 0 {
		respondError(w, http.StatusBadRequest, "by must be a positive integer")
		return
	}

	if err := h.sup.ScaleUp(req.By); err != nil {
		logger.Error().Err(err).Int("by", req.By).Msg("failed to scale up pool")
		respondError(w, http.StatusInternalServerError, "failed to scale up")
		return
	}

	logger.Info().Int("by", req.By).Msg("pool scaled up")
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "pool scaled up", "by": req.By})
}

// ScaleDown handles POST /admin/pool/scale-down
func (h *AdminHandler) ScaleDown(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By <= 0 {
		respondError(w, http.StatusBadRequest, "by must be a positive integer")
		return
	}

	if err := h.sup.ScaleDown(req.By); err != nil {
		logger.Error().Err(err).Int("by", req.By).Msg("failed to scale down pool")
		respondError(w, http.StatusInternalServerError, "failed to scale down")
		return
	}

	logger.Info().Int("by", req.By).Msg("pool scaled down")
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "pool scaled down", "by": req.By})
}

// ShutdownRequest is the body accepted by POST /admin/pool/shutdown.
type ShutdownRequest struct {
	Graceful bool `json:"graceful"`
}

// Shutdown handles POST /admin/pool/shutdown. It blocks until every
// worker has been told to exit (and, if graceful, until in-flight tasks
// drain or the grace period elapses) before responding.
func (h *AdminHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	var req ShutdownRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.sup.Shutdown(req.Graceful); err != nil {
		logger.Error().Err(err).Msg("failed to shut down pool")
		respondError(w, http.StatusInternalServerError, "failed to shut down pool")
		return
	}

	logger.Info().Bool("graceful", req.Graceful).Msg("pool shut down via admin API")
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "pool shut down"})
}

// ListDLQ handles GET /admin/dlq
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	entries := h.sup.DLQ().List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"size":    len(entries),
	})
}

// GetDLQEntry handles GET /admin/dlq/{taskID}
func (h *AdminHandler) GetDLQEntry(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	entry, ok := h.sup.DLQ().Get(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "task not found in DLQ")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// RetryDLQRequest represents a request to retry dead-lettered tasks.
type RetryDLQRequest struct {
	TaskID   string `json:"task_id,omitempty"`
	RetryAll bool   `json:"retry_all,omitempty"`
}

// RetryDLQ handles POST /admin/dlq/retry
func (h *AdminHandler) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	var req RetryDLQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RetryAll {
		count := 0
		for _, entry := range h.sup.DLQ().List() {
			if _, ok := h.sup.RequeueFromDLQ(entry.Task.ID); ok {
				count++
			}
		}
		logger.Info().Int("count", count).Msg("dead-letter tasks re-queued")
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":       "tasks re-queued",
			"retried_count": count,
		})
		return
	}

	if req.TaskID == "" {
		respondError(w, http.StatusBadRequest, "task_id or retry_all is required")
		return
	}

	if _, ok := h.sup.RequeueFromDLQ(req.TaskID); !ok {
		respondError(w, http.StatusNotFound, "task not found in DLQ")
		return
	}

	logger.Info().Str("task_id", req.TaskID).Msg("dead-letter task re-queued")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task_id": req.TaskID,
	})
}

// ClearDLQ handles DELETE /admin/dlq
func (h *AdminHandler) ClearDLQ(w http.ResponseWriter, r *http.Request) {
	h.sup.DLQ().Clear()
	logger.Info().Msg("DLQ cleared")
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "DLQ cleared"})
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	m := h.sup.PoolMetrics()
	status := "healthy"
	code := http.StatusOK
	if m.Health.Status != "" && m.Health.Status != "healthy" {
		status = m.Health.Status
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"health": m.Health,
	})
}

// RetryTask handles POST /admin/tasks/{taskID}/retry, re-queuing a
// dead-lettered task by id — a thin alias over RetryDLQ for operators who
// think in terms of "this task", not "the DLQ".
func (h *AdminHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	if _, ok := h.sup.RequeueFromDLQ(taskID); !ok {
		respondError(w, http.StatusNotFound, "task not found in DLQ")
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task retried manually")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task_id": taskID,
	})
}
