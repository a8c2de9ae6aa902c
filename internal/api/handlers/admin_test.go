package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminHandler_GetWorker_MissingID(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/workers/", nil)
	req = withURLParam(req, "workerID", "")
	w := httptest.NewRecorder()

	h.GetWorker(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "worker ID is required", response["message"])
}

func TestAdminHandler_GetWorker_NotFound(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/workers/bogus", nil)
	req = withURLParam(req, "workerID", "bogus")
	w := httptest.NewRecorder()

	h.GetWorker(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_ListWorkers_Empty(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/workers", nil)
	w := httptest.NewRecorder()

	h.ListWorkers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(0), response["count"])
}

func TestAdminHandler_ScaleUp_InvalidBody(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/pool/scale-up", bytes.NewBufferString(`{"by":0}`))
	w := httptest.NewRecorder()

	h.ScaleUp(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ScaleUp_ClampedToMax(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t)) // MaxWorkers == 0, so any request is a no-op

	req := httptest.NewRequest(http.MethodPost, "/admin/pool/scale-up", bytes.NewBufferString(`{"by":5}`))
	w := httptest.NewRecorder()

	h.ScaleUp(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_ScaleDown_InvalidBody(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/pool/scale-down", bytes.NewBufferString(`{"by":-1}`))
	w := httptest.NewRecorder()

	h.ScaleDown(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_Shutdown(t *testing.T) {
	sup := testSupervisor(t)
	h := NewAdminHandler(sup)

	req := httptest.NewRequest(http.MethodPost, "/admin/pool/shutdown", bytes.NewBufferString(`{"graceful":false}`))
	w := httptest.NewRecorder()

	h.Shutdown(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_ListDLQ_Empty(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/dlq", nil)
	w := httptest.NewRecorder()

	h.ListDLQ(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(0), response["size"])
}

func TestAdminHandler_RetryDLQ_UnknownTask(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/dlq/retry", bytes.NewBufferString(`{"task_id":"bogus"}`))
	w := httptest.NewRecorder()

	h.RetryDLQ(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_RetryDLQ_MissingSelector(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/dlq/retry", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.RetryDLQ(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ClearDLQ(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodDelete, "/admin/dlq", nil)
	w := httptest.NewRecorder()

	h.ClearDLQ(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_HealthCheck(t *testing.T) {
	h := NewAdminHandler(testSupervisor(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetryDLQRequest_Struct(t *testing.T) {
	req := RetryDLQRequest{TaskID: "task-123", RetryAll: false}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded RetryDLQRequest
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, req.TaskID, decoded.TaskID)
	assert.Equal(t, req.RetryAll, decoded.RetryAll)
}

func TestRetryDLQRequest_RetryAll(t *testing.T) {
	req := RetryDLQRequest{RetryAll: true}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded RetryDLQRequest
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, decoded.RetryAll)
	assert.Empty(t, decoded.TaskID)
}
