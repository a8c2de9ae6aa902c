// Package metrics declares the Prometheus collectors behind PoolMetrics()
// and the /metrics endpoint. Label cardinality stays low (type, status,
// worker id) so metrics scraping never becomes a second queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"type"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_tasks_completed_total",
			Help: "Total number of tasks resolved, by terminal status",
		},
		[]string{"type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolsupervisor_task_duration_seconds",
			Help:    "Task execution duration in seconds, from dequeue to terminal result",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"type"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_task_retries_total",
			Help: "Total number of task retry attempts scheduled",
		},
		[]string{"type"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolsupervisor_queue_depth",
			Help: "Current number of tasks queued or retry-pending",
		},
	)

	QueueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolsupervisor_queue_wait_seconds",
			Help:    "Time a task spent queued before dispatch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// Worker/pool metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolsupervisor_active_workers",
			Help: "Current number of workers tracked by the pool",
		},
	)

	WorkersSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolsupervisor_workers_spawned_total",
			Help: "Total number of worker processes spawned, including restarts",
		},
	)

	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_worker_restarts_total",
			Help: "Total number of same-identity worker restarts",
		},
		[]string{"worker_id"},
	)

	ReuseRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolsupervisor_reuse_rate",
			Help: "completed_tasks / workers_spawned",
		},
	)

	ZombiesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolsupervisor_zombies_detected_total",
			Help: "Total number of workers found to have missed the zombie threshold",
		},
	)

	MissedHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolsupervisor_missed_heartbeats_total",
			Help: "Total number of missed-heartbeat alerts raised by the health monitor",
		},
	)

	// DLQ metrics
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolsupervisor_dlq_size",
			Help: "Current number of tasks in the dead letter queue",
		},
	)

	DLQAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolsupervisor_dlq_added_total",
			Help: "Total number of tasks added to the dead letter queue",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolsupervisor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Event mirror (Redis) metrics
	EventMirrorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolsupervisor_event_mirror_publish_seconds",
			Help:    "Time spent publishing an event to the Redis mirror",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	EventMirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolsupervisor_event_mirror_errors_total",
			Help: "Total number of failed Redis event mirror publishes",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolsupervisor_websocket_connections",
			Help: "Current number of connected event-stream WebSocket clients",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolsupervisor_websocket_messages_total",
			Help: "Total number of events delivered over WebSocket, by event type",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission.
func RecordTaskSubmission(taskType string) {
	TasksSubmitted.WithLabelValues(taskType).Inc()
}

// RecordTaskCompletion records a task reaching a terminal status.
func RecordTaskCompletion(taskType, status string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// RecordTaskRetry records a scheduled retry.
func RecordTaskRetry(taskType string) {
	TaskRetries.WithLabelValues(taskType).Inc()
}

// UpdateQueueDepth sets the current queue depth gauge.
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// RecordQueueWait records how long a task waited before dispatch.
func RecordQueueWait(seconds float64) {
	QueueLatency.Observe(seconds)
}

// SetActiveWorkers sets the active-worker gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// RecordWorkerSpawned increments the lifetime spawn counter.
func RecordWorkerSpawned() {
	WorkersSpawned.Inc()
}

// RecordWorkerRestart increments a worker's restart counter.
func RecordWorkerRestart(workerID string) {
	WorkerRestarts.WithLabelValues(workerID).Inc()
}

// SetReuseRate sets the reuse-rate gauge.
func SetReuseRate(rate float64) {
	ReuseRate.Set(rate)
}

// RecordZombieDetected increments the zombie counter.
func RecordZombieDetected() {
	ZombiesDetected.Inc()
}

// RecordMissedHeartbeat increments the missed-heartbeat counter.
func RecordMissedHeartbeat() {
	MissedHeartbeats.Inc()
}

// SetDLQSize sets the DLQ size gauge.
func SetDLQSize(size float64) {
	DLQSize.Set(size)
}

// IncrementDLQAdded increments the DLQ-added counter.
func IncrementDLQAdded() {
	DLQAdded.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEventMirrorPublish records one Redis mirror publish attempt.
func RecordEventMirrorPublish(durationSeconds float64, err error) {
	EventMirrorDuration.Observe(durationSeconds)
	if err != nil {
		EventMirrorErrors.Inc()
	}
}

// SetWebSocketConnections sets the WebSocket connection gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records one event delivered to a WebSocket client.
func RecordWebSocketMessage(eventType string) {
	WebSocketMessages.WithLabelValues(eventType).Inc()
}
