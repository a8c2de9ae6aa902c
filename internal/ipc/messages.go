package ipc

import "encoding/json"

// Message type discriminants, parent->child and child->parent, per the
// wire protocol's tagged union.
const (
	TypeExecuteTask       = "execute-task"
	TypeHealthCheck       = "health-check"
	TypeShutdown          = "shutdown"
	TypeWorkerReady       = "worker-ready"
	TypeHeartbeat         = "heartbeat"
	TypeTaskComplete      = "task-complete"
	TypeTaskFailed        = "task-failed"
	TypeHighMemoryWarning = "high-memory-warning"
	TypeWorkerError       = "worker-error"
	TypeWorkerShutdown    = "worker-shutdown"
	TypeWorkerLog         = "worker-log"
)

// ExecuteTask is sent parent->child to dispatch a task.
type ExecuteTask struct {
	TaskID    string          `json:"task_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMS int64           `json:"timeout_ms"`
}

// Shutdown is sent parent->child to initiate graceful or immediate exit.
type Shutdown struct {
	Graceful bool `json:"graceful"`
}

// WorkerReady is sent child->parent once the worker has finished
// initializing its handler registry.
type WorkerReady struct {
	ProtocolVersion int `json:"protocol_version"`
}

// Heartbeat is sent child->parent on a fixed interval regardless of state.
type Heartbeat struct {
	State         string `json:"state"`
	TasksExecuted int    `json:"tasks_executed"`
	MemoryBytes   uint64 `json:"memory_bytes"`
	CPUUserMS     int64  `json:"cpu_user_ms"`
	CPUSysMS      int64  `json:"cpu_sys_ms"`
	CurrentTaskID string `json:"current_task_id,omitempty"`
}

// TaskComplete is sent child->parent on handler success.
type TaskComplete struct {
	TaskID     string          `json:"task_id"`
	Result     json.RawMessage `json:"result"`
	DurationMS int64           `json:"duration_ms"`
}

// TaskError describes a task-failed's structured error.
type TaskError struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// TaskFailed is sent child->parent on handler error, timeout, or
// unrecognized task type.
type TaskFailed struct {
	TaskID     string    `json:"task_id"`
	Error      TaskError `json:"error"`
	DurationMS int64     `json:"duration_ms"`
}

// HighMemoryWarning is sent child->parent when post-task memory exceeds
// worker_memory_threshold_mb. It never triggers a restart by itself.
type HighMemoryWarning struct {
	Bytes uint64 `json:"bytes"`
}

// WorkerError is sent child->parent on an uncaught handler exception.
type WorkerError struct {
	Error string `json:"error"`
	Fatal bool   `json:"fatal"`
}

// WorkerShutdown is sent child->parent immediately before the process
// exits, whether the shutdown was graceful or not.
type WorkerShutdown struct {
	TasksExecuted int `json:"tasks_executed"`
}

// WorkerLog forwards a structured child-side log line through the
// protocol channel instead of raw stderr text.
type WorkerLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Error kinds carried in TaskFailed.Error.Kind, per the error taxonomy.
const (
	ErrKindNoHandler     = "no-handler"
	ErrKindHandlerError  = "handler-error"
	ErrKindTaskTimeout   = "task-timeout"
	ErrKindWorkerCrashed = "worker-crashed"
	ErrKindProtocolError = "protocol-error"
	ErrKindQueueFull     = "queue-full"
	ErrKindCancelled     = "cancelled"
	ErrKindPoolShutDown  = "pool-shut-down"
)
