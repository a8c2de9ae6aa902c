// Package task defines the unit of work dispatched to pool workers: its
// wire-visible fields, its state machine, and its retry/backoff policy.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultPriority is assigned to a task when the caller does not specify one.
// Lower numbers take precedence over higher ones.
const DefaultPriority = 10

// DefaultTimeout bounds how long a handler may run before the task is failed
// with the task-timeout error kind.
const DefaultTimeout = 5 * time.Minute

// DefaultMaxRetries is the retry budget assigned to a task when the caller
// does not specify one.
const DefaultMaxRetries = 3

// Attempt records a single execution attempt and, if it failed, why.
type Attempt struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Task is a unit of work forwarded verbatim to a worker's registered
// handler. Payload is never inspected or canonicalized by the supervisor.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
	Timeout  time.Duration   `json:"timeout"`

	Status State `json:"status"`

	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	DequeuedAt  *time.Time `json:"dequeued_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	WorkerID string `json:"worker_id,omitempty"`

	Attempts []Attempt `json:"attempts"`

	Result json.RawMessage `json:"result,omitempty"`
}

// New builds a Task with the supervisor-assigned id and the spec's defaults
// applied to any zero-valued field.
func New(taskType string, payload json.RawMessage, priority int, timeout time.Duration) *Task {
	if priority == 0 {
		priority = DefaultPriority
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    payload,
		Priority:   priority,
		Timeout:    timeout,
		Status:     StateQueued,
		MaxRetries: DefaultMaxRetries,
		EnqueuedAt: time.Now().UTC(),
		Attempts:   make([]Attempt, 0, 1),
	}
}

// CanRetry reports whether the task's retry budget is not yet exhausted.
func (t *Task) CanRetry() bool {
	return t.Retries < t.MaxRetries
}

// RecordAttempt appends to the attempts history. An empty errMsg records a
// successful attempt.
func (t *Task) RecordAttempt(errMsg string) {
	t.Attempts = append(t.Attempts, Attempt{Timestamp: time.Now().UTC(), Error: errMsg})
}

// Snapshot is the read-only view of a Task returned by metrics/status APIs.
// It is a value copy so callers cannot mutate queue-owned state.
type Snapshot struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	Retries     int        `json:"retries"`
	MaxRetries  int        `json:"max_retries"`
	WorkerID    string     `json:"worker_id,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	DequeuedAt  *time.Time `json:"dequeued_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempts    []Attempt  `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// ToSnapshot copies the fields safe to expose externally.
func (t *Task) ToSnapshot() Snapshot {
	attempts := make([]Attempt, len(t.Attempts))
	copy(attempts, t.Attempts)
	return Snapshot{
		ID:          t.ID,
		Type:        t.Type,
		Priority:    t.Priority,
		Status:      t.Status.String(),
		Retries:     t.Retries,
		MaxRetries:  t.MaxRetries,
		WorkerID:    t.WorkerID,
		EnqueuedAt:  t.EnqueuedAt,
		DequeuedAt:  t.DequeuedAt,
		CompletedAt: t.CompletedAt,
		Attempts:    attempts,
		Result:      t.Result,
	}
}
