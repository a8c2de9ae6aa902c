package task

import "errors"

// State is the lifecycle stage of a Task, per the invariants: a task in
// Dequeued is assigned to exactly one worker, a task in Queued is in the
// heap, a task in RetryPending is neither (it is held by a retry timer),
// and a terminal task is in neither.
type State int

const (
	StateQueued State = iota
	StateRetryPending
	StateDequeued
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRetryPending:
		return "retry-pending"
	case StateDequeued:
		return "dequeued"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the task will never change state again.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrQueueFull         = errors.New("queue full")
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// validTransitions enumerates the moves the queue and dispatch loop are
// allowed to make; anything else is a programming error.
var validTransitions = map[State][]State{
	StateQueued:       {StateDequeued},
	StateDequeued:     {StateCompleted, StateFailed, StateRetryPending},
	StateRetryPending: {StateQueued},
	StateCompleted:    {},
	StateFailed:       {},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s State) CanTransitionTo(target State) bool {
	for _, v := range validTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}
