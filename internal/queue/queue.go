// Package queue implements the pool's in-memory priority task queue: a
// min-heap ordered by (priority, enqueue order), a retry-pending timer
// heap, and a dead-letter queue. Nothing here persists across process
// restarts or talks to another host — the supervisor owns one queue for
// its own lifetime.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/task"
)

// completedRetention is how long a terminal task's snapshot is kept
// readable in the side map before eviction.
const completedRetention = 60 * time.Second

// FailResult reports what FailTask decided to do with the task.
type FailResult struct {
	Retried bool
	RetryAt time.Time
}

// Stats is a point-in-time snapshot of queue depth and composition.
type Stats struct {
	Queued       int
	RetryPending int
	Dequeued     int
	DLQSize      int
	OldestAge    time.Duration
}

type heapItem struct {
	task  *task.Task
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].task.EnqueuedAt.Before(h[j].task.EnqueuedAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x interface{}) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// retryEntry is one pending re-insertion, ordered by due time.
type retryEntry struct {
	task  *task.Task
	dueAt time.Time
	index int
}

type retryHeap []*retryEntry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *retryHeap) Push(x interface{}) {
	e := x.(*retryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// retiredEntry holds a terminal task snapshot until its grace window expires.
type retiredEntry struct {
	task     *task.Task
	retireAt time.Time
}

// Queue is the priority queue plus retry timer plus DLQ, all guarded by a
// single mutex — the dispatch context is its only writer (spec §5).
type Queue struct {
	mu sync.Mutex

	heap    priorityHeap
	byID    map[string]*heapItem
	retries retryHeap
	inFlight map[string]*task.Task

	retired map[string]*retiredEntry

	dlq *DLQ

	policy *task.RetryPolicy

	log zerolog.Logger
}

// New builds an empty Queue using the given retry policy (nil uses the
// spec's defaults of 1s base / 30s cap).
func New(policy *task.RetryPolicy) *Queue {
	if policy == nil {
		policy = task.DefaultRetryPolicy()
	}
	q := &Queue{
		byID:     make(map[string]*heapItem),
		inFlight: make(map[string]*task.Task),
		retired:  make(map[string]*retiredEntry),
		dlq:      NewDLQ(),
		policy:   policy,
		log:      logger.WithComponent("queue"),
	}
	heap.Init(&q.heap)
	heap.Init(&q.retries)
	return q
}

// Enqueue inserts a task and returns its id.
func (q *Queue) Enqueue(t *task.Task) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	t.Status = task.StateQueued
	item := &heapItem{task: t}
	heap.Push(&q.heap, item)
	q.byID[t.ID] = item
	return t.ID
}

// Dequeue pops the highest-precedence ready task, or nil if the queue is
// empty. The task transitions to Dequeued and is stamped with DequeuedAt.
func (q *Queue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*heapItem)
	delete(q.byID, item.task.ID)

	now := time.Now().UTC()
	item.task.Status = task.StateDequeued
	item.task.DequeuedAt = &now
	q.inFlight[item.task.ID] = item.task
	return item.task
}

// Peek returns the next task to be dequeued without removing it.
func (q *Queue) Peek() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	return q.heap[0].task
}

// Len reports the number of tasks currently ready in the heap.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// CompleteTask marks a dequeued task completed and retires it. A second
// completion for the same id is a no-op that logs a warning.
func (q *Queue) CompleteTask(id string, result []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.findLive(id)
	if t == nil {
		q.log.Warn().Str("task_id", id).Msg("complete for unknown or already-terminal task")
		return
	}

	t.RecordAttempt("")
	t.Status = task.StateCompleted
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Result = result
	q.retire(t)
}

// FailTask applies the retry policy: re-schedule with backoff if the
// budget allows, otherwise move to the dead-letter queue.
func (q *Queue) FailTask(id string, errMsg string) FailResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.findLive(id)
	if t == nil {
		q.log.Warn().Str("task_id", id).Msg("fail for unknown or already-terminal task")
		return FailResult{}
	}

	t.RecordAttempt(errMsg)
	retry := t.CanRetry()
	backoff := q.policy.Backoff(t.Retries)
	t.Retries++

	if retry {
		dueAt := time.Now().UTC().Add(backoff)
		t.Status = task.StateRetryPending
		t.DequeuedAt = nil
		delete(q.inFlight, t.ID)
		heap.Push(&q.retries, &retryEntry{task: t, dueAt: dueAt})
		return FailResult{Retried: true, RetryAt: dueAt}
	}

	t.Status = task.StateFailed
	now := time.Now().UTC()
	t.CompletedAt = &now
	q.dlq.Add(t, errMsg)
	q.retire(t)
	return FailResult{Retried: false}
}

// Remove removes a task that is still ready in the heap (not yet
// dequeued), used when a caller cancels a submission before it reaches a
// worker. Reports whether the task was found there.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, id)
	return true
}

// Discard retires a dequeued task without recording a result, used when a
// caller cancels a submission after it has already been dispatched to a
// worker: the task still runs to completion there, but the supervisor no
// longer cares about its outcome.
func (q *Queue) Discard(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.findLive(id)
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	q.retire(t)
}

// PromoteDueRetries moves any retry-pending task whose backoff has
// elapsed back onto the ready heap and returns their ids.
func (q *Queue) PromoteDueRetries(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var promoted []string
	for q.retries.Len() > 0 && !q.retries[0].dueAt.After(now) {
		entry := heap.Pop(&q.retries).(*retryEntry)
		entry.task.Status = task.StateQueued
		item := &heapItem{task: entry.task}
		heap.Push(&q.heap, item)
		q.byID[entry.task.ID] = item
		promoted = append(promoted, entry.task.ID)
	}
	return promoted
}

// NextRetryDue returns the time of the soonest pending retry, and false
// if none is pending — used by the dispatch loop's retry timer context to
// size its next sleep.
func (q *Queue) NextRetryDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retries.Len() == 0 {
		return time.Time{}, false
	}
	return q.retries[0].dueAt, true
}

// CheckTimedOut reports whether a dequeued task's deadline has passed.
func CheckTimedOut(t *task.Task, now time.Time) bool {
	if t.DequeuedAt == nil {
		return false
	}
	return now.After(t.DequeuedAt.Add(t.Timeout))
}

// CheckTimeouts scans every in-flight (dequeued, not yet terminal) task
// and returns the ids of those whose deadline has passed. The caller
// (supervisor) decides whether to also FailTask them — this only
// detects, it never mutates (spec §4.2).
func (q *Queue) CheckTimeouts(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var timedOut []string
	for id, t := range q.inFlight {
		if CheckTimedOut(t, now) {
			timedOut = append(timedOut, id)
		}
	}
	return timedOut
}

// Snapshot returns a copy of a live (non-retired, non-DLQ) task by id.
func (q *Queue) Snapshot(id string) (task.Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.byID[id]; ok {
		return item.task.ToSnapshot(), true
	}
	if t, ok := q.inFlight[id]; ok {
		return t.ToSnapshot(), true
	}
	for _, e := range q.retries {
		if e.task.ID == id {
			return e.task.ToSnapshot(), true
		}
	}
	if e, ok := q.retired[id]; ok {
		return e.task.ToSnapshot(), true
	}
	return task.Snapshot{}, false
}

// Stats returns a point-in-time view of queue composition.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	oldest := time.Duration(0)
	if q.heap.Len() > 0 {
		oldest = time.Since(q.heap[0].task.EnqueuedAt)
		for _, item := range q.heap {
			if age := time.Since(item.task.EnqueuedAt); age > oldest {
				oldest = age
			}
		}
	}

	return Stats{
		Queued:       q.heap.Len(),
		Dequeued:     len(q.inFlight),
		RetryPending: q.retries.Len(),
		DLQSize:      q.dlq.Size(),
		OldestAge:    oldest,
	}
}

// DLQ exposes the queue's dead-letter queue for admin inspection/retry.
func (q *Queue) DLQ() *DLQ { return q.dlq }

// RequeueFromDLQ removes a task from the dead-letter queue, resets its
// retry accounting, and re-enqueues it for dispatch.
func (q *Queue) RequeueFromDLQ(id string) (*task.Task, bool) {
	entry, ok := q.dlq.Remove(id)
	if !ok {
		return nil, false
	}

	t := entry.Task
	t.Retries = 0
	t.CompletedAt = nil
	t.EnqueuedAt = time.Now().UTC()
	q.Enqueue(t)
	return t, true
}

// EvictRetired removes retired task snapshots whose grace window has
// elapsed. Intended to be called periodically by the dispatch context.
func (q *Queue) EvictRetired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, e := range q.retired {
		if now.After(e.retireAt) {
			delete(q.retired, id)
		}
	}
}

// findLive returns the task for id if it is currently dequeued (the only
// state CompleteTask/FailTask may legally observe), else nil.
func (q *Queue) findLive(id string) *task.Task {
	// A dequeued task isn't in q.byID (it left the heap) or q.retries; it
	// is tracked in q.inFlight until it completes, fails or is discarded.
	// Ids already retired or dead-lettered are rejected first.
	if _, ok := q.retired[id]; ok {
		return nil
	}
	if q.dlq.Contains(id) {
		return nil
	}
	return q.inFlight[id]
}

func (q *Queue) retire(t *task.Task) {
	delete(q.inFlight, t.ID)
	q.retired[t.ID] = &retiredEntry{task: t, retireAt: time.Now().UTC().Add(completedRetention)}
}
