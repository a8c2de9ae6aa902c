package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodalcore/poolsupervisor/internal/task"
)

func newTask(priority int) *task.Task {
	return task.New("echo", nil, priority, time.Minute)
}

func TestEnqueueDequeue_PriorityOrder(t *testing.T) {
	q := New(nil)

	a := newTask(10)
	b := newTask(10)
	c := newTask(1)

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	require.Equal(t, c.ID, q.Dequeue().ID, "lower priority number dispatches first")
	require.Equal(t, a.ID, q.Dequeue().ID, "equal priority resolves FIFO")
	require.Equal(t, b.ID, q.Dequeue().ID)
	assert.Nil(t, q.Dequeue())
}

func TestDequeueMarksStatus(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	q.Enqueue(tk)

	out := q.Dequeue()
	assert.Equal(t, task.StateDequeued, out.Status)
	assert.NotNil(t, out.DequeuedAt)
}

func TestCompleteTask(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	q.Enqueue(tk)
	q.Dequeue()

	q.CompleteTask(tk.ID, []byte(`"ok"`))

	snap, ok := q.Snapshot(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "completed", snap.Status)
}

func TestCompleteTaskTwiceIsNoop(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	q.Enqueue(tk)
	q.Dequeue()

	q.CompleteTask(tk.ID, nil)
	q.CompleteTask(tk.ID, nil) // should not panic, logs a warning
}

func TestFailTaskRetriesThenDLQs(t *testing.T) {
	policy := &task.RetryPolicy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1, JitterFactor: 0}
	q := New(policy)
	tk := newTask(10)
	tk.MaxRetries = 1
	q.Enqueue(tk)
	q.Dequeue()

	result := q.FailTask(tk.ID, "boom")
	assert.True(t, result.Retried)
	assert.Equal(t, 0, q.DLQ().Size())

	time.Sleep(5 * time.Millisecond)
	promoted := q.PromoteDueRetries(time.Now())
	require.Len(t, promoted, 1)

	out := q.Dequeue()
	require.NotNil(t, out)
	result = q.FailTask(out.ID, "boom again")
	assert.False(t, result.Retried)
	assert.Equal(t, 1, q.DLQ().Size())
}

func TestFailUnknownTaskWarnsAndNoops(t *testing.T) {
	q := New(nil)
	result := q.FailTask("nonexistent", "boom")
	assert.False(t, result.Retried)
}

func TestRequeueFromDLQ(t *testing.T) {
	policy := &task.RetryPolicy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	q := New(policy)
	tk := newTask(10)
	tk.MaxRetries = 0
	q.Enqueue(tk)
	q.Dequeue()
	q.FailTask(tk.ID, "fatal")

	require.Equal(t, 1, q.DLQ().Size())

	restored, ok := q.RequeueFromDLQ(tk.ID)
	require.True(t, ok)
	assert.Equal(t, 0, restored.Retries)
	assert.Equal(t, 0, q.DLQ().Size())
	assert.Equal(t, 1, q.Len())
}

func TestCheckTimedOut(t *testing.T) {
	tk := newTask(10)
	tk.Timeout = time.Millisecond
	now := time.Now()
	tk.DequeuedAt = &now

	assert.False(t, CheckTimedOut(tk, now))
	assert.True(t, CheckTimedOut(tk, now.Add(10*time.Millisecond)))
}

func TestQueue_CheckTimeouts(t *testing.T) {
	q := New(nil)

	fast := newTask(10)
	fast.Timeout = time.Hour
	slow := newTask(10)
	slow.Timeout = time.Millisecond

	q.Enqueue(fast)
	q.Enqueue(slow)
	q.Dequeue()
	q.Dequeue()

	timedOut := q.CheckTimeouts(time.Now().Add(10 * time.Millisecond))
	assert.Equal(t, []string{slow.ID}, timedOut)
}

func TestStats(t *testing.T) {
	q := New(nil)
	q.Enqueue(newTask(10))
	q.Enqueue(newTask(5))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Queued)
}

func TestRemoveStillQueuedTask(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	other := newTask(10)
	q.Enqueue(tk)
	q.Enqueue(other)

	assert.True(t, q.Remove(tk.ID))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, other.ID, q.Dequeue().ID)
}

func TestRemoveUnknownOrAlreadyDequeuedReturnsFalse(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	q.Enqueue(tk)
	q.Dequeue()

	assert.False(t, q.Remove(tk.ID))
	assert.False(t, q.Remove("nonexistent"))
}

func TestDiscardRetiresDequeuedTaskWithoutResult(t *testing.T) {
	q := New(nil)
	tk := newTask(10)
	q.Enqueue(tk)
	q.Dequeue()

	q.Discard(tk.ID)

	snap, ok := q.Snapshot(tk.ID)
	require.True(t, ok)
	assert.NotNil(t, snap.CompletedAt)
}
