package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	tk := New("echo", nil, 0, 0)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, DefaultPriority, tk.Priority)
	assert.Equal(t, DefaultTimeout, tk.Timeout)
	assert.Equal(t, DefaultMaxRetries, tk.MaxRetries)
	assert.Equal(t, StateQueued, tk.Status)
	assert.Empty(t, tk.Attempts)
	assert.False(t, tk.EnqueuedAt.IsZero())
}

func TestNewHonorsExplicitValues(t *testing.T) {
	tk := New("compute", json.RawMessage(`{"n":1}`), 1, 10*time.Second)

	assert.Equal(t, 1, tk.Priority)
	assert.Equal(t, 10*time.Second, tk.Timeout)
	assert.Equal(t, json.RawMessage(`{"n":1}`), tk.Payload)
}

func TestCanRetry(t *testing.T) {
	tk := New("echo", nil, 0, 0)
	tk.MaxRetries = 2

	assert.True(t, tk.CanRetry())
	tk.Retries = 2
	assert.False(t, tk.CanRetry())
}

func TestRecordAttempt(t *testing.T) {
	tk := New("echo", nil, 0, 0)

	tk.RecordAttempt("boom")
	assert.Len(t, tk.Attempts, 1)
	assert.Equal(t, "boom", tk.Attempts[0].Error)
}

func TestToSnapshotCopiesAttempts(t *testing.T) {
	tk := New("echo", nil, 0, 0)
	tk.RecordAttempt("err1")

	snap := tk.ToSnapshot()
	tk.RecordAttempt("err2")

	assert.Len(t, snap.Attempts, 1, "snapshot must not see mutations made after it was taken")
}

func TestPayloadRoundTrip(t *testing.T) {
	tk := New("echo", json.RawMessage(`{"a":1}`), 0, 0)

	data, err := json.Marshal(tk)
	assert.NoError(t, err)

	var restored Task
	assert.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, tk.Payload, restored.Payload)
}
