package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 1*time.Second, policy.InitialBackoff)
	assert.Equal(t, 30*time.Second, policy.MaxBackoff)
	assert.Equal(t, 2.0, policy.BackoffFactor)
	assert.Equal(t, 0.1, policy.JitterFactor)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := &RetryPolicy{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0, // deterministic
	}

	tests := []struct {
		retries  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{10, 30 * time.Second}, // capped
	}

	for _, tt := range tests {
		got := policy.Backoff(tt.retries)
		assert.Equal(t, tt.expected, got, "retries=%d", tt.retries)
	}
}

func TestRetryPolicy_Backoff_Jitter(t *testing.T) {
	policy := &RetryPolicy{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     1 * time.Minute,
		BackoffFactor:  2.0,
		JitterFactor:   0.5,
	}

	for i := 0; i < 20; i++ {
		d := policy.Backoff(1)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}
