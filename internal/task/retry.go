package task

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the exponential backoff applied between a task
// failure and its re-enqueue.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFactor   float64
}

// DefaultRetryPolicy matches the spec's defaults: 1s base, 30s cap.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.1,
	}
}

// Backoff returns min(retry_backoff_ms * 2^retries, max_backoff_ms), jittered.
func (p *RetryPolicy) Backoff(retries int) time.Duration {
	if retries <= 0 {
		return p.clampAndJitter(float64(p.InitialBackoff))
	}
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(retries))
	return p.clampAndJitter(d)
}

func (p *RetryPolicy) clampAndJitter(d float64) time.Duration {
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.JitterFactor > 0 {
		jitter := d * p.JitterFactor * (rand.Float64()*2 - 1)
		d += jitter
	}
	if d < 0 {
		d = float64(p.InitialBackoff)
	}
	return time.Duration(d)
}
