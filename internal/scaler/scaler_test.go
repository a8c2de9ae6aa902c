package scaler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	metrics    Metrics
	upCalls    []int
	downCalls  []int
	upErr      error
	downErr    error
}

func (f *fakePool) Metrics() Metrics { return f.metrics }
func (f *fakePool) ScaleUp(n int) error {
	f.upCalls = append(f.upCalls, n)
	return f.upErr
}
func (f *fakePool) ScaleDown(n int) error {
	f.downCalls = append(f.downCalls, n)
	return f.downErr
}

func TestEvaluateScalesUpWhenQueueExceedsThreshold(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 51, TotalWorkers: 10, BusyWorkers: 10}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	require.Len(t, pool.upCalls, 1)
	assert.Equal(t, 10, pool.upCalls[0])
	assert.Empty(t, pool.downCalls)
}

func TestEvaluateClampsScaleUpToMaxWorkers(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 100, TotalWorkers: 95, BusyWorkers: 95}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	require.Len(t, pool.upCalls, 1)
	assert.Equal(t, 5, pool.upCalls[0])
}

func TestEvaluateDoesNotScaleUpAtMaxWorkers(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 100, TotalWorkers: 100, BusyWorkers: 100}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	assert.Empty(t, pool.upCalls)
	assert.Empty(t, pool.downCalls)
}

func TestEvaluateScalesDownWhenIdleAndQueueEmpty(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 0, TotalWorkers: 20, BusyWorkers: 1}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	require.Len(t, pool.downCalls, 1)
	assert.Equal(t, 5, pool.downCalls[0])
	assert.Empty(t, pool.upCalls)
}

func TestEvaluateClampsScaleDownToMinWorkers(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 0, TotalWorkers: 7, BusyWorkers: 0}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	require.Len(t, pool.downCalls, 1)
	assert.Equal(t, 2, pool.downCalls[0])
}

func TestEvaluateDoesNotScaleDownAtMinWorkers(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 0, TotalWorkers: 5, BusyWorkers: 0}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	assert.Empty(t, pool.downCalls)
	assert.Empty(t, pool.upCalls)
}

func TestEvaluateDoesNothingInSteadyState(t *testing.T) {
	pool := &fakePool{metrics: Metrics{Queued: 10, TotalWorkers: 10, BusyWorkers: 6}}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	require.NoError(t, s.Evaluate())

	assert.Empty(t, pool.upCalls)
	assert.Empty(t, pool.downCalls)
}

func TestEvaluatePropagatesPoolError(t *testing.T) {
	pool := &fakePool{
		metrics: Metrics{Queued: 100, TotalWorkers: 10, BusyWorkers: 10},
		upErr:   errors.New("spawn failed"),
	}
	cfg := DefaultConfig(5, 100)
	s := New(cfg, pool)

	err := s.Evaluate()
	assert.EqualError(t, err, "spawn failed")
}
