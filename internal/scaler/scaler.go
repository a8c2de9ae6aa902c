// Package scaler periodically adjusts pool size based on queue depth and
// idle worker count.
package scaler

import (
	"context"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/logger"
)

// Config holds the scaler's thresholds, with the spec's defaults.
type Config struct {
	ScaleUpQueueThreshold  int           // default 50
	ScaleDownIdleThreshold int           // default 5
	ScaleUpStep            int           // default 10
	ScaleDownStep          int           // default 5
	Interval               time.Duration // default 30s
	MinWorkers, MaxWorkers int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig(minWorkers, maxWorkers int) Config {
	return Config{
		ScaleUpQueueThreshold:  50,
		ScaleDownIdleThreshold: 5,
		ScaleUpStep:            10,
		ScaleDownStep:          5,
		Interval:               30 * time.Second,
		MinWorkers:             minWorkers,
		MaxWorkers:             maxWorkers,
	}
}

// Metrics is the view of pool state the scaler's policy decides from.
type Metrics struct {
	Queued       int
	TotalWorkers int
	BusyWorkers  int
}

// Pool is the subset of the supervisor's contract the scaler drives.
type Pool interface {
	Metrics() Metrics
	ScaleUp(n int) error
	ScaleDown(n int) error
}

// Scaler runs Pool's evaluation on a fixed interval until its context is
// cancelled.
type Scaler struct {
	cfg  Config
	pool Pool
}

// New builds a Scaler bound to pool.
func New(cfg Config, pool Pool) *Scaler {
	return &Scaler{cfg: cfg, pool: pool}
}

// Run blocks, evaluating on every tick, until ctx is cancelled.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log := logger.WithComponent("scaler")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Evaluate(); err != nil {
				log.Warn().Err(err).Msg("scale evaluation failed")
			}
		}
	}
}

// Evaluate applies the scale-up/scale-down policy once, immediately.
func (s *Scaler) Evaluate() error {
	m := s.pool.Metrics()
	log := logger.WithComponent("scaler")

	if m.Queued > s.cfg.ScaleUpQueueThreshold && m.TotalWorkers < s.cfg.MaxWorkers {
		step := s.cfg.ScaleUpStep
		if m.TotalWorkers+step > s.cfg.MaxWorkers {
			step = s.cfg.MaxWorkers - m.TotalWorkers
		}
		log.Info().Int("queued", m.Queued).Int("step", step).Msg("scaling up")
		return s.pool.ScaleUp(step)
	}

	if m.Queued == 0 && m.BusyWorkers < s.cfg.ScaleDownIdleThreshold && m.TotalWorkers > s.cfg.MinWorkers {
		step := s.cfg.ScaleDownStep
		if m.TotalWorkers-step < s.cfg.MinWorkers {
			step = m.TotalWorkers - s.cfg.MinWorkers
		}
		if step > 0 {
			log.Info().Int("step", step).Msg("scaling down")
			return s.pool.ScaleDown(step)
		}
	}

	return nil
}
