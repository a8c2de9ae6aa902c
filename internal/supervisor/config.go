package supervisor

import (
	"time"

	"github.com/nodalcore/poolsupervisor/internal/balancer"
)

// OverflowPolicy controls Submit's behavior once max_queue_depth is reached.
type OverflowPolicy string

const (
	OverflowBlock  OverflowPolicy = "block"
	OverflowReject OverflowPolicy = "reject"
)

// Config enumerates the pool's external configuration surface.
type Config struct {
	BinaryPath string

	PoolSize   int
	MinWorkers int
	MaxWorkers int

	HeartbeatIntervalMS int64
	HeartbeatTimeoutMS  int64
	ZombieThresholdMS   int64

	TaskTimeoutMS  int64
	MaxTaskRetries int
	RetryBackoffMS int64
	MaxBackoffMS   int64

	LoadBalancing string

	AutoRestart        bool
	MaxRestartAttempts int
	RestartCooldownMS  int64

	WorkerMemoryThresholdMB uint64
	RestartOnMemory         bool

	MaxQueueDepth    int
	SubmitOnOverflow OverflowPolicy

	ScaleUpQueueThreshold  int
	ScaleDownIdleThreshold int
	ScaleStep              int
	ScaleIntervalMS        int64
	AutoScale              bool

	ShutdownGraceMS int64

	// WorkerReadyTimeout bounds how long Initialize waits for a spawned
	// worker's first worker-ready before failing. Not part of the external
	// configuration surface; it only protects Initialize from hanging.
	WorkerReadyTimeout time.Duration
}

// DefaultConfig returns the spec's defaults for every option except
// BinaryPath and PoolSize, which the caller must set.
func DefaultConfig() Config {
	return Config{
		MinWorkers: 1,
		MaxWorkers: 100,

		HeartbeatIntervalMS: 5_000,
		HeartbeatTimeoutMS:  15_000,
		ZombieThresholdMS:   30_000,

		TaskTimeoutMS:  int64(5 * time.Minute / time.Millisecond),
		MaxTaskRetries: 3,
		RetryBackoffMS: 1_000,
		MaxBackoffMS:   30_000,

		LoadBalancing: balancer.StrategyRoundRobin,

		AutoRestart:        true,
		MaxRestartAttempts: 3,
		RestartCooldownMS:  5_000,

		WorkerMemoryThresholdMB: 512,
		RestartOnMemory:         false,

		MaxQueueDepth:    1_000,
		SubmitOnOverflow: OverflowBlock,

		ScaleUpQueueThreshold:  50,
		ScaleDownIdleThreshold: 5,
		ScaleStep:              10,
		ScaleIntervalMS:        30_000,
		AutoScale:              false,

		ShutdownGraceMS: 300_000,

		WorkerReadyTimeout: 10 * time.Second,
	}
}
