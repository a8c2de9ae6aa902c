package supervisor

import (
	"context"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/ipc"
	"github.com/nodalcore/poolsupervisor/internal/procworker"
)

// workerState is the dispatch context's view of one worker's availability.
type workerState int

const (
	workerInitializing workerState = iota
	workerReady
	workerBusy
	workerExited
)

func (s workerState) String() string {
	switch s {
	case workerReady:
		return "ready"
	case workerBusy:
		return "busy"
	case workerExited:
		return "exited"
	default:
		return "initializing"
	}
}

// Worker is the subset of a spawned child process the supervisor drives.
// procworker.Process satisfies it through processAdapter; tests substitute a fake.
type Worker interface {
	Send(env ipc.Envelope) error
	PID() int
	Shutdown(graceful bool, grace time.Duration) error
	Kill() error
	Events() <-chan ipc.Envelope
	Exited() <-chan error
}

// Spawner starts a new worker process. The default wraps procworker.Spawn;
// tests inject a fake to avoid touching os/exec.
type Spawner interface {
	Spawn(ctx context.Context, binaryPath, workerID string, cfg procworker.Config) (Worker, error)
}

type processAdapter struct{ *procworker.Process }

func (a processAdapter) Events() <-chan ipc.Envelope { return a.Process.Events }
func (a processAdapter) Exited() <-chan error        { return a.Process.Exited }

type defaultSpawner struct{}

func (defaultSpawner) Spawn(ctx context.Context, binaryPath, workerID string, cfg procworker.Config) (Worker, error) {
	p, err := procworker.Spawn(ctx, binaryPath, workerID, cfg)
	if err != nil {
		return nil, err
	}
	return processAdapter{p}, nil
}

// workerHandle is the dispatch context's record of one live worker.
type workerHandle struct {
	id   string
	proc Worker

	status        workerState
	currentTaskID string
	tasksExecuted int

	readyCh chan struct{}
	ready   bool
}

func newWorkerHandle(id string, proc Worker) *workerHandle {
	return &workerHandle{id: id, proc: proc, status: workerInitializing, readyCh: make(chan struct{})}
}

func (w *workerHandle) markReady() {
	if !w.ready {
		w.ready = true
		close(w.readyCh)
	}
}
