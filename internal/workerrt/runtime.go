// Package workerrt is the child-side worker runtime: it receives framed
// IPC messages on its stdin, dispatches to a registered handler by task
// type, emits heartbeats and results, and handles graceful/immediate
// shutdown. It runs inside the cmd/poolworker binary, one instance per
// process.
package workerrt

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/ipc"
	"github.com/nodalcore/poolsupervisor/internal/logger"
)

// Handler executes one task's payload and returns its result, or an error
// that becomes a TaskFailed with kind handler-error.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// State is the runtime's own lifecycle stage, mirrored from spec §4.5.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateBusy         State = "busy"
	StateShuttingDown State = "shutting-down"
	StateExited       State = "exited"
	StateError        State = "error"
)

// shutdownGrace bounds how long a busy worker waits for its current task
// before a graceful shutdown forces exit anyway.
const shutdownGrace = 30 * time.Second

// Config mirrors procworker.Config; duplicated here to keep the worker
// binary's dependency surface independent of the supervisor-side package.
type Config struct {
	WorkerID            string `json:"worker_id"`
	HeartbeatIntervalMS int64  `json:"heartbeat_interval_ms"`
	MemoryThresholdMB   uint64 `json:"memory_threshold_mb"`
}

// Runtime owns the worker's state and handler registry and drives its
// message loop against a Channel.
type Runtime struct {
	cfg     Config
	channel *ipc.Channel

	mu            sync.Mutex
	state         State
	currentTaskID string
	tasksExecuted int

	handlers map[string]Handler
}

// New builds a Runtime bound to channel, using cfg for heartbeat cadence
// and memory thresholds.
func New(channel *ipc.Channel, cfg Config) *Runtime {
	if cfg.HeartbeatIntervalMS == 0 {
		cfg.HeartbeatIntervalMS = 5000
	}
	if cfg.MemoryThresholdMB == 0 {
		cfg.MemoryThresholdMB = 512
	}
	return &Runtime{
		cfg:      cfg,
		channel:  channel,
		state:    StateInitializing,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a task type to its handler. Must be called before
// Run.
func (r *Runtime) RegisterHandler(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Run sends worker-ready, starts the heartbeat timer, and processes
// messages until the channel closes or a shutdown message is handled. It
// returns once the process should exit.
func (r *Runtime) Run(ctx context.Context) error {
	ready, _ := ipc.Pack(ipc.TypeWorkerReady, ipc.WorkerReady{ProtocolVersion: 1})
	if err := r.channel.Send(ready); err != nil {
		return fmt.Errorf("workerrt: send worker-ready: %w", err)
	}
	r.setState(StateReady)

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go r.heartbeatLoop(hbCtx)

	log := logger.WithWorker(r.cfg.WorkerID)

	for {
		env, err := r.channel.Receive()
		if err != nil {
			log.Warn().Err(err).Msg("ipc channel closed or errored, exiting")
			r.setState(StateExited)
			return err
		}

		switch env.Type {
		case ipc.TypeExecuteTask:
			var exec ipc.ExecuteTask
			if unpackErr := ipc.Unpack(env, &exec); unpackErr != nil {
				continue
			}
			r.handleExecuteTask(ctx, exec)

		case ipc.TypeHealthCheck:
			// A health-check is answered implicitly by the next heartbeat;
			// nothing to do here beyond staying responsive to the read loop.

		case ipc.TypeShutdown:
			var sd ipc.Shutdown
			_ = ipc.Unpack(env, &sd)
			r.shutdown(sd.Graceful)
			return nil
		}
	}
}

func (r *Runtime) handleExecuteTask(parent context.Context, exec ipc.ExecuteTask) {
	r.mu.Lock()
	r.state = StateBusy
	r.currentTaskID = exec.TaskID
	r.mu.Unlock()

	handler, ok := r.handlers[exec.Type]
	start := time.Now()

	if !ok {
		r.sendFailure(exec.TaskID, ipc.ErrKindNoHandler, fmt.Sprintf("no handler registered for type %q", exec.Type), start)
		r.finishTask()
		return
	}

	ctx, cancel := context.WithTimeout(parent, time.Duration(exec.TimeoutMS)*time.Millisecond)
	defer cancel()

	result, err := r.invoke(ctx, handler, exec)
	duration := time.Since(start)

	if err != nil {
		kind := ipc.ErrKindHandlerError
		if ctx.Err() == context.DeadlineExceeded {
			kind = ipc.ErrKindTaskTimeout
		}
		r.sendFailure(exec.TaskID, kind, err.Error(), start)
		_ = duration
	} else {
		complete, _ := ipc.Pack(ipc.TypeTaskComplete, ipc.TaskComplete{
			TaskID:     exec.TaskID,
			Result:     result,
			DurationMS: duration.Milliseconds(),
		})
		_ = r.channel.Send(complete)
	}

	r.postTaskCleanup()
	r.finishTask()
}

// invoke runs the handler with panic recovery; an uncaught panic is fatal
// for the worker per spec §4.5.
func (r *Runtime) invoke(ctx context.Context, h Handler, exec ipc.ExecuteTask) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fatal(fmt.Sprintf("panic in handler %q: %v\n%s", exec.Type, rec, debug.Stack()))
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(ctx, exec.Payload)
}

func (r *Runtime) sendFailure(taskID, kind, msg string, start time.Time) {
	failed, _ := ipc.Pack(ipc.TypeTaskFailed, ipc.TaskFailed{
		TaskID:     taskID,
		Error:      ipc.TaskError{Message: msg, Kind: kind},
		DurationMS: time.Since(start).Milliseconds(),
	})
	_ = r.channel.Send(failed)
}

// fatal emits worker-error{fatal=true} and lets Run's receive loop
// observe the closed/errored channel on the next iteration; a brief flush
// delay ensures the parent has a chance to read the message first.
func (r *Runtime) fatal(msg string) {
	logger.WithWorker(r.cfg.WorkerID).Error().Msg(msg)
	r.setState(StateError)
	errEnv, _ := ipc.Pack(ipc.TypeWorkerError, ipc.WorkerError{Error: msg, Fatal: true})
	_ = r.channel.Send(errEnv)
	time.Sleep(50 * time.Millisecond)
}

func (r *Runtime) finishTask() {
	r.mu.Lock()
	r.tasksExecuted++
	r.currentTaskID = ""
	if r.state == StateBusy {
		r.state = StateReady
	}
	r.mu.Unlock()
}

// postTaskCleanup frees nothing itself (Go's GC does that) but checks
// memory against the configured threshold and emits a warning; it must
// never exit the process on memory alone.
func (r *Runtime) postTaskCleanup() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if r.cfg.MemoryThresholdMB > 0 && ms.Alloc > r.cfg.MemoryThresholdMB*1024*1024 {
		warn, _ := ipc.Pack(ipc.TypeHighMemoryWarning, ipc.HighMemoryWarning{Bytes: ms.Alloc})
		_ = r.channel.Send(warn)
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat()
		}
	}
}

func (r *Runtime) sendHeartbeat() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	r.mu.Lock()
	state := r.state
	taskID := r.currentTaskID
	executed := r.tasksExecuted
	r.mu.Unlock()

	hb, _ := ipc.Pack(ipc.TypeHeartbeat, ipc.Heartbeat{
		State:         string(state),
		TasksExecuted: executed,
		MemoryBytes:   ms.Alloc,
		CurrentTaskID: taskID,
	})
	_ = r.channel.Send(hb)
}

func (r *Runtime) shutdown(graceful bool) {
	r.setState(StateShuttingDown)

	if graceful {
		deadline := time.After(shutdownGrace)
		for {
			r.mu.Lock()
			busy := r.state == StateBusy
			r.mu.Unlock()
			if !busy {
				break
			}
			select {
			case <-deadline:
				goto exit
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

exit:
	r.mu.Lock()
	executed := r.tasksExecuted
	r.mu.Unlock()

	done, _ := ipc.Pack(ipc.TypeWorkerShutdown, ipc.WorkerShutdown{TasksExecuted: executed})
	_ = r.channel.Send(done)
	r.setState(StateExited)
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// State returns the runtime's current lifecycle stage.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
