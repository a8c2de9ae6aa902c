// Package procworker owns the supervisor side of one worker's OS process:
// spawning it, wiring its stdio into an ipc.Channel, reading its messages
// into an event channel, and escalating shutdown from the protocol
// message to SIGTERM to SIGKILL.
package procworker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/ipc"
	"github.com/nodalcore/poolsupervisor/internal/logger"
)

// stderrWriter forwards a worker's raw stderr output into the structured
// logger instead of letting it interleave with the supervisor's own
// stdout.
type stderrWriter struct {
	workerID string
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	logger.WithWorker(w.workerID).Warn().Str("stream", "stderr").Msg(string(p))
	return len(p), nil
}

// killGrace is how long the process is given to exit after SIGTERM
// before the supervisor escalates to SIGKILL (spec §6).
const killGrace = 5 * time.Second

// Config carries what a worker needs to know about itself, passed via
// the environment per spec §6.
type Config struct {
	WorkerID            string `json:"worker_id"`
	HeartbeatIntervalMS int64  `json:"heartbeat_interval_ms"`
	MemoryThresholdMB   uint64 `json:"memory_threshold_mb"`
}

// Process is one spawned worker child process and its IPC channel.
type Process struct {
	ID      string
	cmd     *exec.Cmd
	channel *ipc.Channel

	Events chan ipc.Envelope
	Exited chan error
}

// Spawn starts binaryPath as the worker's child process, wiring its
// stdin/stdout into a framed Channel and stderr into the supervisor's log
// for diagnostics.
func Spawn(ctx context.Context, binaryPath, workerID string, cfg Config) (*Process, error) {
	cmd := exec.CommandContext(ctx, binaryPath)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("procworker: marshal config: %w", err)
	}
	cmd.Env = append(os.Environ(),
		"WORKER_ID="+workerID,
		"WORKER_CONFIG="+string(cfgJSON),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("procworker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procworker: stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrWriter{workerID: workerID}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procworker: start: %w", err)
	}

	pair := ipc.NewPipePair(stdout, stdin)
	p := &Process{
		ID:      workerID,
		cmd:     cmd,
		channel: ipc.New(pair),
		Events:  make(chan ipc.Envelope, 32),
		Exited:  make(chan error, 1),
	}

	go p.readLoop()
	go func() { p.Exited <- cmd.Wait() }()

	return p, nil
}

func (p *Process) readLoop() {
	defer close(p.Events)
	for {
		env, err := p.channel.Receive()
		if err != nil {
			return
		}
		p.Events <- env
	}
}

// Send writes a message to the child's stdin.
func (p *Process) Send(env ipc.Envelope) error {
	return p.channel.Send(env)
}

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Shutdown sends the protocol shutdown message and waits up to grace for
// the process to exit, then sends SIGTERM and waits up to killGrace, and
// finally sends SIGKILL.
func (p *Process) Shutdown(graceful bool, grace time.Duration) error {
	env, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: graceful})
	_ = p.Send(env)

	select {
	case err := <-p.Exited:
		return err
	case <-time.After(grace):
	}

	_ = p.signal(syscall.SIGTERM)
	select {
	case err := <-p.Exited:
		return err
	case <-time.After(killGrace):
	}

	return p.Kill()
}

// Kill immediately sends SIGKILL.
func (p *Process) Kill() error {
	if err := p.signal(syscall.SIGKILL); err != nil {
		return err
	}
	return <-p.Exited
}

func (p *Process) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// Close releases the channel's underlying pipes without touching the
// process; used after the process has already exited.
func (p *Process) Close() error {
	return p.channel.Close()
}
