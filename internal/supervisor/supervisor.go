// Package supervisor implements the pool supervisor: it owns the worker
// set, the task queue, and the single dispatch loop that connects them. It
// is the one component every external surface (HTTP API, CLI, embedding
// application) talks to.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodalcore/poolsupervisor/internal/balancer"
	"github.com/nodalcore/poolsupervisor/internal/health"
	"github.com/nodalcore/poolsupervisor/internal/ipc"
	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/procworker"
	"github.com/nodalcore/poolsupervisor/internal/queue"
	"github.com/nodalcore/poolsupervisor/internal/scaler"
	"github.com/nodalcore/poolsupervisor/internal/task"
)

// killGrace bounds how long a worker being scaled down or shut down is
// given before the supervisor escalates past the protocol message.
const killGrace = 5 * time.Second

// State is the pool's own lifecycle stage.
type State int

const (
	StateNew State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateShutDown
)

var (
	ErrAlreadyInitialized = errors.New("supervisor: already initialized")
	ErrPoolShutDown       = errors.New("supervisor: pool-shut-down")
	ErrQueueFull          = errors.New("supervisor: queue-full")
)

// WorkerSnapshot is the read-only view of one worker returned by
// WorkerStatus/AllWorkers.
type WorkerSnapshot struct {
	ID            string
	Status        string
	PID           int
	TasksExecuted int
	CurrentTaskID string
}

// QueueStats mirrors queue.Stats with the averages PoolMetrics adds.
type QueueStats struct {
	Depth        int
	AvgWaitMS    float64
	AvgRunMS     float64
	OldestTaskMS int64
}

// Metrics is the pool-wide snapshot returned by PoolMetrics.
type Metrics struct {
	Submitted      int
	Completed      int
	Failed         int
	Queued         int
	DLQSize        int
	WorkersSpawned int
	ReuseRate      float64
	Queue          QueueStats
	Health         health.Report
}

// Supervisor owns the worker pool and its dispatch loop.
type Supervisor struct {
	cfg     Config
	spawner Spawner

	q        *queue.Queue
	health   *health.Monitor
	balancer balancer.Balancer
	sink     Sink

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	workers     map[string]*workerHandle
	submissions map[string]*Future

	wakeCh chan struct{}

	workersSpawned int
	submitted      int
	completed      int
	failed         int
	waitSumMS      int64
	waitCount      int64
	runSumMS       int64
	runCount       int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scaler *scaler.Scaler
}

// New builds a Supervisor. sink may be nil (events are discarded).
func New(cfg Config, sink Sink) *Supervisor {
	if sink == nil {
		sink = noopSink{}
	}
	policy := &task.RetryPolicy{
		InitialBackoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		BackoffFactor:  2.0,
		JitterFactor:   0.1,
	}
	hcfg := health.Config{
		HeartbeatTimeout:   time.Duration(cfg.HeartbeatTimeoutMS) * time.Millisecond,
		ZombieThreshold:    time.Duration(cfg.ZombieThresholdMS) * time.Millisecond,
		MemoryThresholdMB:  cfg.WorkerMemoryThresholdMB,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		RestartCooldown:    time.Duration(cfg.RestartCooldownMS) * time.Millisecond,
		ScanInterval:       5 * time.Second,
	}

	s := &Supervisor{
		cfg:         cfg,
		spawner:     defaultSpawner{},
		q:           queue.New(policy),
		health:      health.New(hcfg),
		balancer:    balancer.New(cfg.LoadBalancing),
		sink:        sink,
		state:       StateNew,
		workers:     make(map[string]*workerHandle),
		submissions: make(map[string]*Future),
		wakeCh:      make(chan struct{}, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// WithSpawner overrides the process spawner; used by tests.
func (s *Supervisor) WithSpawner(sp Spawner) *Supervisor {
	s.spawner = sp
	return s
}

// Initialize spawns pool_size workers, waiting for each worker-ready, then
// starts the dispatch loop.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNew {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.state = StateInitializing
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.PoolSize; i++ {
		if _, err := s.spawnWorker(""); err != nil {
			return fmt.Errorf("supervisor: initialize: %w", err)
		}
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.sink.Publish(Event{Type: EventPoolInitialized, Detail: map[string]interface{}{"workers": s.cfg.PoolSize}})

	s.wg.Add(1)
	go s.dispatchLoop()

	if s.cfg.AutoScale {
		scfg := scaler.Config{
			ScaleUpQueueThreshold:  s.cfg.ScaleUpQueueThreshold,
			ScaleDownIdleThreshold: s.cfg.ScaleDownIdleThreshold,
			ScaleUpStep:            s.cfg.ScaleStep,
			ScaleDownStep:          s.cfg.ScaleStep,
			Interval:               time.Duration(s.cfg.ScaleIntervalMS) * time.Millisecond,
			MinWorkers:             s.cfg.MinWorkers,
			MaxWorkers:             s.cfg.MaxWorkers,
		}
		s.scaler = scaler.New(scfg, scalerPool{sup: s})
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.scaler.Run(s.ctx) }()
	}

	return nil
}

// spawnWorker starts a new child process. If id is empty a fresh id is
// generated; a non-empty id is used to replace a crashed worker under the
// same identity.
func (s *Supervisor) spawnWorker(id string) (*workerHandle, error) {
	if id == "" {
		id = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	wcfg := procworker.Config{
		WorkerID:            id,
		HeartbeatIntervalMS: s.cfg.HeartbeatIntervalMS,
		MemoryThresholdMB:   s.cfg.WorkerMemoryThresholdMB,
	}
	proc, err := s.spawner.Spawn(s.ctx, s.cfg.BinaryPath, id, wcfg)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	wh := newWorkerHandle(id, proc)

	s.mu.Lock()
	s.workers[id] = wh
	s.workersSpawned++
	s.mu.Unlock()

	s.health.RegisterWorker(id, proc.PID())

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.readLoop(wh) }()

	select {
	case <-wh.readyCh:
	case <-time.After(s.cfg.WorkerReadyTimeout):
		return nil, fmt.Errorf("worker %s: timed out waiting for worker-ready", id)
	}

	return wh, nil
}

func (s *Supervisor) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// dispatchLoop is the single logical control path described in §5: it
// assigns queued tasks to ready workers whenever something changes, sweeps
// due retries, and runs the periodic health scan.
func (s *Supervisor) dispatchLoop() {
	defer s.wg.Done()

	healthTicker := time.NewTicker(5 * time.Second)
	defer healthTicker.Stop()

	timeoutTicker := time.NewTicker(5 * time.Second)
	defer timeoutTicker.Stop()

	retryTimer := time.NewTimer(time.Hour)
	defer retryTimer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wakeCh:
			s.dispatchOnce()
		case <-retryTimer.C:
			s.promoteRetries()
			s.dispatchOnce()
		case <-healthTicker.C:
			s.scanHealth()
		case <-timeoutTicker.C:
			s.checkTaskTimeouts()
		}
		s.resetRetryTimer(retryTimer)
	}
}

func (s *Supervisor) resetRetryTimer(timer *time.Timer) {
	due, ok := s.q.NextRetryDue()
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if !ok {
		timer.Reset(time.Hour)
		return
	}
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (s *Supervisor) promoteRetries() {
	for _, id := range s.q.PromoteDueRetries(time.Now().UTC()) {
		s.sink.Publish(Event{Type: EventTaskDequeued, TaskID: id, Detail: map[string]interface{}{"promoted": true}})
	}
}

// dispatchOnce assigns as many ready tasks to ready workers as it can in
// one pass.
func (s *Supervisor) dispatchOnce() {
	for {
		s.mu.Lock()
		if s.state != StateRunning || s.q.Len() == 0 {
			s.mu.Unlock()
			return
		}

		candidates := make([]balancer.Candidate, 0, len(s.workers))
		for _, wh := range s.workers {
			if wh.status == workerReady {
				candidates = append(candidates, balancer.Candidate{ID: wh.id, TasksExecuted: wh.tasksExecuted})
			}
		}
		if len(candidates) == 0 {
			s.mu.Unlock()
			return
		}

		pickedID, ok := s.balancer.Pick(candidates)
		if !ok {
			s.mu.Unlock()
			return
		}
		wh := s.workers[pickedID]
		s.mu.Unlock()

		t := s.q.Dequeue()
		if t == nil {
			return
		}
		t.WorkerID = wh.id

		env, err := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{
			TaskID:    t.ID,
			Type:      t.Type,
			Payload:   t.Payload,
			TimeoutMS: t.Timeout.Milliseconds(),
		})
		if err != nil {
			s.q.FailTask(t.ID, "failed to encode task for dispatch")
			continue
		}

		s.mu.Lock()
		wh.status = workerBusy
		wh.currentTaskID = t.ID
		s.mu.Unlock()

		if err := wh.proc.Send(env); err != nil {
			logger.WithComponent("supervisor").Warn().Str("worker_id", wh.id).Err(err).Msg("failed to send execute-task, treating as crash")
			go s.handleWorkerCrash(wh, "send failed: "+err.Error())
			continue
		}

		s.sink.Publish(Event{Type: EventTaskDequeued, WorkerID: wh.id, TaskID: t.ID})
	}
}

func (s *Supervisor) readLoop(wh *workerHandle) {
	for {
		select {
		case env, ok := <-wh.proc.Events():
			if !ok {
				s.handleWorkerExit(wh)
				return
			}
			s.handleWorkerEvent(wh, env)
		case err := <-wh.proc.Exited():
			_ = err
			s.handleWorkerExit(wh)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleWorkerEvent(wh *workerHandle, env ipc.Envelope) {
	switch env.Type {
	case ipc.TypeWorkerReady:
		s.mu.Lock()
		wh.status = workerReady
		s.mu.Unlock()
		wh.markReady()
		s.sink.Publish(Event{Type: EventWorkerReady, WorkerID: wh.id})
		s.wake()

	case ipc.TypeHeartbeat:
		var hb ipc.Heartbeat
		if err := ipc.Unpack(env, &hb); err != nil {
			return
		}
		s.health.RecordHeartbeat(wh.id, hb.MemoryBytes, hb.CPUUserMS, hb.CPUSysMS, hb.CurrentTaskID)

	case ipc.TypeTaskComplete:
		var tc ipc.TaskComplete
		if err := ipc.Unpack(env, &tc); err != nil {
			return
		}
		s.completeTask(wh, tc)

	case ipc.TypeTaskFailed:
		var tf ipc.TaskFailed
		if err := ipc.Unpack(env, &tf); err != nil {
			return
		}
		s.failTask(wh, tf)

	case ipc.TypeHighMemoryWarning:
		s.sink.Publish(Event{Type: EventWorkerError, WorkerID: wh.id, Detail: map[string]interface{}{"reason": "high-memory"}})
		if s.cfg.RestartOnMemory {
			go s.handleWorkerCrash(wh, "memory threshold exceeded")
		}

	case ipc.TypeWorkerError:
		var we ipc.WorkerError
		_ = ipc.Unpack(env, &we)
		if we.Fatal {
			go s.handleWorkerCrash(wh, we.Error)
		}

	case ipc.TypeWorkerLog:
		var wl ipc.WorkerLog
		if err := ipc.Unpack(env, &wl); err == nil {
			logger.WithWorker(wh.id).Info().Str("level", wl.Level).Msg(wl.Message)
		}

	case ipc.TypeWorkerShutdown:
		// The process is about to exit on its own; Events()/Exited() will
		// observe that shortly and finish the teardown.
	}
}

func (s *Supervisor) completeTask(wh *workerHandle, tc ipc.TaskComplete) {
	s.mu.Lock()
	fut, ok := s.submissions[tc.TaskID]
	if !ok {
		s.mu.Unlock()
		logger.WithComponent("supervisor").Warn().Str("task_id", tc.TaskID).Msg("task-complete for unknown submission")
		return
	}
	delete(s.submissions, tc.TaskID)
	snap, hadSnap := s.q.Snapshot(tc.TaskID)
	s.q.CompleteTask(tc.TaskID, tc.Result)
	wh.status = workerReady
	wh.currentTaskID = ""
	wh.tasksExecuted++
	s.completed++
	if hadSnap && snap.DequeuedAt != nil {
		s.waitSumMS += snap.DequeuedAt.Sub(snap.EnqueuedAt).Milliseconds()
		s.waitCount++
		s.runSumMS += time.Since(*snap.DequeuedAt).Milliseconds()
		s.runCount++
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	fut.resolve(tc.Result, nil)
	s.sink.Publish(Event{Type: EventTaskCompleted, WorkerID: wh.id, TaskID: tc.TaskID})
	s.wake()
}

func (s *Supervisor) failTask(wh *workerHandle, tf ipc.TaskFailed) {
	s.mu.Lock()
	fut, ok := s.submissions[tf.TaskID]
	if !ok {
		s.mu.Unlock()
		logger.WithComponent("supervisor").Warn().Str("task_id", tf.TaskID).Msg("task-failed for unknown submission")
		return
	}
	result := s.q.FailTask(tf.TaskID, tf.Error.Message)
	wh.status = workerReady
	wh.currentTaskID = ""
	wh.tasksExecuted++

	resolved := !result.Retried
	if resolved {
		delete(s.submissions, tf.TaskID)
		s.failed++
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if resolved {
		fut.resolve(nil, &TaskError{Kind: tf.Error.Kind, Message: tf.Error.Message})
		s.sink.Publish(Event{Type: EventTaskFailed, WorkerID: wh.id, TaskID: tf.TaskID})
	} else {
		s.sink.Publish(Event{Type: EventTaskRetryScheduled, WorkerID: wh.id, TaskID: tf.TaskID, Detail: map[string]interface{}{"retry_at": result.RetryAt}})
	}
	s.wake()
}

// handleWorkerExit runs when a worker's channel closes or its process
// exits while the worker is still tracked in the pool; it is handled as a
// crash whether or not the worker sent worker-shutdown first.
func (s *Supervisor) handleWorkerExit(wh *workerHandle) {
	s.mu.Lock()
	if s.workers[wh.id] != wh {
		s.mu.Unlock()
		return // already handled (e.g. by a concurrent fatal worker-error)
	}
	s.mu.Unlock()
	s.handleWorkerCrash(wh, "worker process exited unexpectedly")
}

// handleWorkerCrash fails any in-flight task as worker-crashed, then
// consults the health monitor to decide between a same-identity restart
// and permanent capacity loss.
func (s *Supervisor) handleWorkerCrash(wh *workerHandle, reason string) {
	s.mu.Lock()
	if s.workers[wh.id] != wh {
		s.mu.Unlock()
		return
	}
	shuttingDown := s.state == StateShuttingDown || s.state == StateShutDown
	taskID := wh.currentTaskID
	delete(s.workers, wh.id)
	s.mu.Unlock()

	if shuttingDown {
		// Exits observed while the pool itself is tearing down are
		// expected (we just told every worker to shut down) — no
		// replacement, no task failure; Shutdown resolves the submission
		// with pool-shut-down.
		s.health.UnregisterWorker(wh.id)
		return
	}

	if taskID != "" {
		result := s.q.FailTask(taskID, reason)
		s.mu.Lock()
		fut, ok := s.submissions[taskID]
		resolved := ok && !result.Retried
		if resolved {
			delete(s.submissions, taskID)
			s.failed++
		}
		s.mu.Unlock()
		if ok {
			if resolved {
				fut.resolve(nil, &TaskError{Kind: ipc.ErrKindWorkerCrashed, Message: reason})
				s.sink.Publish(Event{Type: EventTaskFailed, WorkerID: wh.id, TaskID: taskID})
			} else {
				s.sink.Publish(Event{Type: EventTaskRetryScheduled, WorkerID: wh.id, TaskID: taskID})
			}
		}
	}

	s.sink.Publish(Event{Type: EventWorkerError, WorkerID: wh.id, Detail: map[string]interface{}{"reason": reason}})

	s.health.MarkUnhealthy(wh.id)
	restart := s.cfg.AutoRestart && s.health.ShouldRestart(wh.id)
	if restart {
		s.health.RecordRestart(wh.id)
		if _, err := s.spawnWorker(wh.id); err != nil {
			logger.WithComponent("supervisor").Error().Err(err).Str("worker_id", wh.id).Msg("failed to respawn worker")
			s.health.UnregisterWorker(wh.id)
			s.sink.Publish(Event{Type: EventWorkerExited, WorkerID: wh.id})
		}
	} else {
		s.health.UnregisterWorker(wh.id)
		s.sink.Publish(Event{Type: EventWorkerExited, WorkerID: wh.id})
	}

	s.wake()
}

// checkTaskTimeouts sweeps the queue for dequeued tasks whose deadline has
// passed without a task-complete/task-failed report from their worker —
// the supervisor-side backstop for a hung handler or a lost IPC message
// (spec §4.2: "the caller (supervisor) decides whether to also FailTask
// them (it does)").
func (s *Supervisor) checkTaskTimeouts() {
	for _, id := range s.q.CheckTimeouts(time.Now().UTC()) {
		s.timeoutTask(id)
	}
}

// timeoutTask fails a single timed-out task and releases the worker
// bookkeeping for it, the same way failTask does for a reported
// task-failed message.
func (s *Supervisor) timeoutTask(id string) {
	s.mu.Lock()
	fut, ok := s.submissions[id]
	var wh *workerHandle
	for _, h := range s.workers {
		if h.currentTaskID == id {
			wh = h
			break
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	result := s.q.FailTask(id, "task-timeout")

	s.mu.Lock()
	if wh != nil {
		wh.status = workerReady
		wh.currentTaskID = ""
		wh.tasksExecuted++
	}
	resolved := !result.Retried
	if resolved {
		delete(s.submissions, id)
		s.failed++
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	workerID := ""
	if wh != nil {
		workerID = wh.id
	}
	if resolved {
		fut.resolve(nil, &TaskError{Kind: ipc.ErrKindTaskTimeout, Message: "task exceeded its timeout"})
		s.sink.Publish(Event{Type: EventTaskFailed, WorkerID: workerID, TaskID: id})
	} else {
		s.sink.Publish(Event{Type: EventTaskRetryScheduled, WorkerID: workerID, TaskID: id})
	}
	s.wake()
}

func (s *Supervisor) scanHealth() {
	missed, zombies := s.health.Scan(time.Now().UTC())
	for _, id := range missed {
		s.sink.Publish(Event{Type: EventMissedHeartbeat, WorkerID: id})
	}
	for _, id := range zombies {
		s.sink.Publish(Event{Type: EventZombieDetected, WorkerID: id})
		s.mu.Lock()
		wh, ok := s.workers[id]
		s.mu.Unlock()
		if ok {
			_ = wh.proc.Kill()
			go s.handleWorkerCrash(wh, "zombie-detected")
		}
	}
}

// Submit validates, enqueues, and wakes the dispatch loop, returning a
// completion handle. cancel, if non-nil, removes the task from the queue
// (or discards its eventual result) when closed.
func (s *Supervisor) Submit(taskType string, payload []byte, priority int, timeout time.Duration, cancel <-chan struct{}) (*Future, error) {
	s.mu.Lock()
	if s.state == StateShuttingDown || s.state == StateShutDown {
		s.mu.Unlock()
		return nil, ErrPoolShutDown
	}

	for s.depthLocked() >= s.cfg.MaxQueueDepth {
		if s.cfg.SubmitOnOverflow == OverflowReject {
			s.mu.Unlock()
			return nil, ErrQueueFull
		}
		if s.state == StateShuttingDown || s.state == StateShutDown {
			s.mu.Unlock()
			return nil, ErrPoolShutDown
		}
		s.cond.Wait()
	}

	t := task.New(taskType, payload, priority, timeout)
	t.MaxRetries = s.cfg.MaxTaskRetries
	fut := newFuture(t.ID)
	s.submissions[t.ID] = fut
	s.submitted++
	s.mu.Unlock()

	s.q.Enqueue(t)
	s.sink.Publish(Event{Type: EventTaskSubmitted, TaskID: t.ID})
	s.wake()

	if cancel != nil {
		go s.watchCancellation(t.ID, fut, cancel)
	}

	return fut, nil
}

func (s *Supervisor) depthLocked() int {
	return len(s.submissions)
}

func (s *Supervisor) watchCancellation(taskID string, fut *Future, cancel <-chan struct{}) {
	select {
	case <-cancel:
	case <-fut.Done():
		return
	}

	if s.q.Remove(taskID) {
		s.mu.Lock()
		delete(s.submissions, taskID)
		s.cond.Broadcast()
		s.mu.Unlock()
		fut.resolve(nil, &TaskError{Kind: ipc.ErrKindCancelled, Message: "cancelled before dispatch"})
		return
	}

	// Already dequeued (or terminal): let it run to completion on the
	// worker but discard the eventual outcome.
	s.mu.Lock()
	_, stillTracked := s.submissions[taskID]
	if stillTracked {
		delete(s.submissions, taskID)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	if stillTracked {
		s.q.Discard(taskID)
		fut.resolve(nil, &TaskError{Kind: ipc.ErrKindCancelled, Message: "cancelled after dispatch"})
	}
}

// WorkerStatus returns a snapshot of one worker, or false if unknown.
func (s *Supervisor) WorkerStatus(id string) (WorkerSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.workers[id]
	if !ok {
		return WorkerSnapshot{}, false
	}
	return WorkerSnapshot{
		ID:            wh.id,
		Status:        wh.status.String(),
		PID:           wh.proc.PID(),
		TasksExecuted: wh.tasksExecuted,
		CurrentTaskID: wh.currentTaskID,
	}, true
}

// AllWorkers returns a snapshot of every currently tracked worker.
func (s *Supervisor) AllWorkers() []WorkerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerSnapshot, 0, len(s.workers))
	for _, wh := range s.workers {
		out = append(out, WorkerSnapshot{
			ID:            wh.id,
			Status:        wh.status.String(),
			PID:           wh.proc.PID(),
			TasksExecuted: wh.tasksExecuted,
			CurrentTaskID: wh.currentTaskID,
		})
	}
	return out
}

// CancelTask removes a not-yet-dispatched task from the queue and
// resolves its future with a cancelled error. It reports false if the
// task is unknown or has already been dequeued to a worker (tasks already
// running are left to complete — there is no in-flight preemption).
func (s *Supervisor) CancelTask(id string) bool {
	if !s.q.Remove(id) {
		return false
	}

	s.mu.Lock()
	fut, ok := s.submissions[id]
	if ok {
		delete(s.submissions, id)
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if ok {
		fut.resolve(nil, &TaskError{Kind: ipc.ErrKindCancelled, Message: "cancelled before dispatch"})
	}
	return true
}

// DLQ exposes the pool's dead-letter queue for admin inspection and retry.
func (s *Supervisor) DLQ() *queue.DLQ {
	return s.q.DLQ()
}

// RequeueFromDLQ moves a dead-lettered task back onto the live queue and
// wakes the dispatch loop.
func (s *Supervisor) RequeueFromDLQ(id string) (*task.Task, bool) {
	t, ok := s.q.RequeueFromDLQ(id)
	if ok {
		s.wake()
	}
	return t, ok
}

// TaskStatus returns a task's current snapshot by id. It covers queued,
// retry-pending, dequeued/in-flight, and recently-terminal tasks (terminal
// snapshots are retained for a short grace window after completion);
// false means the id is unknown or its snapshot has already aged out.
func (s *Supervisor) TaskStatus(id string) (task.Snapshot, bool) {
	return s.q.Snapshot(id)
}

// PoolMetrics returns counters, reuse rate, and queue/health summaries.
func (s *Supervisor) PoolMetrics() Metrics {
	qstats := s.q.Stats()

	s.mu.Lock()
	m := Metrics{
		Submitted:      s.submitted,
		Completed:      s.completed,
		Failed:         s.failed,
		Queued:         qstats.Queued,
		DLQSize:        qstats.DLQSize,
		WorkersSpawned: s.workersSpawned,
	}
	if s.workersSpawned > 0 {
		m.ReuseRate = float64(s.completed) / float64(s.workersSpawned)
	}
	m.Queue = QueueStats{
		Depth:        qstats.Queued,
		OldestTaskMS: qstats.OldestAge.Milliseconds(),
	}
	if s.waitCount > 0 {
		m.Queue.AvgWaitMS = float64(s.waitSumMS) / float64(s.waitCount)
	}
	if s.runCount > 0 {
		m.Queue.AvgRunMS = float64(s.runSumMS) / float64(s.runCount)
	}
	s.mu.Unlock()

	m.Health = s.health.Snapshot()
	return m
}

// ScaleUp spawns up to n additional workers, clamped to max_workers.
func (s *Supervisor) ScaleUp(n int) error {
	s.mu.Lock()
	total := len(s.workers)
	if total+n > s.cfg.MaxWorkers {
		n = s.cfg.MaxWorkers - total
	}
	s.mu.Unlock()
	if n <= 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		if _, err := s.spawnWorker(""); err != nil {
			return err
		}
	}
	s.sink.Publish(Event{Type: EventPoolScaledUp, Detail: map[string]interface{}{"by": n}})
	s.wake()
	return nil
}

// ScaleDown stops up to n idle workers, clamped to min_workers. Busy
// workers are never targeted.
func (s *Supervisor) ScaleDown(n int) error {
	s.mu.Lock()
	total := len(s.workers)
	if total-n < s.cfg.MinWorkers {
		n = total - s.cfg.MinWorkers
	}
	if n <= 0 {
		s.mu.Unlock()
		return nil
	}

	idle := make([]*workerHandle, 0, n)
	for _, wh := range s.workers {
		if wh.status == workerReady {
			idle = append(idle, wh)
			if len(idle) == n {
				break
			}
		}
	}
	for _, wh := range idle {
		delete(s.workers, wh.id)
	}
	s.mu.Unlock()

	for _, wh := range idle {
		s.health.UnregisterWorker(wh.id)
		_ = wh.proc.Shutdown(true, killGrace)
	}
	s.sink.Publish(Event{Type: EventPoolScaledDown, Detail: map[string]interface{}{"by": len(idle)}})
	return nil
}

// scalerPool adapts a Supervisor to scaler.Pool: it derives the
// busy/total worker counts the scaler's policy needs from AllWorkers,
// since PoolMetrics reports aggregate counters rather than per-worker
// status.
type scalerPool struct {
	sup *Supervisor
}

func (p scalerPool) Metrics() scaler.Metrics {
	workers := p.sup.AllWorkers()
	m := scaler.Metrics{TotalWorkers: len(workers)}
	for _, w := range workers {
		if w.Status == workerBusy.String() {
			m.BusyWorkers++
		}
	}
	m.Queued = p.sup.PoolMetrics().Queue.Depth
	return m
}

func (p scalerPool) ScaleUp(n int) error   { return p.sup.ScaleUp(n) }
func (p scalerPool) ScaleDown(n int) error { return p.sup.ScaleDown(n) }

// Shutdown stops accepting submissions, optionally waits for in-flight
// tasks to drain, sends shutdown to every worker, and reaps them.
func (s *Supervisor) Shutdown(graceful bool) error {
	s.mu.Lock()
	if s.state == StateShutDown || s.state == StateShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.cond.Broadcast()
	workers := make([]*workerHandle, 0, len(s.workers))
	for _, wh := range s.workers {
		workers = append(workers, wh)
	}
	s.mu.Unlock()

	if graceful {
		deadline := time.Now().Add(time.Duration(s.cfg.ShutdownGraceMS) * time.Millisecond)
		for s.inFlightCount() > 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}

	s.mu.Lock()
	for id, fut := range s.submissions {
		fut.resolve(nil, &TaskError{Kind: ipc.ErrKindPoolShutDown, Message: "pool shut down"})
		delete(s.submissions, id)
	}
	s.state = StateShutDown
	s.cond.Broadcast()
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, wh := range workers {
		wg.Add(1)
		go func(wh *workerHandle) {
			defer wg.Done()
			_ = wh.proc.Shutdown(graceful, killGrace)
		}(wh)
	}
	wg.Wait()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.sink.Publish(Event{Type: EventPoolShutdown})
	return nil
}

func (s *Supervisor) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, wh := range s.workers {
		if wh.status == workerBusy {
			n++
		}
	}
	return n
}
