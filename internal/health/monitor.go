// Package health implements the pool's health monitor: per-worker
// heartbeat tracking, missed-heartbeat/zombie detection, a bounded alert
// ring, and the rate-limited restart decision. It is a pure observer of
// timestamps — it never spawns or kills a process itself.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/logger"
)

func alertID(seq int) string {
	return fmt.Sprintf("alert-%d", seq)
}

// Config holds the monitor's configurable thresholds, with the spec's
// defaults.
type Config struct {
	HeartbeatTimeout   time.Duration // missed-heartbeat threshold, default 15s
	ZombieThreshold    time.Duration // critical threshold, default 30s
	MemoryThresholdMB  uint64        // high-memory warning threshold, default 512
	MaxRestartAttempts int           // default 3
	RestartCooldown    time.Duration // default 5s
	ScanInterval       time.Duration // default 5s
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:   15 * time.Second,
		ZombieThreshold:    30 * time.Second,
		MemoryThresholdMB:  512,
		MaxRestartAttempts: 3,
		RestartCooldown:    5 * time.Second,
		ScanInterval:       5 * time.Second,
	}
}

// Sample is one recent heartbeat's reported metrics.
type Sample struct {
	At          time.Time
	MemoryBytes uint64
	CPUUserMS   int64
	CPUSysMS    int64
}

const maxSamples = 100

type workerHealth struct {
	id                 string
	pid                int
	lastHeartbeatAt    time.Time
	healthy            bool
	consecutiveMissed  int
	restartCount       int
	lastRestartAt      time.Time
	samples            []Sample
	currentTaskID      string
}

// Severity of an Alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert records one health event for the bounded ring / event stream.
type Alert struct {
	ID        string
	Severity  Severity
	WorkerID  string
	Type      string
	Timestamp time.Time
	Details   string
}

const maxAlerts = 1000

// OverallStatus summarizes pool-wide health.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusDegraded OverallStatus = "degraded"
	StatusCritical OverallStatus = "critical"
)

// WorkerReport is the Snapshot view of one worker's health state.
type WorkerReport struct {
	ID                string
	Healthy           bool
	LastHeartbeatAt   time.Time
	ConsecutiveMissed int
	RestartCount      int
	LastRestartAt     time.Time
}

// Report is the full Snapshot of monitor state.
type Report struct {
	Workers []WorkerReport
	Alerts  []Alert
	Status  OverallStatus
}

// Monitor tracks every registered worker's liveness. Safe for concurrent
// use; RecordHeartbeat is expected to be called from the reader context
// of each worker, everything else from the dispatch/scan contexts.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	workers map[string]*workerHealth
	alerts  []Alert
	seq     int
}

// New builds an empty Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, workers: make(map[string]*workerHealth)}
}

// RegisterWorker begins tracking a worker, marking it healthy as of now.
// Registering an id that is already tracked (a same-identity restart)
// updates its pid and liveness but preserves its restart count and
// cooldown timestamp, so the restart budget survives across the restart
// it is meant to bound.
func (m *Monitor) RegisterWorker(id string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		w.pid = pid
		w.lastHeartbeatAt = time.Now().UTC()
		w.healthy = true
		w.consecutiveMissed = 0
		return
	}
	m.workers[id] = &workerHealth{id: id, pid: pid, lastHeartbeatAt: time.Now().UTC(), healthy: true}
}

// UnregisterWorker stops tracking a worker entirely (pool shutdown or
// permanent worker loss).
func (m *Monitor) UnregisterWorker(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, id)
}

// RecordHeartbeat updates liveness for a worker and resets its missed
// counter. If memory exceeds the threshold it raises a warning alert (but
// never forces a restart).
func (m *Monitor) RecordHeartbeat(id string, memBytes uint64, cpuUserMS, cpuSysMS int64, currentTaskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	w.lastHeartbeatAt = now
	w.consecutiveMissed = 0
	w.healthy = true
	w.currentTaskID = currentTaskID
	w.samples = append(w.samples, Sample{At: now, MemoryBytes: memBytes, CPUUserMS: cpuUserMS, CPUSysMS: cpuSysMS})
	if len(w.samples) > maxSamples {
		w.samples = w.samples[len(w.samples)-maxSamples:]
	}

	if m.cfg.MemoryThresholdMB > 0 && memBytes > m.cfg.MemoryThresholdMB*1024*1024 {
		m.raiseAlert(SeverityWarning, id, "high-memory", "memory exceeds threshold")
	}
}

// MarkUnhealthy flags a worker unhealthy immediately, without waiting for
// a missed-heartbeat scan to notice — used when the supervisor observes a
// crash or protocol error directly so ShouldRestart's budget/cooldown
// check applies right away.
func (m *Monitor) MarkUnhealthy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		w.healthy = false
	}
}

// ShouldRestart reports whether a worker is unhealthy, within its restart
// budget, and past its cooldown.
func (m *Monitor) ShouldRestart(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return false
	}
	if w.healthy {
		return false
	}
	if w.restartCount >= m.cfg.MaxRestartAttempts {
		return false
	}
	if !w.lastRestartAt.IsZero() && time.Since(w.lastRestartAt) < m.cfg.RestartCooldown {
		return false
	}
	return true
}

// RecordRestart increments the restart counter and stamps the time.
// RestartCount never decreases except via ResetRestartCounter.
func (m *Monitor) RecordRestart(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return
	}
	w.restartCount++
	w.lastRestartAt = time.Now().UTC()
}

// ResetRestartCounter clears a worker's restart count after it has been
// healthy continuously for the supervisor's recommended window.
func (m *Monitor) ResetRestartCounter(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		w.restartCount = 0
	}
}

// Scan evaluates every registered worker against the missed-heartbeat and
// zombie thresholds, raising alerts as needed. It returns the ids newly
// flipped to unhealthy and the ids that crossed the zombie threshold this
// call — the supervisor uses the latter to decide on a restart.
func (m *Monitor) Scan(now time.Time) (missed []string, zombies []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.workers {
		age := now.Sub(w.lastHeartbeatAt)

		if age > m.cfg.ZombieThreshold {
			zombies = append(zombies, id)
			m.raiseAlert(SeverityCritical, id, "zombie-detected", "no heartbeat within zombie threshold")
			continue
		}

		if age > m.cfg.HeartbeatTimeout {
			if w.healthy {
				w.healthy = false
				w.consecutiveMissed++
				missed = append(missed, id)
				m.raiseAlert(SeverityWarning, id, "missed-heartbeat", "heartbeat overdue")
			} else {
				w.consecutiveMissed++
			}
		}
	}
	return missed, zombies
}

// Snapshot returns a read-only view of all tracked workers and recent
// alerts, plus the overall pool-health classification.
func (m *Monitor) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]WorkerReport, 0, len(m.workers))
	healthyCount := 0
	for _, w := range m.workers {
		if w.healthy {
			healthyCount++
		}
		reports = append(reports, WorkerReport{
			ID:                w.id,
			Healthy:           w.healthy,
			LastHeartbeatAt:   w.lastHeartbeatAt,
			ConsecutiveMissed: w.consecutiveMissed,
			RestartCount:      w.restartCount,
			LastRestartAt:     w.lastRestartAt,
		})
	}

	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)

	status := m.overallStatus(healthyCount, len(m.workers))

	return Report{Workers: reports, Alerts: alerts, Status: status}
}

func (m *Monitor) overallStatus(healthy, total int) OverallStatus {
	if total == 0 {
		return StatusHealthy
	}
	ratio := float64(healthy) / float64(total)

	recentCritical := false
	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	for _, a := range m.alerts {
		if a.Severity == SeverityCritical && a.Timestamp.After(cutoff) {
			recentCritical = true
			break
		}
	}

	if ratio >= 0.8 && !recentCritical {
		return StatusHealthy
	}
	if ratio >= 0.5 {
		return StatusDegraded
	}
	return StatusCritical
}

// raiseAlert must be called with m.mu held.
func (m *Monitor) raiseAlert(sev Severity, workerID, alertType, details string) {
	m.seq++
	alert := Alert{
		ID:        alertID(m.seq),
		Severity:  sev,
		WorkerID:  workerID,
		Type:      alertType,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}

	logger.WithComponent("health").Warn().
		Str("worker_id", workerID).
		Str("alert_type", alertType).
		Str("severity", string(sev)).
		Msg(details)
}
