// Package health turns process-table readings and queue depth into per-worker
// verdicts and aggregate pool metrics. Supervision keeps functioning on stale
// data when the probes fail; it never halts.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/metrics"
	"github.com/flockd/flockd/internal/queue"
	"github.com/flockd/flockd/internal/supervisor"
)

// PoolMetrics is one aggregate observation of the fleet.
type PoolMetrics struct {
	TotalWorkers   int       `json:"total_workers"`
	HealthyWorkers int       `json:"healthy_workers"`
	QueueDepth     int       `json:"queue_depth"`
	SystemCPU      float64   `json:"system_cpu"`
	SystemMem      float64   `json:"system_mem"`
	Degraded       bool      `json:"degraded"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Monitor probes active workers and the external queue on demand.
type Monitor struct {
	sup       *supervisor.Supervisor
	probe     ProcessProbe
	sysProbe  SystemProbe
	depth     queue.DepthReader
	queueName string
	cfg       config.Pool

	// last good readings, served when a probe degrades
	mu         sync.Mutex
	lastRoster []supervisor.WorkerRecord
	lastDepth  int
}

func NewMonitor(sup *supervisor.Supervisor, probe ProcessProbe, sysProbe SystemProbe, depth queue.DepthReader, queueName string, cfg config.Pool) *Monitor {
	return &Monitor{
		sup:       sup,
		probe:     probe,
		sysProbe:  sysProbe,
		depth:     depth,
		queueName: queueName,
		cfg:       cfg,
	}
}

// Snapshot probes every active worker and returns the refreshed roster. When
// the process table cannot be read at all, the previous cached roster is
// returned with degraded=true instead of failing - stale data beats a halt.
// The scan feeds metrics only; worker identity always comes from the registry.
func (m *Monitor) Snapshot() ([]supervisor.WorkerRecord, bool) {
	pids := m.sup.ActivePIDs()
	now := time.Now()
	failures := 0
	for id, pid := range pids {
		u, err := m.probe.Usage(pid)
		if err != nil {
			failures++
			continue
		}
		m.sup.UpdateHealth(id, u.CPUPercent, u.MemPercent, now)
	}
	if len(pids) > 0 && failures == len(pids) {
		slog.Warn("process table unreadable, serving cached roster", "workers", len(pids))
		m.mu.Lock()
		cached := m.lastRoster
		m.mu.Unlock()
		return cached, true
	}
	roster := m.sup.Records()
	m.mu.Lock()
	m.lastRoster = roster
	m.mu.Unlock()
	return roster, false
}

// IsHealthy applies the per-snapshot threshold verdict: a worker at or above
// either threshold is unhealthy. No hysteresis.
func IsHealthy(rec supervisor.WorkerRecord, cfg config.Pool) bool {
	if rec.CPUPercent >= cfg.HealthCPUThreshold {
		return false
	}
	if rec.MemPercent >= cfg.HealthMemThreshold {
		return false
	}
	return true
}

// AggregateMetrics combines the roster verdicts with queue depth and
// system-wide usage. Queue failures degrade to the last known depth.
func (m *Monitor) AggregateMetrics(ctx context.Context) PoolMetrics {
	roster, degraded := m.Snapshot()

	pm := PoolMetrics{Degraded: degraded, ObservedAt: time.Now()}
	for _, rec := range roster {
		if !rec.Status.Active() {
			continue
		}
		pm.TotalWorkers++
		if IsHealthy(rec, m.cfg) {
			pm.HealthyWorkers++
		}
	}

	depth, err := m.depth.GetQueueDepth(ctx, m.queueName)
	m.mu.Lock()
	if err != nil {
		slog.Warn("queue depth read failed, using last known value", "queue", m.queueName, "error", err)
		pm.QueueDepth = m.lastDepth
		pm.Degraded = true
	} else {
		pm.QueueDepth = depth
		m.lastDepth = depth
	}
	m.mu.Unlock()
	metrics.SetQueueDepth(pm.QueueDepth)

	if m.sysProbe != nil {
		if cpuPct, memPct, err := m.sysProbe.SystemUsage(); err == nil {
			pm.SystemCPU = cpuPct
			pm.SystemMem = memPct
		}
	}
	return pm
}
