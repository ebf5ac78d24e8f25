// Package scaler drives the worker pool toward the load implied by queue
// backlog. It is a single timer-driven loop; every scale action is isolated,
// so one worker's failure never aborts a cycle.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/health"
	"github.com/flockd/flockd/internal/metrics"
	"github.com/flockd/flockd/internal/store"
	"github.com/flockd/flockd/internal/supervisor"
)

// SystemState is the coarse pool condition driven by aggregate metrics.
type SystemState string

const (
	StateNormal  SystemState = "normal"
	StateWarning SystemState = "warning"
)

// healthyRatioFloor is the healthy-worker ratio below which the pool enters
// the Warning state.
const healthyRatioFloor = 0.8

// Action is the direction of a scale decision.
type Action int

const (
	NoAction Action = iota
	ScaleUp
	ScaleDown
)

func (a Action) String() string {
	switch a {
	case ScaleUp:
		return "up"
	case ScaleDown:
		return "down"
	}
	return "none"
}

// ScaleDecision carries the direction and magnitude of one evaluation.
type ScaleDecision struct {
	Action Action
	N      int
	Target int
}

// AutoScaler periodically reads pool metrics and applies the delta between
// current and desired worker counts through the supervisor.
type AutoScaler struct {
	cfg config.Pool
	sup *supervisor.Supervisor
	mon *health.Monitor

	mu      sync.Mutex
	state   SystemState
	onEvent func(store.Event)
}

func New(cfg config.Pool, sup *supervisor.Supervisor, mon *health.Monitor) *AutoScaler {
	return &AutoScaler{cfg: cfg, sup: sup, mon: mon, state: StateNormal}
}

// SetEventSink installs an optional callback for persisted scale decisions.
func (a *AutoScaler) SetEventSink(fn func(store.Event)) {
	a.mu.Lock()
	a.onEvent = fn
	a.mu.Unlock()
}

// State returns the current system state.
func (a *AutoScaler) State() SystemState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Evaluate computes the desired worker count from queue depth divided by the
// tasks-per-worker ratio, clamped to the pool bounds, and returns the delta
// against the current count.
func (a *AutoScaler) Evaluate(m health.PoolMetrics, cfg config.Pool) ScaleDecision {
	target := m.QueueDepth / cfg.TasksPerWorker
	if target < cfg.MinWorkers {
		target = cfg.MinWorkers
	}
	if target > cfg.MaxWorkers {
		target = cfg.MaxWorkers
	}
	current := m.TotalWorkers
	switch {
	case target > current:
		return ScaleDecision{Action: ScaleUp, N: target - current, Target: target}
	case target < current:
		return ScaleDecision{Action: ScaleDown, N: current - target, Target: target}
	}
	return ScaleDecision{Action: NoAction, Target: target}
}

// updateState enters Warning when the healthy ratio drops below the floor or
// the backlog exceeds the threshold. It returns to Normal after a single
// clean evaluation cycle; rapid flapping under noisy metrics is accepted
// documented behavior, not something this loop debounces.
func (a *AutoScaler) updateState(m health.PoolMetrics) SystemState {
	ratio := 1.0
	if m.TotalWorkers > 0 {
		ratio = float64(m.HealthyWorkers) / float64(m.TotalWorkers)
	}
	next := StateNormal
	if ratio < healthyRatioFloor || m.QueueDepth > a.cfg.BacklogThreshold {
		next = StateWarning
	}
	a.mu.Lock()
	prev := a.state
	a.state = next
	a.mu.Unlock()
	if prev != next {
		slog.Info("system state changed", "from", prev, "to", next,
			"healthy_ratio", ratio, "queue_depth", m.QueueDepth)
	}
	return next
}

// Apply executes one decision sequentially so two loops never race over the
// same worker ID. Each action is isolated: failures are logged and the rest
// of the decision proceeds.
func (a *AutoScaler) Apply(d ScaleDecision) {
	metrics.IncScaleDecision(d.Action.String())
	switch d.Action {
	case ScaleUp:
		if err := a.sup.StartWorkers(d.N); err != nil {
			slog.Warn("scale-up incomplete", "wanted", d.N, "error", err)
		}
		a.emit(store.EventScaleUp, d)
	case ScaleDown:
		if err := a.sup.StopWorkers(d.N); err != nil {
			slog.Warn("scale-down incomplete", "wanted", d.N, "error", err)
		}
		a.emit(store.EventScaleDown, d)
	}
}

func (a *AutoScaler) emit(kind string, d ScaleDecision) {
	a.mu.Lock()
	fn := a.onEvent
	a.mu.Unlock()
	if fn != nil {
		fn(store.Event{
			Kind:       kind,
			Detail:     fmt.Sprintf("n=%d target=%d", d.N, d.Target),
			OccurredAt: time.Now().UTC(),
		})
	}
}

// Run is the fixed-interval supervision loop. It blocks until ctx is
// canceled. Evaluation failures degrade; only ctx stops the loop.
func (a *AutoScaler) Run(ctx context.Context) {
	t := time.NewTicker(a.cfg.CheckInterval)
	defer t.Stop()
	slog.Info("autoscaler started",
		"interval", a.cfg.CheckInterval,
		"min_workers", a.cfg.MinWorkers,
		"max_workers", a.cfg.MaxWorkers)
	for {
		select {
		case <-ctx.Done():
			slog.Info("autoscaler stopped")
			return
		case <-t.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single evaluation cycle.
func (a *AutoScaler) RunOnce(ctx context.Context) {
	m := a.mon.AggregateMetrics(ctx)
	state := a.updateState(m)
	d := a.Evaluate(m, a.cfg)
	slog.Debug("evaluation cycle",
		"state", state,
		"workers", m.TotalWorkers,
		"healthy", m.HealthyWorkers,
		"queue_depth", m.QueueDepth,
		"decision", d.Action.String(),
		"n", d.N)
	a.Apply(d)
}
