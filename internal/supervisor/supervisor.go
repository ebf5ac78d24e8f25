// Package supervisor owns the worker registry and drives worker OS processes
// through their lifecycle. Identity lives in the registry, populated at Start
// time; process-table scans are for metrics only.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/logger"
	"github.com/flockd/flockd/internal/metrics"
	"github.com/flockd/flockd/internal/proc"
	"github.com/flockd/flockd/internal/store"
)

// gracefulPollStep is the fixed cadence used while waiting for voluntary
// exit. Shutdown latency is expected short and bounded, so no backoff.
const gracefulPollStep = time.Second

// startProbeStep paces liveness checks during the start delay window.
const startProbeStep = 10 * time.Millisecond

type entry struct {
	rec           WorkerRecord
	handle        *proc.Handle
	stopRequested bool
}

// Supervisor starts, stops, and restarts named workers. All registry
// mutation happens under mu; process waits happen outside it.
type Supervisor struct {
	mu      sync.Mutex
	cfg     config.Pool
	logCfg  logger.Config
	workers map[string]*entry
	onEvent func(store.Event)
}

func New(cfg config.Pool, logCfg logger.Config) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		logCfg:  logCfg,
		workers: make(map[string]*entry),
	}
}

// SetEventSink installs an optional callback receiving lifecycle events,
// typically wired to the persistence store.
func (s *Supervisor) SetEventSink(fn func(store.Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

func (s *Supervisor) emit(e store.Event) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		e.OccurredAt = time.Now().UTC()
		fn(e)
	}
}

// NewWorkerID mints a synthetic worker ID for scale-up starts.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// Start launches a worker process with workerID as its single positional
// argument, registers it as Starting, then holds the caller for the start
// delay so the process can bind its resources. The worker must still be
// alive at the end of the window to be marked Running.
func (s *Supervisor) Start(workerID string) (WorkerRecord, error) {
	s.mu.Lock()
	if e, ok := s.workers[workerID]; ok && e.rec.Status.Active() {
		rec := e.rec
		s.mu.Unlock()
		return rec, nil
	}
	if s.activeCountLocked() >= s.cfg.MaxWorkers {
		s.mu.Unlock()
		return WorkerRecord{}, ErrPoolAtCapacity
	}
	// Reserve the slot before the fork so concurrent starts cannot
	// overshoot maxWorkers.
	rec := WorkerRecord{ID: workerID, Status: StatusStarting, StartedAt: time.Now()}
	e := &entry{rec: rec}
	s.workers[workerID] = e
	s.mu.Unlock()

	outW, errW := s.logCfg.WorkerWriters(workerID)
	h, err := proc.Start(s.cfg.WorkerCommand, workerID, outW, errW)
	if err != nil {
		s.mu.Lock()
		delete(s.workers, workerID)
		s.mu.Unlock()
		return WorkerRecord{}, &SpawnError{WorkerID: workerID, Err: err}
	}

	s.mu.Lock()
	e.handle = h
	e.rec.PID = h.PID()
	s.mu.Unlock()
	go s.watch(workerID, h)

	if err := s.enforceStartDelay(h); err != nil {
		// Exit inside the window is confirmed death; drop the entry so
		// crash loops cannot grow the registry. The reap watcher may
		// have beaten us to it, in which case it owns the bookkeeping.
		s.mu.Lock()
		mine := s.workers[workerID] == e
		if mine {
			e.rec.Status = StatusFailed
			delete(s.workers, workerID)
		}
		rec = e.rec
		running := s.activeCountLocked()
		s.mu.Unlock()
		if mine {
			metrics.SetWorkersRunning(running)
			metrics.DropWorkerUsage(workerID)
			s.emit(store.Event{Kind: store.EventFailed, WorkerID: workerID, PID: rec.PID, Detail: err.Error()})
		}
		return rec, &SpawnError{WorkerID: workerID, Err: err}
	}

	s.mu.Lock()
	e.rec.Status = StatusRunning
	rec = e.rec
	running := s.activeCountLocked()
	s.mu.Unlock()
	metrics.IncStart(workerID)
	metrics.SetWorkersRunning(running)
	s.emit(store.Event{Kind: store.EventStart, WorkerID: workerID, PID: rec.PID})
	slog.Info("worker started", "id", workerID, "pid", rec.PID)
	return rec, nil
}

// enforceStartDelay keeps the caller suspended for the configured start
// delay and fails if the process dies inside the window.
func (s *Supervisor) enforceStartDelay(h *proc.Handle) error {
	deadline := time.Now().Add(s.cfg.StartDelay)
	for time.Now().Before(deadline) {
		if !h.Alive() {
			err := h.ExitErr()
			if err == nil {
				err = fmt.Errorf("exited during start delay")
			}
			return err
		}
		time.Sleep(startProbeStep)
	}
	if !h.Alive() {
		err := h.ExitErr()
		if err == nil {
			err = fmt.Errorf("exited during start delay")
		}
		return err
	}
	return nil
}

// watch handles workers that die without a stop request: the exit is
// confirmed by the reaper, so the dead entry is removed outright rather
// than retained as Failed, keeping the registry bounded under crash loops.
// The persisted failure event is the durable trail.
func (s *Supervisor) watch(workerID string, h *proc.Handle) {
	<-h.Done()
	s.mu.Lock()
	e, ok := s.workers[workerID]
	if !ok || e.handle != h {
		s.mu.Unlock()
		return
	}
	unexpected := !e.stopRequested && e.rec.Status.Active()
	if unexpected {
		e.rec.Status = StatusFailed
		delete(s.workers, workerID)
	}
	rec := e.rec
	running := s.activeCountLocked()
	s.mu.Unlock()
	if unexpected {
		detail := ""
		if err := h.ExitErr(); err != nil {
			detail = err.Error()
		}
		metrics.SetWorkersRunning(running)
		metrics.DropWorkerUsage(workerID)
		s.emit(store.Event{Kind: store.EventFailed, WorkerID: workerID, PID: rec.PID, Detail: detail})
		slog.Warn("worker exited unexpectedly", "id", workerID, "pid", rec.PID, "exit", detail)
	}
}

// Stop terminates a worker. Graceful stops request termination first, poll
// for voluntary exit up to the configured timeout at a fixed cadence, and
// escalate to a kill only when the window lapses - the timeout is recovered,
// not surfaced. A missing worker yields WorkerNotFoundError, which callers
// log as a warning and treat as already stopped.
func (s *Supervisor) Stop(workerID string, graceful bool) error {
	s.mu.Lock()
	e, ok := s.workers[workerID]
	if !ok || e.handle == nil {
		s.mu.Unlock()
		return &WorkerNotFoundError{WorkerID: workerID}
	}
	if !e.rec.Status.Active() {
		// Already exited; confirmed by the reap watcher.
		delete(s.workers, workerID)
		s.mu.Unlock()
		return &WorkerNotFoundError{WorkerID: workerID}
	}
	if e.stopRequested {
		// A stop is already in flight; its caller owns the escalation
		// and the bookkeeping.
		s.mu.Unlock()
		return nil
	}
	e.stopRequested = true
	e.rec.Status = StatusDraining
	h := e.handle
	pid := e.rec.PID
	timeout := s.cfg.GracefulShutdownTimeout
	s.mu.Unlock()

	if graceful {
		_ = h.Terminate()
		if !s.pollExit(h, timeout) {
			tErr := &GracefulShutdownTimeoutError{WorkerID: workerID, Timeout: timeout}
			slog.Warn("escalating to kill", "id", workerID, "pid", pid, "error", tErr)
			_ = h.Kill()
			h.WaitExit(2 * time.Second)
		}
	} else {
		_ = h.Kill()
		h.WaitExit(2 * time.Second)
	}

	s.mu.Lock()
	e.rec.Status = StatusStopped
	// Confirmed process exit: drop the record from the registry.
	delete(s.workers, workerID)
	running := s.activeCountLocked()
	s.mu.Unlock()
	metrics.IncStop(workerID)
	metrics.SetWorkersRunning(running)
	metrics.DropWorkerUsage(workerID)
	s.emit(store.Event{Kind: store.EventStop, WorkerID: workerID, PID: pid})
	slog.Info("worker stopped", "id", workerID, "pid", pid, "graceful", graceful)
	return nil
}

// pollExit waits for voluntary exit at the fixed cadence up to bound.
func (s *Supervisor) pollExit(h *proc.Handle, bound time.Duration) bool {
	deadline := time.Now().Add(bound)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		step := gracefulPollStep
		if remaining < step {
			step = remaining
		}
		if h.WaitExit(step) {
			return true
		}
	}
}

// Restart composes a graceful Stop and a Start, propagating the first error.
func (s *Supervisor) Restart(workerID string) error {
	if err := s.Stop(workerID, true); err != nil {
		return err
	}
	if _, err := s.Start(workerID); err != nil {
		return err
	}
	metrics.IncRestart(workerID)
	s.emit(store.Event{Kind: store.EventRestart, WorkerID: workerID})
	return nil
}

// StartWorkers launches n workers under synthetic IDs, sequentially. Each
// failure is logged and counted but does not abort the remaining starts;
// the first error is returned.
func (s *Supervisor) StartWorkers(n int) error {
	var firstErr error
	for i := 0; i < n; i++ {
		id := NewWorkerID()
		if _, err := s.Start(id); err != nil {
			slog.Warn("scale-up start failed", "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StopWorkers gracefully stops the n lowest-loaded workers, never draining
// the pool below minWorkers. Ties in load retire the oldest worker first so
// freshly started workers are not constantly recycled.
func (s *Supervisor) StopWorkers(n int) error {
	s.mu.Lock()
	active := s.activeCountLocked()
	floor := s.cfg.MinWorkers
	if allowed := active - floor; n > allowed {
		n = allowed
	}
	victims := s.victimsLocked(n)
	s.mu.Unlock()

	var firstErr error
	for _, id := range victims {
		if err := s.Stop(id, true); err != nil {
			var nf *WorkerNotFoundError
			if errors.As(err, &nf) {
				slog.Warn("worker already gone during scale-down", "id", id)
				continue
			}
			slog.Warn("scale-down stop failed", "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ScaleTo drives the active-worker count to target, an explicit request that
// may go below minWorkers (down to zero).
func (s *Supervisor) ScaleTo(target int) error {
	if target < 0 {
		target = 0
	}
	if target > s.cfg.MaxWorkers {
		target = s.cfg.MaxWorkers
	}
	current := s.ActiveCount()
	switch {
	case target > current:
		return s.StartWorkers(target - current)
	case target < current:
		n := current - target
		s.mu.Lock()
		victims := s.victimsLocked(n)
		s.mu.Unlock()
		var firstErr error
		for _, id := range victims {
			if err := s.Stop(id, true); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return nil
}

// victimsLocked picks up to n active workers ordered by load ascending,
// oldest startedAt first on ties.
func (s *Supervisor) victimsLocked(n int) []string {
	if n <= 0 {
		return nil
	}
	recs := make([]WorkerRecord, 0, len(s.workers))
	for _, e := range s.workers {
		if e.rec.Status.Active() {
			recs = append(recs, e.rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CPUPercent != recs[j].CPUPercent {
			return recs[i].CPUPercent < recs[j].CPUPercent
		}
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
	if n > len(recs) {
		n = len(recs)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = recs[i].ID
	}
	return ids
}

// Records returns a stable-ordered snapshot of the registry.
func (s *Supervisor) Records() []WorkerRecord {
	s.mu.Lock()
	out := make([]WorkerRecord, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, e.rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActivePIDs maps active worker IDs to their process IDs for the probe.
func (s *Supervisor) ActivePIDs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.workers))
	for id, e := range s.workers {
		if e.rec.Status.Active() {
			out[id] = e.rec.PID
		}
	}
	return out
}

// UpdateHealth writes the probe result onto a worker record. Only health
// fields are touched; lifecycle state stays with the supervisor.
func (s *Supervisor) UpdateHealth(workerID string, cpu, mem float64, at time.Time) {
	s.mu.Lock()
	if e, ok := s.workers[workerID]; ok {
		e.rec.CPUPercent = cpu
		e.rec.MemPercent = mem
		e.rec.LastHealthCheck = at
	}
	s.mu.Unlock()
	metrics.SetWorkerUsage(workerID, cpu, mem)
}

// ActiveCount returns the number of workers counting against capacity.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

func (s *Supervisor) activeCountLocked() int {
	n := 0
	for _, e := range s.workers {
		if e.rec.Status.Active() {
			n++
		}
	}
	return n
}

// Shutdown gracefully stops every active worker.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id, e := range s.workers {
		if e.rec.Status.Active() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Stop(id, true); err != nil {
			slog.Warn("shutdown stop failed", "id", id, "error", err)
		}
	}
}
