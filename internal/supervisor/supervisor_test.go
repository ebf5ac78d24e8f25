package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/logger"
	"github.com/flockd/flockd/internal/store"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func testPoolConfig(command string) config.Pool {
	return config.Pool{
		MinWorkers:              0,
		MaxWorkers:              8,
		WorkerCommand:           command,
		StartDelay:              50 * time.Millisecond,
		GracefulShutdownTimeout: 2 * time.Second,
		HealthCPUThreshold:      90,
		HealthMemThreshold:      90,
		TasksPerWorker:          10,
		BacklogThreshold:        100,
		CheckInterval:           time.Second,
	}
}

func newTestSupervisor(t *testing.T, mutate func(*config.Pool)) *Supervisor {
	t.Helper()
	cfg := testPoolConfig(writeScript(t, "sleep 30"))
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, logger.Config{})
	t.Cleanup(s.Shutdown)
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartRegistersRunningWorker(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	rec, err := s.Start("w1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.ID != "w1" || rec.Status != StatusRunning || rec.PID <= 0 {
		t.Fatalf("bad record: %+v", rec)
	}
	if s.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", s.ActiveCount())
	}
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	first, err := s.Start("w1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := s.Start("w1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second.PID != first.PID {
		t.Fatalf("second start spawned a new process: %d vs %d", second.PID, first.PID)
	}
	if s.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", s.ActiveCount())
	}
}

func TestStartRefusedAtCapacity(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) { c.MaxWorkers = 1 })
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := s.Start("w2")
	if !errors.Is(err, ErrPoolAtCapacity) {
		t.Fatalf("want ErrPoolAtCapacity, got %v", err)
	}
}

func TestStartFailsWhenWorkerDiesInStartDelay(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.WorkerCommand = writeScript(t, "exit 3")
		c.StartDelay = 300 * time.Millisecond
	})
	rec, err := s.Start("w1")
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("want SpawnError, got %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("record status = %s, want failed", rec.Status)
	}
	if s.ActiveCount() != 0 {
		t.Fatalf("failed worker counts as active")
	}
	if got := len(s.Records()); got != 0 {
		t.Fatalf("dead worker retained in registry: %d records", got)
	}
}

func TestStopRemovesWorker(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop("w1", true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.ActiveCount() != 0 || len(s.Records()) != 0 {
		t.Fatalf("worker not removed: %+v", s.Records())
	}
}

func TestStopUnknownWorker(t *testing.T) {
	s := newTestSupervisor(t, nil)
	err := s.Stop("ghost", true)
	var nf *WorkerNotFoundError
	if !errors.As(err, &nf) || nf.WorkerID != "ghost" {
		t.Fatalf("want WorkerNotFoundError, got %v", err)
	}
}

func TestGracefulStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	// worker ignores TERM; a busy loop keeps the shell from exiting when
	// its children die
	script := writeScript(t, "trap '' TERM\nwhile :; do :; done")
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.WorkerCommand = script
		c.GracefulShutdownTimeout = 200 * time.Millisecond
	})
	if _, err := s.Start("stubborn"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	begin := time.Now()
	if err := s.Stop("stubborn", true); err != nil {
		t.Fatalf("Stop must recover from a shutdown timeout: %v", err)
	}
	if time.Since(begin) < 200*time.Millisecond {
		t.Fatal("stop returned before the graceful window lapsed")
	}
	if s.ActiveCount() != 0 {
		t.Fatal("worker still registered after kill")
	}
}

func TestForcedStopSkipsGracePeriod(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.GracefulShutdownTimeout = 10 * time.Second
	})
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	begin := time.Now()
	if err := s.Stop("w1", false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(begin) > 2*time.Second {
		t.Fatal("forced stop waited for the graceful window")
	}
}

func TestUnexpectedExitPrunesWorker(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.WorkerCommand = writeScript(t, "sleep 0.2")
		c.StartDelay = 50 * time.Millisecond
	})
	var mu sync.Mutex
	var failed []store.Event
	s.SetEventSink(func(e store.Event) {
		if e.Kind == store.EventFailed {
			mu.Lock()
			failed = append(failed, e)
			mu.Unlock()
		}
	})
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1 && len(s.Records()) == 0
	}, "dead worker never recorded as failed and pruned")
	if s.ActiveCount() != 0 {
		t.Fatal("dead worker still counts as active")
	}
	mu.Lock()
	defer mu.Unlock()
	if failed[0].WorkerID != "w1" {
		t.Fatalf("failure event for %q, want w1", failed[0].WorkerID)
	}
}

func TestCrashLoopDoesNotGrowRegistry(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.WorkerCommand = writeScript(t, "exit 1")
		c.StartDelay = 200 * time.Millisecond
	})
	for i := 0; i < 3; i++ {
		if err := s.StartWorkers(1); err == nil {
			t.Fatal("expected start failure")
		}
	}
	if got := len(s.Records()); got != 0 {
		t.Fatalf("crash loop grew the registry to %d records", got)
	}
}

func TestRestartReplacesProcess(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	first, err := s.Start("w1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Restart("w1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	recs := s.Records()
	if len(recs) != 1 || recs[0].Status != StatusRunning {
		t.Fatalf("restart left bad registry: %+v", recs)
	}
	if recs[0].PID == first.PID {
		t.Fatal("restart kept the old process")
	}
}

func TestStartWorkersIsolatesFailures(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) { c.MaxWorkers = 2 })
	err := s.StartWorkers(4)
	if !errors.Is(err, ErrPoolAtCapacity) {
		t.Fatalf("want first error ErrPoolAtCapacity, got %v", err)
	}
	if s.ActiveCount() != 2 {
		t.Fatalf("active count = %d, want 2", s.ActiveCount())
	}
}

func TestStopWorkersHonorsFloor(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) { c.MinWorkers = 2 })
	if err := s.StartWorkers(3); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	if err := s.StopWorkers(5); err != nil {
		t.Fatalf("StopWorkers: %v", err)
	}
	if s.ActiveCount() != 2 {
		t.Fatalf("scale-down went below floor: active = %d", s.ActiveCount())
	}
}

func TestStopWorkersPicksLowestLoadOldestFirst(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Start(id); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	now := time.Now()
	s.UpdateHealth("a", 80, 10, now)
	s.UpdateHealth("b", 5, 10, now)
	s.UpdateHealth("c", 40, 10, now)

	if err := s.StopWorkers(1); err != nil {
		t.Fatalf("StopWorkers: %v", err)
	}
	for _, rec := range s.Records() {
		if rec.ID == "b" {
			t.Fatal("lowest-loaded worker was not the victim")
		}
	}
	if s.ActiveCount() != 2 {
		t.Fatalf("active count = %d, want 2", s.ActiveCount())
	}
}

func TestScaleToClampsAndConverges(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, func(c *config.Pool) {
		c.MinWorkers = 1
		c.MaxWorkers = 4
	})
	if err := s.ScaleTo(10); err != nil {
		t.Fatalf("ScaleTo up: %v", err)
	}
	if s.ActiveCount() != 4 {
		t.Fatalf("scale-up did not clamp to max: %d", s.ActiveCount())
	}
	// explicit request may go below the autoscaler floor
	if err := s.ScaleTo(0); err != nil {
		t.Fatalf("ScaleTo 0: %v", err)
	}
	if s.ActiveCount() != 0 {
		t.Fatalf("scale to zero left %d workers", s.ActiveCount())
	}
}

func TestEventSinkReceivesLifecycle(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	var mu sync.Mutex
	var kinds []string
	s.SetEventSink(func(e store.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop("w1", true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != store.EventStart || kinds[1] != store.EventStop {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
}

func TestUpdateHealthTouchesOnlyHealthFields(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	rec, err := s.Start("w1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	at := time.Now()
	s.UpdateHealth("w1", 42.5, 13.1, at)
	got := s.Records()[0]
	if got.CPUPercent != 42.5 || got.MemPercent != 13.1 || !got.LastHealthCheck.Equal(at) {
		t.Fatalf("health fields not written: %+v", got)
	}
	if got.Status != StatusRunning || got.PID != rec.PID {
		t.Fatalf("lifecycle fields disturbed: %+v", got)
	}
}

func TestConcurrentStopsBookkeepOnce(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, nil)
	var mu sync.Mutex
	var stops int
	s.SetEventSink(func(e store.Event) {
		if e.Kind == store.EventStop {
			mu.Lock()
			stops++
			mu.Unlock()
		}
	})
	if _, err := s.Start("w1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Stop("w1", true)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		// the loser may arrive after the winner already removed the
		// record, which reads as an ordinary missing worker
		var nf *WorkerNotFoundError
		if err != nil && !errors.As(err, &nf) {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	mu.Lock()
	got := stops
	mu.Unlock()
	if got != 1 {
		t.Fatalf("emitted %d stop events, want 1", got)
	}
	if len(s.Records()) != 0 {
		t.Fatal("worker still registered after stop")
	}
}
