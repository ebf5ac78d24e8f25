package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolAtCapacity is returned by Start when the active-worker count already
// equals the configured maximum.
var ErrPoolAtCapacity = errors.New("worker pool at max capacity")

// SpawnError reports that the worker OS process could not be created or died
// before surviving the start delay.
type SpawnError struct {
	WorkerID string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.WorkerID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WorkerNotFoundError means no registry entry matches the worker ID. Callers
// treat the worker as already gone: log a warning, never escalate.
type WorkerNotFoundError struct {
	WorkerID string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("worker %s not found", e.WorkerID)
}

// GracefulShutdownTimeoutError records that a worker outlived the graceful
// window and was force-killed. It is informational; Stop still succeeds.
type GracefulShutdownTimeoutError struct {
	WorkerID string
	Timeout  time.Duration
}

func (e *GracefulShutdownTimeoutError) Error() string {
	return fmt.Sprintf("worker %s did not exit within %s, killed", e.WorkerID, e.Timeout)
}
