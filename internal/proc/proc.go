// Package proc abstracts a single OS worker process: start, signal, wait,
// force-terminate. It never shells out; the worker command is executed
// directly with the worker ID as its final positional argument.
package proc

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Handle owns one started OS process. All mutation happens under mu; a single
// reaper goroutine waits on the process and closes waitDone exactly once.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	exitErr   error
	exited    bool
	waitDone  chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

// Start launches command (split on whitespace, no shell) with workerID
// appended as the last argument. stdout/stderr may be nil to discard output.
func Start(command, workerID string, stdout, stderr io.WriteCloser) (*Handle, error) {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return nil, errors.New("empty worker command")
	}
	args := append(fields[1:], workerID)
	// ok: command comes from validated config, not request input
	// #nosec G204
	cmd := exec.Command(fields[0], args...)
	configureSysProcAttr(cmd)
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &Handle{
		cmd:       cmd,
		waitDone:  make(chan struct{}),
		outCloser: stdout,
		errCloser: stderr,
	}
	go h.reap()
	return h, nil
}

// reap waits for process exit, records the exit error, and closes writers.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.exited = true
	if h.outCloser != nil {
		_ = h.outCloser.Close()
		h.outCloser = nil
	}
	if h.errCloser != nil {
		_ = h.errCloser.Close()
		h.errCloser = nil
	}
	close(h.waitDone)
	h.mu.Unlock()
}

// PID returns the OS process ID.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Alive probes process existence with a zero-effect signal.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return false
	}
	return processAlive(h.PID())
}

// Terminate requests graceful shutdown of the worker's process group.
func (h *Handle) Terminate() error {
	return signalGroup(h.PID(), sigTerminate)
}

// Kill forcefully terminates the worker's process group.
func (h *Handle) Kill() error {
	return signalGroup(h.PID(), sigKill)
}

// WaitExit blocks until the process has been reaped or timeout elapses.
// It returns true when the process exited within the window.
func (h *Handle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.waitDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done exposes the reaper's completion channel.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// ExitErr returns the recorded exit error, nil while still running.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}
