//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

const (
	sigTerminate = syscall.SIGTERM
	sigKill      = syscall.SIGKILL
)

// configureSysProcAttr places the child in a new process group so signals
// reach the worker and anything it forked.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the whole process group rooted at pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// processAlive checks process existence with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
