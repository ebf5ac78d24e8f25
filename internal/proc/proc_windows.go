//go:build windows

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

const (
	sigTerminate = syscall.Signal(15)
	sigKill      = syscall.Signal(9)

	createNewProcessGroup = 0x00000200
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// signalGroup has no graceful variant on Windows; both signals terminate.
func signalGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

func processAlive(pid int) bool {
	const processQueryInformation = 0x0400
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	_ = syscall.CloseHandle(h)
	return true
}
