//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup signals the whole process group led by pid, falling back to pid alone.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil || !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return syscall.Kill(pid, sig)
}

func signalPID(pid int, sig syscall.Signal) error { return syscall.Kill(pid, sig) }

// pidExists is kill(pid, 0); EPERM still means the pid is taken.
func pidExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
