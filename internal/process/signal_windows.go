//go:build windows

package process

import (
	"os"
	"syscall"

	"github.com/loykin/httpit/internal/detector"
)

// Windows has no signals; every request terminates the process.
func signalGroup(pid int, sig syscall.Signal) error { return signalPID(pid, sig) }

func signalPID(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

func pidExists(pid int) bool { return detector.PIDAlive(pid) }
