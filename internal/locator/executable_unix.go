//go:build !windows

package locator

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsExecutable reports whether path is a regular file the current user may execute.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
