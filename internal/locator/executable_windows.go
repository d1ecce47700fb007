//go:build windows

package locator

import (
	"os"
	"path/filepath"
	"strings"
)

// IsExecutable reports whether path is a regular file with an executable extension.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd":
		return true
	}
	return false
}
