package detector

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

var ErrNoPID = errors.New("no pid recorded")

// ReadPID reads the first line of a pid file. webfsd writes a bare decimal PID.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("%w: %s is empty", ErrNoPID, path)
	}
	pid, err := strconv.Atoi(line)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %q", path, line)
	}
	return pid, nil
}

// PIDFileDetector detects a process via a PID file.
// When StartUnix is set, a PID whose process started at a different second is
// treated as reused and reported as not alive.
type PIDFileDetector struct {
	PIDFile   string
	StartUnix int64
}

func (d PIDFileDetector) PID() (int, error) { return ReadPID(d.PIDFile) }

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := ReadPID(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if d.StartUnix > 0 {
		cur := ProcStartUnix(pid)
		if cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return PIDAlive(pid), nil
}

// Pin records the start time of the process currently named by the pid file.
func (d PIDFileDetector) Pin() (PIDFileDetector, error) {
	pid, err := ReadPID(d.PIDFile)
	if err != nil {
		return d, err
	}
	d.StartUnix = ProcStartUnix(pid)
	return d, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return PIDAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
