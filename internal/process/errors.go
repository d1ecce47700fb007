package process

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotStarted   = errors.New("process not started")
	ErrExitedEarly  = errors.New("process exited before start window")
	ErrStillRunning = errors.New("process did not exit after SIGKILL")
)

func errBeforeStart(d time.Duration, exitErr error) error {
	if exitErr == nil {
		return fmt.Errorf("%w %s (exit status 0)", ErrExitedEarly, d)
	}
	return fmt.Errorf("%w %s: %w", ErrExitedEarly, d, exitErr)
}
