package supervisor

import (
	"errors"

	"github.com/loykin/httpit/internal/config"
)

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
	ErrStartFailed    = errors.New("server failed to start")
	ErrExited         = errors.New("server exited unexpectedly")
	ErrClosed         = errors.New("supervisor is closed")

	// ErrRootMissing is returned by Start when the document root vanished after validation.
	ErrRootMissing = config.ErrRootMissing
)
