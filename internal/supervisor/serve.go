package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/httpit/internal/cron"
)

// Serve starts webfsd and blocks until ctx is cancelled or the process is no
// longer running. Cancellation stops the process and returns nil. In daemon mode
// Serve returns right after a successful start.
func (s *Supervisor) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.banner()
	if s.cfg.Daemon {
		if s.cfg.RestartSchedule != "" {
			s.log.Warn("restart schedule ignored for a detached webfsd", "schedule", s.cfg.RestartSchedule)
		}
		return nil
	}

	stopSchedule, err := s.schedule(ctx)
	if err != nil {
		_ = s.Stop()
		return err
	}
	defer stopSchedule()

	exited := s.exited()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// a scheduled restart in flight must not outlive the stop
			stopSchedule()
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return nil
		case <-exited:
			if next := s.exited(); next != nil && next != exited {
				// replaced by Restart
				exited = next
				continue
			}
			return s.exitResult()
		case <-ticker.C:
			if !s.IsRunning() {
				return s.exitResult()
			}
			exited = s.exited()
		}
	}
}

// schedule starts the periodic restart, if configured. The returned func
// cancels it and waits for a running restart.
func (s *Supervisor) schedule(ctx context.Context) (func(), error) {
	if s.cfg.RestartSchedule == "" {
		return func() {}, nil
	}
	sched := cron.NewScheduler(s.log)
	err := sched.Add(&cron.Job{
		Name:     "restart",
		Schedule: s.cfg.RestartSchedule,
		Run:      func(context.Context) error { return s.Restart() },
	})
	if err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	s.log.Info("scheduled restarts enabled", "schedule", s.cfg.RestartSchedule)
	return sched.Stop, nil
}

func (s *Supervisor) exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.Exited()
}

// exitResult is nil when the run ended through Stop or with status 0. A failed
// start after a stop (a restart that could not bring webfsd back) is
// ErrStartFailed, any other exit ErrExited.
func (s *Supervisor) exitResult() error {
	s.mu.Lock()
	stopped := s.stopped && s.proc == nil
	startErr := s.startErr
	p := s.proc
	if p == nil {
		p = s.last
	}
	s.mu.Unlock()
	if startErr != nil {
		if errors.Is(startErr, ErrStartFailed) {
			return startErr
		}
		return fmt.Errorf("%w: %w", ErrStartFailed, startErr)
	}
	if stopped || p == nil {
		return nil
	}
	st := p.Snapshot()
	if st.ExitErr == nil {
		s.log.Warn("webfsd is no longer running", "pid", st.PID)
		return nil
	}
	return fmt.Errorf("%w: %w", ErrExited, st.ExitErr)
}

func (s *Supervisor) banner() {
	st := s.Status()
	args := []any{"url", fmt.Sprintf("http://%s:%d/", s.host(), s.cfg.Port), "root", s.cfg.Root, "pid", st.PID}
	if st.Binary != "" {
		args = append(args, "binary", st.Binary, "source", st.Source)
	}
	if f := s.cfg.Features(); len(f) > 0 {
		args = append(args, "features", f)
	}
	if s.cfg.Daemon {
		args = append(args, "daemon", true)
	}
	s.log.Info("serving", args...)
}

func (s *Supervisor) host() string {
	switch {
	case s.cfg.BindIP != "":
		return s.cfg.BindIP
	case s.cfg.Host != "":
		return s.cfg.Host
	}
	return "localhost"
}
