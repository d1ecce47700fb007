package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/httpit/internal/config"
	"github.com/loykin/httpit/internal/detector"
	"github.com/loykin/httpit/internal/env"
	"github.com/loykin/httpit/internal/history"
	"github.com/loykin/httpit/internal/locator"
	"github.com/loykin/httpit/internal/logger"
	"github.com/loykin/httpit/internal/metrics"
	"github.com/loykin/httpit/internal/process"
)

const (
	// restartPause separates stop and start in Restart so the port is released.
	restartPause = 100 * time.Millisecond
	// daemonLaunchTimeout bounds the wait for a forking webfsd to return.
	daemonLaunchTimeout = 5 * time.Second
	// pidFileTimeout bounds the wait for a daemon to write its pid file.
	pidFileTimeout = 2 * time.Second
	historyTimeout = 5 * time.Second
)

// State is derived from the OS on every query.
type State string

const (
	StateNotRunning State = "not_running"
	StateRunning    State = "running"
)

// Status is a point-in-time view of the supervised webfsd.
type Status struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	Port       int       `json:"port"`
	Root       string    `json:"root"`
	Daemon     bool      `json:"daemon"`
	RunID      string    `json:"run_id,omitempty"`
	Restarts   uint32    `json:"restarts"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	StoppedAt  time.Time `json:"stopped_at,omitzero"`
	ExitErr    string    `json:"exit_err,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Binary     string    `json:"binary,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// Options carries the collaborators of a Supervisor. Zero values select defaults.
type Options struct {
	Locator *locator.Locator
	Env     *env.Env
	Logger  *slog.Logger
	History []history.Sink
}

// Supervisor owns the lifecycle of one webfsd process. Start, Stop and Restart
// are serialised by a single mutex held across the state check and the action.
// History events are queued under that mutex and written after it is released.
type Supervisor struct {
	mu       sync.Mutex
	histMu   sync.Mutex // orders history writes across callers
	cfg      config.ServerConfig
	loc      *locator.Locator
	env      *env.Env
	log      *slog.Logger
	sinks    []history.Sink
	location *locator.Location

	proc     *process.Process // current run, nil when none is owned
	last     *process.Process // most recent run, kept for Status
	runID    string
	restarts uint32
	state    State
	stopped  bool  // the last run ended through Stop
	startErr error // last failed start, cleared by a successful one
	closed   bool
	pending  []history.Event
}

// New validates cfg and returns an idle supervisor.
func New(cfg config.ServerConfig, opts Options) (*Supervisor, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("server", cfg.Name())

	loc := opts.Locator
	if loc == nil {
		loc = locator.New()
		loc.Logger = log
	}
	if cfg.Binary != "" && loc.Override == "" {
		loc.Override = cfg.Binary
	}
	e := opts.Env
	if e == nil {
		e = env.New()
		e.FromOS()
	}
	return &Supervisor{
		cfg:   cfg,
		loc:   loc,
		env:   e,
		log:   log,
		sinks: append([]history.Sink(nil), opts.History...),
		state: StateNotRunning,
	}, nil
}

// Config returns the normalised configuration.
func (s *Supervisor) Config() config.ServerConfig { return s.cfg }

// Start spawns webfsd. It fails with ErrAlreadyRunning when a live process is owned.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.unlock()
	return s.startLocked()
}

// Stop terminates webfsd. It fails with ErrNotRunning when nothing is alive.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.unlock()
	return s.stopLocked()
}

// Restart stops a running webfsd, pauses briefly and starts it again.
// From NOT_RUNNING it behaves like Start.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	defer s.unlock()
	if s.aliveLocked() {
		if err := s.stopLocked(); err != nil {
			return err
		}
		time.Sleep(restartPause)
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	s.restarts++
	metrics.IncRestart(s.cfg.Name())
	return nil
}

// IsRunning probes the OS. It never changes supervisor state.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// PID returns the live webfsd PID or 0. For a tracked daemon this is the PID from its pid file.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.livePID(s.proc.Status())
}

func (s *Supervisor) livePID(ps process.Status) int {
	switch {
	case !ps.Running:
		return 0
	case ps.DetectedBy == "exec:pid":
		return ps.PID
	case s.cfg.PIDFile != "":
		if pid, err := detector.ReadPID(s.cfg.PIDFile); err == nil {
			return pid
		}
	}
	return 0
}

// Status reports the current or most recent run without touching its state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:     s.cfg.Name(),
		State:    StateNotRunning,
		Port:     s.cfg.Port,
		Root:     s.cfg.Root,
		Daemon:   s.cfg.Daemon,
		RunID:    s.runID,
		Restarts: s.restarts,
	}
	if s.location != nil {
		st.Binary = s.location.Path
		st.Source = string(s.location.Source)
	}
	p := s.proc
	if p == nil {
		p = s.last
	}
	if p == nil {
		return st
	}
	ps := p.Status()
	st.PID = ps.PID
	st.Running = ps.Running && s.proc != nil
	if st.Running {
		st.State = StateRunning
		st.DetectedBy = ps.DetectedBy
		if pid := s.livePID(ps); pid > 0 {
			st.PID = pid
		}
	}
	st.StartedAt = ps.StartedAt
	st.StoppedAt = ps.StoppedAt
	if ps.ExitErr != nil {
		st.ExitErr = ps.ExitErr.Error()
	}
	return st
}

// Close stops a running webfsd and removes a temporary extracted binary.
// The supervisor cannot be started again afterwards.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.aliveLocked() {
		err = s.stopLocked()
	}
	s.closed = true
	if s.location != nil {
		if cerr := s.location.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
		s.location = nil
	}
	return err
}

func (s *Supervisor) aliveLocked() bool {
	if s.proc == nil {
		return false
	}
	alive, _ := s.proc.DetectAlive()
	return alive
}

func (s *Supervisor) startLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.aliveLocked() {
		return ErrAlreadyRunning
	}
	err := s.spawnLocked()
	s.startErr = err
	return err
}

func (s *Supervisor) spawnLocked() error {
	name := s.cfg.Name()
	if err := config.CheckRoot(s.cfg.Root); err != nil {
		metrics.IncStartFailure(name, "root")
		return err
	}
	loc, err := s.resolveLocked()
	if err != nil {
		metrics.IncStartFailure(name, "binary")
		return err
	}

	p := process.New(process.Spec{
		Name:     locator.BinaryName,
		Path:     loc.Path,
		Args:     s.cfg.Args(),
		Detached: s.cfg.Daemon,
		PIDFile:  s.cfg.PIDFile,
		Output:   logger.Output{Dir: s.cfg.OutputDir, Inherit: s.cfg.Debug},
	})
	begin := time.Now()
	if err := p.Start(s.env.Merge(s.cfg.Env)); err != nil {
		metrics.IncStartFailure(name, "spawn")
		return fmt.Errorf("spawn %s: %w", loc.Path, err)
	}
	if s.cfg.Daemon {
		err = s.awaitDaemon(p)
	} else if err = p.EnforceStartDuration(s.cfg.StartWindow); err != nil {
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if err != nil {
		metrics.IncStartFailure(name, "exited")
		p.RemovePIDFile()
		s.last = p
		return err
	}

	s.proc = p
	s.stopped = false
	s.runID = uuid.NewString()
	s.transition(StateRunning)
	metrics.IncStart(name)
	metrics.ObserveStartDuration(name, time.Since(begin).Seconds())
	s.log.Info("webfsd started", "pid", p.PID(), "run_id", s.runID, "port", s.cfg.Port, "root", s.cfg.Root, "binary", loc.Path)
	s.emit(history.EventStart, p, "running")

	if !s.cfg.Daemon {
		go s.watch(p)
	}
	return nil
}

// awaitDaemon waits for the forking launcher to return and, with a pid file,
// pins the daemon so that later probes and Stop target it.
func (s *Supervisor) awaitDaemon(p *process.Process) error {
	if !p.WaitExited(daemonLaunchTimeout) {
		s.log.Warn("webfsd launcher did not return; tracking it directly", "pid", p.PID())
		return nil
	}
	if exitErr := p.Snapshot().ExitErr; exitErr != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, exitErr)
	}
	if s.cfg.PIDFile == "" {
		s.log.Warn("daemon started without a pid file; it will not be tracked")
		return nil
	}
	deadline := time.Now().Add(pidFileTimeout)
	for {
		d := detector.PIDFileDetector{PIDFile: s.cfg.PIDFile}
		if alive, _ := d.Alive(); alive {
			pinned, err := d.Pin()
			if err != nil {
				return fmt.Errorf("%w: %w", ErrStartFailed, err)
			}
			p.AddDetector(pinned)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no live pid in %s after %s", ErrStartFailed, s.cfg.PIDFile, pidFileTimeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *Supervisor) resolveLocked() (locator.Location, error) {
	if s.location != nil {
		if _, err := os.Stat(s.location.Path); err == nil {
			return *s.location, nil
		}
		s.location = nil
	}
	loc, err := s.loc.Find()
	if err != nil {
		return locator.Location{}, err
	}
	s.location = &loc
	return loc, nil
}

func (s *Supervisor) stopLocked() error {
	if !s.aliveLocked() {
		return ErrNotRunning
	}
	p := s.proc
	err := p.Stop(s.cfg.StopTimeout)
	s.proc = nil
	s.last = p
	s.stopped = true
	s.transition(StateNotRunning)
	metrics.IncStop(s.cfg.Name())
	s.log.Info("webfsd stopped", "pid", p.PID(), "run_id", s.runID)
	s.emit(history.EventStop, p, "stopped")
	if err != nil {
		return fmt.Errorf("stop webfsd: %w", err)
	}
	return nil
}

// watch records exits that were not requested through Stop.
func (s *Supervisor) watch(p *process.Process) {
	<-p.Exited()
	s.mu.Lock()
	defer s.unlock()
	if s.proc != p {
		return
	}
	s.proc = nil
	s.last = p
	s.transition(StateNotRunning)
	metrics.IncUnexpectedExit(s.cfg.Name())
	st := p.Snapshot()
	s.log.Warn("webfsd exited unexpectedly", "pid", st.PID, "run_id", s.runID, "err", st.ExitErr)
	s.emit(history.EventExit, p, "exited")
}

func (s *Supervisor) transition(to State) {
	if s.state == to {
		return
	}
	metrics.RecordStateTransition(s.cfg.Name(), string(s.state), string(to))
	s.state = to
}

// unlock releases s.mu and writes the events queued while it was held. histMu is
// taken before s.mu is released so events reach the sinks in state order.
func (s *Supervisor) unlock() {
	events := s.pending
	s.pending = nil
	if len(events) == 0 {
		s.mu.Unlock()
		return
	}
	s.histMu.Lock()
	s.mu.Unlock()
	defer s.histMu.Unlock()
	for _, e := range events {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		_ = history.Dispatch(ctx, s.log, s.sinks, e)
		cancel()
	}
}

func (s *Supervisor) emit(t history.EventType, p *process.Process, status string) {
	if len(s.sinks) == 0 {
		return
	}
	st := p.Snapshot()
	rec := history.Record{
		Name:   s.cfg.Name(),
		RunID:  s.runID,
		PID:    st.PID,
		Port:   s.cfg.Port,
		Root:   s.cfg.Root,
		Status: status,
	}
	if st.ExitErr != nil {
		rec.ExitErr = st.ExitErr.Error()
	}
	s.pending = append(s.pending, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}
