package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/httpit/internal/detector"
)

const (
	// killGrace bounds the wait for the exit notification after SIGKILL.
	killGrace = 2 * time.Second
	// pipeGrace bounds how long Wait keeps copying output after the child exits,
	// so a forked daemon holding the pipes cannot block the monitor.
	pipeGrace = 500 * time.Millisecond
)

// Process owns one spawned child. A Process is single-use: once the child has
// exited a new Process is created for the next start.
type Process struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	status    Status
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	exited    chan struct{} // closed by monitor when cmd.Wait returns
}

func New(spec Spec) *Process { return &Process{spec: spec, status: Status{Name: spec.Name}} }

func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// AddDetector registers an extra liveness detector, e.g. the pid file of a forked daemon.
func (p *Process) AddDetector(d detector.Detector) {
	p.mu.Lock()
	p.spec.Detectors = append(append([]detector.Detector(nil), p.spec.Detectors...), d)
	p.mu.Unlock()
}

// ConfigureCmd builds the *exec.Cmd for this process using mergedEnv.
// It sets the working directory, environment, output writers and process group attributes.
func (p *Process) ConfigureCmd(mergedEnv []string) (*exec.Cmd, error) {
	spec := p.Spec()
	if spec.Path == "" {
		return nil, errors.New("process: empty executable path")
	}
	// #nosec G204 -- path comes from the binary locator, args from a validated config
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd, spec)
	cmd.WaitDelay = pipeGrace

	outW, errW, err := spec.Output.Writers(spec.Name)
	if err != nil {
		return nil, err
	}
	p.setClosers(outW, errW)
	// nil writers make exec connect the null device
	if outW != nil {
		cmd.Stdout = unwrapFile(outW)
	}
	if errW != nil {
		cmd.Stderr = unwrapFile(errW)
	}
	return cmd, nil
}

func unwrapFile(w io.Writer) io.Writer {
	if f, ok := w.(interface{ File() *os.File }); ok {
		return f.File()
	}
	return w
}

// Start spawns the child and attaches the single monitor goroutine that owns cmd.Wait.
func (p *Process) Start(mergedEnv []string) error {
	p.mu.Lock()
	used := p.cmd != nil
	p.mu.Unlock()
	if used {
		return fmt.Errorf("process %s already started", p.Spec().Name)
	}
	cmd, err := p.ConfigureCmd(mergedEnv)
	if err != nil {
		p.CloseWriters()
		return err
	}
	if err := p.TryStart(cmd); err != nil {
		p.CloseWriters()
		return err
	}
	return nil
}

// TryStart starts cmd, records the run and launches the monitor.
func (p *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	exited := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.exited = exited
	p.status.Running = true
	p.status.PID = cmd.Process.Pid
	p.status.StartedAt = time.Now()
	p.status.StoppedAt = time.Time{}
	p.status.ExitErr = nil
	p.mu.Unlock()
	go p.monitor(cmd, exited)
	return nil
}

func (p *Process) monitor(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.mu.Unlock()
	p.CloseWriters()
	close(exited)
}

// Exited is closed once the child has been reaped. It is nil before Start.
func (p *Process) Exited() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *Process) hasExited() bool {
	ch := p.Exited()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// WaitExited waits up to d for the child to be reaped.
func (p *Process) WaitExited(d time.Duration) bool {
	ch := p.Exited()
	if ch == nil {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

func (p *Process) setClosers(stdout, stderr io.WriteCloser) {
	p.mu.Lock()
	p.outCloser, p.errCloser = stdout, stderr
	p.mu.Unlock()
}

func (p *Process) CloseWriters() {
	p.mu.Lock()
	out, errW := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// Snapshot returns a copy of the recorded status without probing the OS.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Status is Snapshot with Running and DetectedBy taken from a live probe.
func (p *Process) Status() Status {
	st := p.Snapshot()
	st.Running, st.DetectedBy = p.DetectAlive()
	return st
}

// DetectAlive probes liveness. The spawned child is checked first, then the detectors.
func (p *Process) DetectAlive() (bool, string) {
	p.mu.Lock()
	cmd := p.cmd
	dets := append([]detector.Detector(nil), p.spec.Detectors...)
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil && !p.hasExited() {
		pid := cmd.Process.Pid
		// an exited child stays a zombie until the monitor reaps it
		if !isZombie(pid) && pidExists(pid) {
			return true, "exec:pid"
		}
	}
	for _, d := range dets {
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

// isZombie reports whether /proc/<pid>/status shows state Z. Always false without procfs.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// EnforceStartDuration returns an error wrapping ErrExitedEarly if the child exits within d.
func (p *Process) EnforceStartDuration(d time.Duration) error {
	ch := p.Exited()
	if ch == nil {
		return ErrNotStarted
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return errBeforeStart(d, p.Snapshot().ExitErr)
	case <-t.C:
		return nil
	}
}

// Stop sends SIGTERM to the child's process group, waits up to wait for the monitor
// to reap it and escalates to SIGKILL. Processes found through pid-bearing detectors
// (a forked daemon) are stopped the same way.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	dets := append([]detector.Detector(nil), p.spec.Detectors...)
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}

	var errs []error
	if !p.hasExited() {
		pid := cmd.Process.Pid
		_ = signalGroup(pid, syscall.SIGTERM)
		if !p.WaitExited(wait) {
			_ = signalGroup(pid, syscall.SIGKILL)
			if !p.WaitExited(killGrace) {
				errs = append(errs, fmt.Errorf("pid %d: %w", pid, ErrStillRunning))
			}
		}
	}
	for _, d := range dets {
		pd, ok := d.(interface{ PID() (int, error) })
		if !ok {
			continue
		}
		if alive, _ := d.Alive(); !alive {
			continue
		}
		pid, err := pd.PID()
		if err != nil || pid == cmd.Process.Pid {
			continue
		}
		if err := StopPID(pid, wait); err != nil {
			errs = append(errs, err)
		}
	}
	p.RemovePIDFile()
	return errors.Join(errs...)
}

// RemovePIDFile removes the pid file unless it still names a live process.
func (p *Process) RemovePIDFile() {
	path := p.Spec().PIDFile
	if path == "" {
		return
	}
	if pid, err := detector.ReadPID(path); err == nil && pidExists(pid) && !isZombie(pid) {
		return
	}
	_ = os.Remove(path)
}

// StopPID terminates a process we did not spawn: SIGTERM, poll for up to wait, then SIGKILL.
func StopPID(pid int, wait time.Duration) error {
	if pid <= 0 || !pidExists(pid) {
		return nil
	}
	if err := signalPID(pid, syscall.SIGTERM); err != nil && pidExists(pid) {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if waitGone(pid, wait) {
		return nil
	}
	_ = signalPID(pid, syscall.SIGKILL)
	if waitGone(pid, killGrace) {
		return nil
	}
	return fmt.Errorf("pid %d: %w", pid, ErrStillRunning)
}

func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !pidExists(pid) || isZombie(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
