package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/httpit/internal/detector"
	"github.com/loykin/httpit/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func shSpec(name, script string) Spec {
	return Spec{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func startOrFail(t *testing.T, p *Process, env []string) {
	t.Helper()
	if err := p.Start(env); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(200 * time.Millisecond) })
}

func TestConfigureCmdAppliesEnvDirAndGroup(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := New(Spec{Name: "cfg", Path: "/bin/true", Args: []string{"-x"}, Dir: dir})
	cmd, err := p.ConfigureCmd([]string{"FOO=bar"})
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if cmd.Dir != dir {
		t.Fatalf("dir not applied: %q", cmd.Dir)
	}
	if len(cmd.Env) != 1 || cmd.Env[0] != "FOO=bar" {
		t.Fatalf("env not applied: %q", cmd.Env)
	}
	if cmd.Args[0] != "/bin/true" || cmd.Args[1] != "-x" {
		t.Fatalf("argv mismatch: %q", cmd.Args)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid || cmd.SysProcAttr.Setsid {
		t.Fatalf("expected a new process group: %+v", cmd.SysProcAttr)
	}
	if cmd.Stdout != nil || cmd.Stderr != nil {
		t.Fatalf("output should default to the null device")
	}

	p = New(Spec{Name: "d", Path: "/bin/true", Detached: true})
	cmd, _ = p.ConfigureCmd(nil)
	if !cmd.SysProcAttr.Setsid || cmd.SysProcAttr.Setpgid {
		t.Fatalf("detached process should get a new session: %+v", cmd.SysProcAttr)
	}
	if cmd.Env != nil {
		t.Fatalf("empty env should inherit")
	}
}

func TestConfigureCmd_InheritUsesOurDescriptors(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "i", Path: "/bin/true", Output: logger.Output{Inherit: true}})
	cmd, err := p.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if cmd.Stdout != os.Stdout || cmd.Stderr != os.Stderr {
		t.Fatalf("inherit should pass the std streams through")
	}
}

func TestConfigureCmd_EmptyPath(t *testing.T) {
	if _, err := New(Spec{Name: "x"}).ConfigureCmd(nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestStartWritesOutputFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	spec := shSpec("webfsd", "echo out; echo err 1>&2")
	spec.Output = logger.Output{Dir: dir}
	p := New(spec)
	startOrFail(t, p, nil)
	if !p.WaitExited(2 * time.Second) {
		t.Fatalf("process did not exit in time")
	}
	ob, err := os.ReadFile(filepath.Join(dir, "webfsd.stdout.log"))
	if err != nil || !strings.Contains(string(ob), "out") {
		t.Fatalf("stdout log: %q %v", ob, err)
	}
	eb, err := os.ReadFile(filepath.Join(dir, "webfsd.stderr.log"))
	if err != nil || !strings.Contains(string(eb), "err") {
		t.Fatalf("stderr log: %q %v", eb, err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	requireUnix(t)
	p := New(shSpec("twice", "sleep 5"))
	startOrFail(t, p, nil)
	if err := p.Start(nil); err == nil {
		t.Fatalf("a Process must be single-use")
	}
}

func TestStartMissingBinary(t *testing.T) {
	p := New(Spec{Name: "missing", Path: filepath.Join(t.TempDir(), "nope")})
	if err := p.Start(nil); err == nil {
		t.Fatalf("expected spawn error")
	}
	if p.Exited() != nil {
		t.Fatalf("no exit channel expected after failed spawn")
	}
}

func TestDetectAliveLifecycle(t *testing.T) {
	requireUnix(t)
	p := New(shSpec("alive", "sleep 5"))
	if alive, _ := p.DetectAlive(); alive {
		t.Fatalf("not started process reported alive")
	}
	startOrFail(t, p, nil)
	alive, by := p.DetectAlive()
	if !alive || by != "exec:pid" {
		t.Fatalf("expected alive via exec:pid, got %v %q", alive, by)
	}
	st := p.Status()
	if !st.Running || st.PID <= 0 || st.StartedAt.IsZero() {
		t.Fatalf("unexpected status: %+v", st)
	}

	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if alive, _ := p.DetectAlive(); alive {
		t.Fatalf("stopped process reported alive")
	}
	st = p.Snapshot()
	if st.Running || st.StoppedAt.IsZero() || st.ExitErr == nil {
		t.Fatalf("exit not recorded: %+v", st)
	}
}

func TestDetectAlive_ExternalKill(t *testing.T) {
	requireUnix(t)
	p := New(shSpec("killed", "sleep 5"))
	startOrFail(t, p, nil)
	proc, _ := os.FindProcess(p.PID())
	_ = proc.Kill()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if alive, _ := p.DetectAlive(); !alive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("externally killed process still reported alive")
}

func TestEnforceStartDuration(t *testing.T) {
	requireUnix(t)
	early := New(shSpec("early", "exit 3"))
	startOrFail(t, early, nil)
	err := early.EnforceStartDuration(time.Second)
	if !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("expected ErrExitedEarly, got %v", err)
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.ExitCode() != 3 {
		t.Fatalf("exit error not wrapped: %v", err)
	}

	stays := New(shSpec("stays", "sleep 5"))
	startOrFail(t, stays, nil)
	if err := stays.EnforceStartDuration(50 * time.Millisecond); err != nil {
		t.Fatalf("long-running process failed start window: %v", err)
	}

	if err := New(shSpec("never", "true")).EnforceStartDuration(time.Millisecond); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	p := New(shSpec("stubborn", "trap '' TERM; while :; do sleep 0.05; done"))
	startOrFail(t, p, nil)
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	if err := p.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Fatalf("stop returned before the grace period")
	}
	if alive, _ := p.DetectAlive(); alive {
		t.Fatalf("process survived SIGKILL")
	}
}

func TestStopNotStarted(t *testing.T) {
	if err := New(Spec{Name: "x"}).Stop(time.Millisecond); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStopRemovesStalePIDFile(t *testing.T) {
	requireUnix(t)
	pidfile := filepath.Join(t.TempDir(), "webfsd.pid")
	spec := shSpec("pid", `echo $$ > "$PIDFILE"; exec sleep 5`)
	spec.PIDFile = pidfile
	p := New(spec)
	startOrFail(t, p, []string{"PIDFILE=" + pidfile, "PATH=/bin:/usr/bin"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(pidfile); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("child never wrote its pid file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(pidfile); !os.IsNotExist(err) {
		t.Fatalf("pid file not removed: %v", err)
	}
}

func TestDetachedDaemonTrackedByPIDFile(t *testing.T) {
	requireUnix(t)
	pidfile := filepath.Join(t.TempDir(), "daemon.pid")
	// the launcher forks a long-running child, records its pid and exits like a daemonizing server
	spec := shSpec("daemon", `sleep 5 & echo $! > "$PIDFILE"`)
	spec.Detached = true
	spec.PIDFile = pidfile
	p := New(spec)
	startOrFail(t, p, []string{"PIDFILE=" + pidfile, "PATH=/bin:/usr/bin"})
	if !p.WaitExited(2 * time.Second) {
		t.Fatalf("launcher did not exit")
	}
	if st := p.Snapshot(); st.ExitErr != nil {
		t.Fatalf("launcher failed: %v", st.ExitErr)
	}
	d, err := detector.PIDFileDetector{PIDFile: pidfile}.Pin()
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	p.AddDetector(d)
	alive, by := p.DetectAlive()
	if !alive || by != "pidfile:"+pidfile {
		t.Fatalf("daemon not detected: %v %q", alive, by)
	}
	daemonPID, _ := d.PID()

	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if pidExists(daemonPID) && !isZombie(daemonPID) {
		t.Fatalf("daemon pid %d still alive", daemonPID)
	}
	if alive, _ := p.DetectAlive(); alive {
		t.Fatalf("daemon still detected after stop")
	}
}

func TestStopPID(t *testing.T) {
	requireUnix(t)
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	if err := StopPID(cmd.Process.Pid, time.Second); err != nil {
		t.Fatalf("StopPID: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("process not terminated")
	}
	if err := StopPID(0, time.Millisecond); err != nil {
		t.Fatalf("pid 0 should be a no-op: %v", err)
	}
}

func TestIsZombieFalseForSelf(t *testing.T) {
	if isZombie(os.Getpid()) {
		t.Fatalf("test process is not a zombie")
	}
	if isZombie(-1) {
		t.Fatalf("invalid pid cannot be a zombie")
	}
}
