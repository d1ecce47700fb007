package detector

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sleep on Unix-like systems")
	}
}

func startSleep(t *testing.T, dur string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", dur)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func writePID(t *testing.T, pid int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webfsd.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	return path
}

func TestReadPID(t *testing.T) {
	path := writePID(t, 4242)
	pid, err := ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}

	empty := filepath.Join(t.TempDir(), "empty.pid")
	_ = os.WriteFile(empty, nil, 0o600)
	if _, err := ReadPID(empty); !errors.Is(err, ErrNoPID) {
		t.Fatalf("expected ErrNoPID, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pid")
	_ = os.WriteFile(garbage, []byte("abc"), 0o600)
	if _, err := ReadPID(garbage); err == nil {
		t.Fatalf("expected error for non-numeric pid")
	}
}

func TestPIDFileDetector_MissingFile(t *testing.T) {
	d := PIDFileDetector{PIDFile: filepath.Join(t.TempDir(), "absent.pid")}
	alive, err := d.Alive()
	if err != nil || alive {
		t.Fatalf("missing pid file should be not alive without error: %v %v", alive, err)
	}
}

func TestPIDFileDetector_LiveAndDead(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "5")
	d := PIDFileDetector{PIDFile: writePID(t, cmd.Process.Pid)}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("expected alive: %v %v", alive, err)
	}
	if d.Describe() != "pidfile:"+d.PIDFile {
		t.Fatalf("unexpected describe: %s", d.Describe())
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	alive, _ = d.Alive()
	if alive {
		t.Fatalf("expected not alive after kill")
	}
}

func TestPIDFileDetector_PinRejectsReusedPID(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "5")
	time.Sleep(20 * time.Millisecond)
	d := PIDFileDetector{PIDFile: writePID(t, cmd.Process.Pid)}
	pinned, err := d.Pin()
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if pinned.StartUnix == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	if alive, _ := pinned.Alive(); !alive {
		t.Fatalf("pinned detector should see its own process")
	}

	pinned.StartUnix -= 3600
	if alive, _ := pinned.Alive(); alive {
		t.Fatalf("start time mismatch must be treated as a reused pid")
	}
}

func TestPIDDetector(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "5")
	d := PIDDetector{PID: cmd.Process.Pid}
	if alive, _ := d.Alive(); !alive {
		t.Fatalf("expected alive")
	}
	if alive, _ := (PIDDetector{PID: 0}).Alive(); alive {
		t.Fatalf("pid 0 must not be alive")
	}
}
