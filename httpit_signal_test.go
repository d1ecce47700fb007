//go:build !windows

package httpit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signalChildEnv = "HTTPIT_SIGNAL_CHILD"

// interruptWhenRunning sends SIGINT to the test process once webfsd is up and
// reports the webfsd PID it saw. Nothing is sent if webfsd never comes up.
func interruptWhenRunning(srv *Server) <-chan int {
	pidc := make(chan int, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !srv.IsRunning() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		pid := srv.PID()
		pidc <- pid
		if pid > 0 {
			_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
		}
	}()
	return pidc
}

func reaped(pid int) bool {
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestServeForeverStopsOnInterrupt(t *testing.T) {
	srv, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	pidc := interruptWhenRunning(srv)
	done := make(chan error, 1)
	go func() { done <- srv.ServeForever(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeForever did not return after SIGINT")
	}
	pid := <-pidc
	require.Greater(t, pid, 0)
	assert.False(t, srv.IsRunning())
	assert.True(t, reaped(pid), "webfsd %d still exists", pid)
}

// TestServeForeverRestoresInterrupt runs ServeForever in a child test process.
// After it returns, a second SIGINT must terminate the child the default way.
func TestServeForeverRestoresInterrupt(t *testing.T) {
	if os.Getenv(signalChildEnv) == "1" {
		serveForeverChild(t)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestServeForeverRestoresInterrupt$", "-test.v")
	cmd.Env = append(os.Environ(), signalChildEnv+"=1")
	out, err := cmd.Output()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "child output:\n%s", out)
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, ws.Signaled() && ws.Signal() == syscall.SIGINT, "child exit: %v\n%s", ws, out)
	assert.Contains(t, string(out), "serve returned: <nil>")
	assert.Contains(t, string(out), "webfsd reaped: true")
	assert.False(t, strings.Contains(string(out), "interrupt ignored"))
}

func serveForeverChild(t *testing.T) {
	srv, err := New(testConfig(t))
	if err != nil {
		fmt.Println("new:", err)
		os.Exit(2)
	}
	pidc := interruptWhenRunning(srv)
	err = srv.ServeForever(context.Background())
	fmt.Println("serve returned:", err)
	fmt.Println("webfsd reaped:", reaped(<-pidc))

	_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
	time.Sleep(2 * time.Second)
	fmt.Println("interrupt ignored")
	os.Exit(0)
}
