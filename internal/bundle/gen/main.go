// Command gen builds webfsd from a source tree and copies it into internal/bundle/bin.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/pflag"
)

// cflags holds the optimisation flags per OS; a missing entry means unsupported.
var cflags = map[string]string{
	"darwin":  "-O3 -ffast-math -funroll-loops -fomit-frame-pointer",
	"linux":   "-O3 -ffast-math -funroll-loops -fomit-frame-pointer -fPIC",
	"freebsd": "-O3 -ffast-math -funroll-loops -fomit-frame-pointer -fPIC",
}

func main() {
	src := pflag.String("src", "third_party/webfsd", "webfsd source tree containing a Makefile")
	out := pflag.String("out", "internal/bundle/bin/webfsd", "destination of the built binary")
	makeBin := pflag.String("make", "make", "make executable")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := build(log, *makeBin, *src, *out, runtime.GOOS); err != nil {
		log.Error("webfsd build failed", "err", err)
		os.Exit(1)
	}
	log.Info("webfsd built", "out", *out)
}

func build(log *slog.Logger, makeBin, src, out, goos string) error {
	flags, ok := cflags[goos]
	if !ok {
		return fmt.Errorf("building webfsd on %s is not supported", goos)
	}
	if _, err := os.Stat(filepath.Join(src, "Makefile")); err != nil {
		return fmt.Errorf("no Makefile in %s: %w", src, err)
	}
	built := filepath.Join(src, "webfsd")
	_ = os.Remove(built)

	// a failing clean only means there was nothing to clean
	if b, err := run(src, nil, makeBin, "clean"); err != nil {
		log.Debug("make clean failed", "err", err, "output", string(b))
	}
	if b, err := run(src, []string{"CFLAGS=" + flags}, makeBin, "webfsd"); err != nil {
		return fmt.Errorf("make webfsd: %w\n%s", err, b)
	}
	if _, err := os.Stat(built); err != nil {
		return errors.New("webfsd binary not found after build")
	}
	if err := copyExecutable(built, out); err != nil {
		return err
	}
	return nil
}

func run(dir string, extraEnv []string, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- build helper invoked by developers
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	return cmd.CombinedOutput()
}

func copyExecutable(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	tmp := to + ".tmp"
	outF, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outF, in); err != nil {
		_ = outF.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := outF.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, to)
}
