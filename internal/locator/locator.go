package locator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loykin/httpit/internal/bundle"
)

const BinaryName = "webfsd"

// Source names the strategy that produced a Location.
type Source string

const (
	SourceOverride    Source = "override"
	SourceDevelopment Source = "development"
	SourceInstalled   Source = "installed"
	SourceSystem      Source = "system"
	SourcePath        Source = "path"
	SourceEmbedded    Source = "embedded"
)

var (
	ErrNotFound      = errors.New("webfsd binary not found")
	ErrNotExecutable = errors.New("not an executable file")
)

// DefaultSystemPaths are probed after the development and installed locations.
var DefaultSystemPaths = []string{"/usr/local/bin/webfsd", "/usr/bin/webfsd"}

// Location is a resolved webfsd executable.
type Location struct {
	Path      string `json:"path"`
	Source    Source `json:"source"`
	Temporary bool   `json:"temporary"`
}

// Cleanup removes an extracted temporary copy. It is a no-op otherwise.
func (l Location) Cleanup() error {
	if !l.Temporary || l.Path == "" {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Locator resolves the webfsd executable. Every hook is replaceable so that the
// search order can be exercised without touching the real filesystem layout.
type Locator struct {
	Override    string
	Executable  func() (string, error)
	WorkDir     func() (string, error)
	SystemPaths []string
	LookPath    func(string) (string, error)
	Embedded    func() ([]byte, error)
	TempDir     string
	Logger      *slog.Logger
}

func New() *Locator {
	return &Locator{
		Executable:  os.Executable,
		WorkDir:     os.Getwd,
		SystemPaths: DefaultSystemPaths,
		LookPath:    exec.LookPath,
		Embedded:    bundle.Webfsd,
	}
}

func (l *Locator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type candidate struct {
	path   string
	source Source
}

// candidates lists the fixed-path strategies in search order.
func (l *Locator) candidates() []candidate {
	var out []candidate
	exeDir := ""
	if l.Executable != nil {
		if exe, err := l.Executable(); err == nil {
			if resolved, err := filepath.EvalSymlinks(exe); err == nil {
				exe = resolved
			}
			exeDir = filepath.Dir(exe)
		}
	}
	if exeDir != "" {
		out = append(out, candidate{filepath.Join(exeDir, "..", BinaryName), SourceDevelopment})
	}
	if l.WorkDir != nil {
		if wd, err := l.WorkDir(); err == nil {
			out = append(out, candidate{filepath.Join(wd, BinaryName), SourceDevelopment})
		}
	}
	if exeDir != "" {
		out = append(out, candidate{filepath.Join(exeDir, BinaryName), SourceInstalled})
	}
	for _, p := range l.SystemPaths {
		out = append(out, candidate{p, SourceSystem})
	}
	return out
}

// Find returns the first usable webfsd. The override, when set, is authoritative.
func (l *Locator) Find() (Location, error) {
	log := l.logger()
	if l.Override != "" {
		p, err := filepath.Abs(l.Override)
		if err != nil {
			return Location{}, err
		}
		if !IsExecutable(p) {
			return Location{}, fmt.Errorf("binary override %s: %w", p, ErrNotExecutable)
		}
		return Location{Path: p, Source: SourceOverride}, nil
	}

	for _, c := range l.candidates() {
		p, err := filepath.Abs(c.path)
		if err != nil {
			continue
		}
		if IsExecutable(p) {
			log.Debug("webfsd found", "path", p, "source", c.source)
			return Location{Path: p, Source: c.source}, nil
		}
	}

	if l.LookPath != nil {
		if p, err := l.LookPath(BinaryName); err == nil {
			if abs, err := filepath.Abs(p); err == nil && IsExecutable(abs) {
				log.Debug("webfsd found", "path", abs, "source", SourcePath)
				return Location{Path: abs, Source: SourcePath}, nil
			}
		}
	}

	if l.Embedded != nil {
		loc, err := l.extract()
		if err == nil {
			log.Debug("webfsd extracted", "path", loc.Path)
			return loc, nil
		}
		log.Debug("embedded webfsd unavailable", "err", err)
	}
	return Location{}, ErrNotFound
}

func (l *Locator) extract() (Location, error) {
	data, err := l.Embedded()
	if err != nil {
		return Location{}, err
	}
	if len(data) == 0 {
		return Location{}, bundle.ErrNotBundled
	}
	f, err := os.CreateTemp(l.TempDir, BinaryName+"_*")
	if err != nil {
		return Location{}, err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Location{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Location{}, err
	}
	if err := os.Chmod(path, 0o755); err != nil {
		_ = os.Remove(path)
		return Location{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Location{Path: abs, Source: SourceEmbedded, Temporary: true}, nil
}
