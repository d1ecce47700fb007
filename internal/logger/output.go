package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Output describes where a child process writes its stdout and stderr.
// Inherit wins over Dir. With neither set both streams are discarded.
type Output struct {
	Dir     string
	Inherit bool
	Rotate  FileConfig // Path is ignored; only rotation limits apply
}

// consoleWriter shares one of our own std streams with the child. Close is a no-op.
type consoleWriter struct{ f *os.File }

func (c consoleWriter) Write(b []byte) (int, error) { return c.f.Write(b) }
func (c consoleWriter) Close() error                { return nil }

// File exposes the descriptor so exec can hand it to the child without a copy pipe.
func (c consoleWriter) File() *os.File { return c.f }

// Writers returns the stdout and stderr writers for a child named name.
// Files are Dir/<name>.stdout.log and Dir/<name>.stderr.log.
func (o Output) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if o.Inherit {
		return consoleWriter{os.Stdout}, consoleWriter{os.Stderr}, nil
	}
	if o.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(o.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}
	out := o.Rotate.writer(filepath.Join(o.Dir, name+".stdout.log"))
	errW := o.Rotate.writer(filepath.Join(o.Dir, name+".stderr.log"))
	return out, errW, nil
}
