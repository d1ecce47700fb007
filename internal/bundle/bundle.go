// Package bundle carries an optional copy of webfsd inside the httpit binary.
package bundle

//go:generate go run ./gen --src ../../third_party/webfsd --out bin/webfsd

import (
	"embed"
	"errors"
	"io/fs"
)

//go:embed bin
var files embed.FS

const binaryPath = "bin/webfsd"

var ErrNotBundled = errors.New("webfsd is not bundled in this build")

// Webfsd returns the embedded executable image.
func Webfsd() ([]byte, error) {
	b, err := files.ReadFile(binaryPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(b) == 0) {
		return nil, ErrNotBundled
	}
	return b, err
}

// Available reports whether this build carries a webfsd copy.
func Available() bool {
	fi, err := fs.Stat(files, binaryPath)
	return err == nil && fi.Size() > 0
}
