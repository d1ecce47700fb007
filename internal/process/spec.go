package process

import (
	"github.com/loykin/httpit/internal/detector"
	"github.com/loykin/httpit/internal/logger"
)

// Spec describes one external process to launch.
type Spec struct {
	Name      string              `json:"name"`
	Path      string              `json:"path"`     // absolute executable path
	Args      []string            `json:"args"`     // argv without argv[0]
	Dir       string              `json:"dir"`      // optional working directory
	Detached  bool                `json:"detached"` // new session instead of a new process group
	PIDFile   string              `json:"pid_file"` // written by the child itself; used for detection and removed on stop
	Output    logger.Output       `json:"-"`
	Detectors []detector.Detector `json:"-"`
}
