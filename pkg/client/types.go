package client

import "time"

// Status mirrors the control API's status document.
type Status struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
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

type actionResponse struct {
	OK     bool   `json:"ok"`
	Status Status `json:"status"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
