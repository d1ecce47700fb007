package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventExit  EventType = "exit" // webfsd exited without a stop request
)

// Table is the relational table every SQL sink appends to.
const Table = "server_history"

// Record is the state of one webfsd run at the time of an event.
type Record struct {
	Name    string `json:"name" db:"name"`
	RunID   string `json:"run_id" db:"run_id"`
	PID     int    `json:"pid" db:"pid"`
	Port    int    `json:"port" db:"port"`
	Root    string `json:"root" db:"root"`
	Status  string `json:"status" db:"status"`
	ExitErr string `json:"exit_err,omitempty" db:"exit_err"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type" db:"event"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Record     `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatch sends e to every sink. Failures are logged and joined; they never
// stop delivery to the remaining sinks.
func Dispatch(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			if log != nil {
				log.Warn("history sink failed", "event", e.Type, "run_id", e.RunID, "err", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
