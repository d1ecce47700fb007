package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/httpit/internal/history"
)

// Sink appends history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// TrimDSN strips the optional sqlite:// prefix.
func TrimDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	return dsn
}

// BusyTimeout is how long a connection waits on a lock held by another
// process (a running server and `httpit history` share the file).
const BusyTimeout = 5 * time.Second

// ConnDSN turns a history DSN into a modernc driver DSN with a busy timeout.
func ConnDSN(dsn string) string {
	dsn = TrimDSN(dsn)
	if dsn == "" || strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, BusyTimeout.Milliseconds())
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
func New(dsn string) (*Sink, error) {
	dsn = TrimDSN(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	db, err := sql.Open("sqlite", ConnDSN(dsn))
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)
	sink := &Sink{db: db}
	if err := EnsureSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// EnsureSchema creates the history table if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + history.Table + `(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			name TEXT NOT NULL,
			run_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			root TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_err TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_history_run ON ` + history.Table + `(run_id);`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+history.Table+`(occurred_at, event, name, run_id, pid, port, root, status, exit_err)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Name, e.RunID, e.PID, e.Port, e.Root, e.Status, e.ExitErr)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
