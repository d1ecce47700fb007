package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	Name  string
	RunID string
	Since time.Time
	Limit int
}

// DefaultLimit caps queries that do not set Filter.Limit.
const DefaultLimit = 50

// Reader queries events written by the SQL sinks.
type Reader struct {
	db *sqlx.DB
}

func NewReader(db *sqlx.DB) *Reader { return &Reader{db: db} }

// Query returns matching events, newest first.
func (r *Reader) Query(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := "SELECT event, occurred_at, name, run_id, pid, port, root, status, exit_err FROM " + Table
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT %d", limit)

	var out []Event
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query history: %w", err)
	}
	return out, nil
}

// missingTable reports a store no sink has written to yet
// (SQLite "no such table", PostgreSQL SQLSTATE 42P01).
func missingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "42P01")
}

func (r *Reader) Close() error { return r.db.Close() }
