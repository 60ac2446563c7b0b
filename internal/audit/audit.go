// Package audit keeps an append-only SQLite history of approval
// transitions. It is a record of what happened, not a store the approval
// queue is restored from.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/opsguardian/internal/approval"
)

const (
	// DefaultHistoryLimit is used when History is called without a limit.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps a single History call.
	MaxHistoryLimit = 1000

	recordTimeout = 5 * time.Second
)

// Entry is one recorded transition.
type Entry struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	Event       string    `json:"event"`
	Tool        string    `json:"tool"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Payload     string    `json:"payload,omitempty"`
	// EditedPayload is what actually ran when the operator edited the
	// request on approval.
	EditedPayload string    `json:"edited_payload,omitempty"`
	Result        string    `json:"result,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Store writes and reads audit entries.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (creating if needed) the audit database at path. ":memory:"
// gives a private in-process database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("audit: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY and lets
	// ":memory:" behave as a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: wal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now, logger: logger.With("component", "audit")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS approval_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id  TEXT NOT NULL,
			event       TEXT NOT NULL,
			tool        TEXT NOT NULL,
			status      TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL DEFAULT '',
			edited      TEXT NOT NULL DEFAULT '',
			result      TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_events_request ON approval_events(request_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends ev.
func (s *Store) Record(ctx context.Context, ev approval.Event) error {
	req := ev.Request
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_events(request_id, event, tool, status, description, payload, edited, result, recorded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, ev.Type, req.Tool, string(req.Status), req.Description, req.Payload(), req.EditedPayload, req.Result,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", ev.Type, req.ID, err)
	}
	return nil
}

// Subscriber returns a queue subscriber that records every event and logs
// failures.
func (s *Store) Subscriber() func(approval.Event) {
	return func(ev approval.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.Record(ctx, ev); err != nil {
			s.logger.Error("failed to record approval event", "error", err)
		}
	}
}

// History returns the newest entries first. limit <= 0 uses
// DefaultHistoryLimit.
func (s *Store) History(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, request_id, event, tool, status, description, payload, edited, result, recorded_at
		 FROM approval_events ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// ForRequest returns every entry for one request, oldest first.
func (s *Store) ForRequest(ctx context.Context, requestID string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, request_id, event, tool, status, description, payload, edited, result, recorded_at
		 FROM approval_events WHERE request_id = ? ORDER BY id ASC`, requestID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Event, &e.Tool, &e.Status, &e.Description, &e.Payload, &e.EditedPayload, &e.Result, &at); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
