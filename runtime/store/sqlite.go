package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/plango-run/plango/runtime/emit"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder is a SQLite-backed Recorder: a single-file, zero-setup
// audit log of completed steps and recorded I/O. Suited to development,
// single-process deployments, and local debugging of a run's history.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteRecorder opens (creating if absent) a SQLite database at path
// and ensures its schema exists. path may be ":memory:" for a
// process-local, non-persistent database.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRecorder) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id)`,
		`CREATE TABLE IF NOT EXISTS recorded_io (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			request TEXT NOT NULL,
			response TEXT NOT NULL,
			hash TEXT NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recorded_io_run_node ON recorded_io(run_id, node_name, attempt)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT NOT NULL PRIMARY KEY,
			event_data TEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// RecordStep implements Recorder.
func (r *SQLiteRecorder) RecordStep(ctx context.Context, runID, nodeName string, output []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("store: recorder closed")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, node_name, output) VALUES (?, ?, ?)`,
		runID, nodeName, string(output))
	return err
}

// RecordIO implements Recorder.
func (r *SQLiteRecorder) RecordIO(ctx context.Context, runID, nodeName string, attempt int, io RecordedIO) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("store: recorder closed")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recorded_io (run_id, node_name, attempt, request, response, hash, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, nodeName, attempt, string(io.Request), string(io.Response), io.Hash, io.Duration.Nanoseconds())
	return err
}

// PendingEvents implements Recorder.
func (r *SQLiteRecorder) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("store: recorder closed")
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_data FROM events_outbox WHERE emitted_at IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []emit.Event
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		var e emit.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("store: unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsEmitted implements Recorder.
func (r *SQLiteRecorder) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("store: recorder closed")
	}
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := ""
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	// #nosec G201 -- placeholders are "?" marks, not user input
	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = CURRENT_TIMESTAMP WHERE id IN (%s)`, placeholders)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Close implements Recorder.
func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
