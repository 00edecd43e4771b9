package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/plango-run/plango/runtime/emit"
)

// MySQLRecorder is a MySQL/MariaDB-backed Recorder: a production-grade
// audit log for distributed deployments running many Engines against one
// database.
type MySQLRecorder struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLRecorder opens dsn and ensures the recorder's schema exists.
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	r := &MySQLRecorder{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *MySQLRecorder) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			node_name VARCHAR(255) NOT NULL,
			output JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS recorded_io (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			node_name VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			request JSON NOT NULL,
			response JSON NOT NULL,
			hash VARCHAR(128) NOT NULL,
			duration_ns BIGINT NOT NULL,
			INDEX idx_run_node (run_id, node_name, attempt)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			event_data JSON NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_pending (emitted_at, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// RecordStep implements Recorder.
func (r *MySQLRecorder) RecordStep(ctx context.Context, runID, nodeName string, output []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("store: recorder closed")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, node_name, output) VALUES (?, ?, ?)`,
		runID, nodeName, output)
	return err
}

// RecordIO implements Recorder.
func (r *MySQLRecorder) RecordIO(ctx context.Context, runID, nodeName string, attempt int, io RecordedIO) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("store: recorder closed")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recorded_io (run_id, node_name, attempt, request, response, hash, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, nodeName, attempt, io.Request, io.Response, io.Hash, io.Duration.Nanoseconds())
	return err
}

// PendingEvents implements Recorder.
func (r *MySQLRecorder) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
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
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		var e emit.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("store: unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsEmitted implements Recorder.
func (r *MySQLRecorder) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
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
func (r *MySQLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
