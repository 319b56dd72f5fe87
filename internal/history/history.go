// Package history persists completed refinement runs to SQLite. Only final
// results are stored; intermediate drafts never touch disk.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/factotum-dev/factotum/internal/refine"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	topic       TEXT NOT NULL,
	research    TEXT NOT NULL,
	iterations  INTEGER NOT NULL,
	confidence  REAL,
	model       TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Run is one completed refinement run as recorded in the ledger.
type Run struct {
	ID         string
	Topic      string
	Research   string
	Iterations int
	Confidence *float64
	Model      string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Store is a SQLite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger at path, initializing the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent readers while a run is being recorded.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a completed run into the ledger.
func (s *Store) Record(ctx context.Context, result *refine.Result, model string) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	var confidence sql.NullFloat64
	if result.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *result.Confidence, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, topic, research, iterations, confidence, model, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.Topic, result.Research, result.Iterations,
		confidence, model, result.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.ID, err)
	}
	return nil
}

// Get returns the run with the given ID, or (nil, nil) when not found.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, research, iterations, confidence, model, duration_ms, created_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, research, iterations, confidence, model, duration_ms, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var confidence sql.NullFloat64
	var durationMS int64

	err := s.Scan(&run.ID, &run.Topic, &run.Research, &run.Iterations,
		&confidence, &run.Model, &durationMS, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	if confidence.Valid {
		run.Confidence = &confidence.Float64
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
