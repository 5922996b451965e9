package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It persists run snapshots and archives in a single-file database and is
// meant for single-process deployments and development setups with zero
// infrastructure. WAL mode keeps reads concurrent with the walk's writes.
//
// Schema (auto-migrated on first use):
//   - run_steps: per-step snapshot history
//   - run_archive: terminal state per finished run
//
// Type parameter S must be JSON-serializable.
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports a single writer; keep one connection to avoid lock
	// contention between the pool's connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS run_steps (
	run_id     TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	node_id    TEXT    NOT NULL,
	state      TEXT    NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS run_archive (
	run_id      TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, seq int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_steps (run_id, seq, node_id, state) VALUES (?, ?, ?, ?)`,
		runID, seq, nodeID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (state S, seq int, err error) {
	var zero S
	var data string
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, state FROM run_steps WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID)
	if err := row.Scan(&seq, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, 0, ErrNotFound
		}
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, seq, nil
}

// Archive implements Store.
func (s *SQLiteStore[S]) Archive(ctx context.Context, runID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_archive (run_id, state) VALUES (?, ?)`,
		runID, string(data))
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// LoadArchive implements Store.
func (s *SQLiteStore[S]) LoadArchive(ctx context.Context, runID string) (S, error) {
	var zero S
	var data string
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM run_archive WHERE run_id = ?`, runID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("failed to load archive: %w", err)
	}
	var state S
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

// DeleteRun implements Store.
func (s *SQLiteStore[S]) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_archive WHERE run_id = ?`, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return tx.Commit()
}

// Close releases the database connection. The store is unusable afterward.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
