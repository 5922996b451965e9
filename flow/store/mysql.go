package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store[S] for shared deployments
// where several processes observe run history.
//
// Connect with a DSN like:
//
//	user:password@tcp(localhost:3306)/flowgraph?parseTime=true
//
// The schema is auto-migrated on first use. Type parameter S must be
// JSON-serializable.
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store with the given DSN.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS run_steps (
			run_id     VARCHAR(191) NOT NULL,
			seq        INT          NOT NULL,
			node_id    VARCHAR(191) NOT NULL,
			state      JSON         NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_archive (
			run_id      VARCHAR(191) PRIMARY KEY,
			state       JSON NOT NULL,
			archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveStep implements Store.
func (s *MySQLStore[S]) SaveStep(ctx context.Context, runID string, seq int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, seq, node_id, state) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE node_id = VALUES(node_id), state = VALUES(state)`,
		runID, seq, nodeID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (state S, seq int, err error) {
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
func (s *MySQLStore[S]) Archive(ctx context.Context, runID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_archive (run_id, state) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE state = VALUES(state)`,
		runID, string(data))
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// LoadArchive implements Store.
func (s *MySQLStore[S]) LoadArchive(ctx context.Context, runID string) (S, error) {
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
func (s *MySQLStore[S]) DeleteRun(ctx context.Context, runID string) error {
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

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}
