// Package store provides persistence backends for run-state snapshots and
// terminal archives.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run ID has no stored state.
var ErrNotFound = errors.New("not found")

// Store persists run-state snapshots during a walk and archives the final
// state at run completion.
//
// The engine treats persistence as an audit concern: snapshots are saved
// after each step so external tooling can inspect a run's history, and the
// terminal RunState is archived when the run finishes. Runtime data and
// variables are never persisted; they are supplied fresh per run.
//
// Implementations can use in-memory maps (testing), SQLite (single-process
// deployments), or MySQL (shared deployments).
//
// Type parameter S is the snapshot type to persist; it must be
// JSON-serializable.
type Store[S any] interface {
	// SaveStep persists the snapshot taken after one step of a run.
	//
	// Each snapshot is identified by runID + seq; seq starts at 1 and is
	// monotonically increasing within a run.
	SaveStep(ctx context.Context, runID string, seq int, nodeID string, state S) error

	// LoadLatest retrieves the most recent snapshot for a run, together
	// with its seq. Returns ErrNotFound when the run has no snapshots.
	LoadLatest(ctx context.Context, runID string) (state S, seq int, err error)

	// Archive stores the terminal state of a finished run. Archiving is
	// idempotent: a second call for the same run overwrites the first.
	Archive(ctx context.Context, runID string, state S) error

	// LoadArchive retrieves a finished run's terminal state. Returns
	// ErrNotFound when the run was never archived.
	LoadArchive(ctx context.Context, runID string) (S, error)

	// DeleteRun removes all snapshots and the archive for a run.
	DeleteRun(ctx context.Context, runID string) error
}

// StepRecord is one persisted snapshot in a run's history. Used by Store
// implementations to track step-by-step progression.
type StepRecord[S any] struct {
	// Seq is the sequential step number (1-indexed).
	Seq int

	// NodeID identifies the node whose outcome produced this snapshot.
	NodeID string

	// State is the snapshot after the step completed.
	State S
}
