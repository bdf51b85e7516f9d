// Package store defines the versioned status store for creation jobs.
package store

import (
	"context"
	"errors"

	"github.com/shayanmanesh/create/pkg/creation"
)

// ErrExists indicates a Create with an id that is already present.
var ErrExists = errors.New("job already exists")

// ErrNotFound indicates an unknown job id.
var ErrNotFound = errors.New("job not found")

// ErrConflict indicates a CompareAndSet whose expected version lost the race.
var ErrConflict = errors.New("version conflict")

// Store persists creation job snapshots keyed by id with per-key optimistic
// versioning. Implementations must never mutate a stored snapshot in place:
// every write goes through Create or CompareAndSet, and the version counter
// strictly increases on each successful write.
type Store interface {
	// Create persists a new job at version 1. Fails with ErrExists when the
	// id is already present.
	Create(ctx context.Context, job creation.Job) error

	// Get returns the current snapshot or ErrNotFound.
	Get(ctx context.Context, id string) (creation.Job, error)

	// CompareAndSet replaces the snapshot only when the stored version equals
	// expected, bumping the version by one. Returns ErrConflict otherwise.
	CompareAndSet(ctx context.Context, id string, expected uint64, job creation.Job) error

	// ListByOwner returns the caller's jobs, newest first, bounded by limit.
	ListByOwner(ctx context.Context, owner string, offset, limit int) ([]creation.Job, error)

	Close() error
}
