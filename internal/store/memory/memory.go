// Package memory provides the in-memory status store backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

// Clock provides the current time for retention decisions.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store keeps job snapshots in process memory. Terminal entries are retained
// for the configured window and evicted by the janitor; a reader that raced
// an eviction simply sees ErrNotFound on its next call.
type Store struct {
	mu        sync.RWMutex
	clock     Clock
	retention time.Duration
	jobs      map[string]creation.Job
	doneAt    map[string]time.Time

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock, primarily for tests.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithRetention sets how long terminal snapshots are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:       realClock{},
		retention:   time.Hour,
		jobs:        map[string]creation.Job{},
		doneAt:      map[string]time.Time{},
		janitorStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new snapshot at version 1.
func (s *Store) Create(_ context.Context, job creation.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrExists
	}
	job.Version = 1
	s.jobs[job.ID] = job.Clone()
	if job.Status.Terminal() {
		s.doneAt[job.ID] = s.clock.Now()
	}
	return nil
}

// Get returns the current snapshot for id.
func (s *Store) Get(_ context.Context, id string) (creation.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return creation.Job{}, store.ErrNotFound
	}
	return job.Clone(), nil
}

// CompareAndSet performs the optimistic-concurrency write.
func (s *Store) CompareAndSet(_ context.Context, id string, expected uint64, job creation.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expected {
		return store.ErrConflict
	}
	job.ID = id
	job.Version = expected + 1
	s.jobs[id] = job.Clone()
	if job.Status.Terminal() {
		s.doneAt[id] = s.clock.Now()
	}
	return nil
}

// ListByOwner returns the owner's snapshots, newest first.
func (s *Store) ListByOwner(_ context.Context, owner string, offset, limit int) ([]creation.Job, error) {
	s.mu.RLock()
	matched := make([]creation.Job, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// EvictExpired removes terminal entries older than the retention window and
// reports how many were dropped.
func (s *Store) EvictExpired() int {
	cutoff := s.clock.Now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, done := range s.doneAt {
		if done.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.doneAt, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor evicts expired terminal entries on the given interval until
// the context is canceled.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	s.janitorOnce.Do(func() {
		if every <= 0 {
			return
		}
		ticker := time.NewTicker(every)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.janitorStop:
					return
				case <-ticker.C:
					s.EvictExpired()
				}
			}
		}()
	})
}

// Len reports the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Close stops the janitor.
func (s *Store) Close() error {
	select {
	case <-s.janitorStop:
	default:
		close(s.janitorStop)
	}
	return nil
}
