package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/internal/testutil"
	"github.com/shayanmanesh/create/pkg/creation"
)

func newJob(id, owner string, created time.Time) creation.Job {
	return creation.Job{
		ID:           id,
		Owner:        owner,
		CreationType: "general",
		InputType:    creation.InputText,
		Status:       creation.StatusQueued,
		PriceCharged: 0.99,
		CreatedAt:    created,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := newJob("a", "alice", time.Now())

	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, job); !errors.Is(err, store.ErrExists) {
		t.Fatalf("duplicate create: want ErrExists, got %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 {
		t.Fatalf("fresh job version: want 1, got %d", got.Version)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newJob("a", "alice", time.Now())); err != nil {
		t.Fatal(err)
	}

	job, _ := s.Get(ctx, "a")
	next := job.Clone()
	next.Status = creation.StatusProcessing
	if err := s.CompareAndSet(ctx, "a", job.Version, next); err != nil {
		t.Fatal(err)
	}

	// A writer still holding the old version loses.
	stale := job.Clone()
	stale.Status = creation.StatusFailed
	if err := s.CompareAndSet(ctx, "a", job.Version, stale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale write: want ErrConflict, got %v", err)
	}

	got, _ := s.Get(ctx, "a")
	if got.Version != 2 {
		t.Fatalf("version after CAS: want 2, got %d", got.Version)
	}
	if got.Status != creation.StatusProcessing {
		t.Fatalf("losing write overwrote the snapshot: %s", got.Status)
	}

	if err := s.CompareAndSet(ctx, "missing", 1, next); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		job := newJob(string(rune('a'+i)), "alice", base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Create(ctx, newJob("z", "bob", base)); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.ListByOwner(ctx, "alice", 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("want 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "e" || jobs[1].ID != "d" {
		t.Fatalf("not newest first: %s, %s", jobs[0].ID, jobs[1].ID)
	}

	rest, err := s.ListByOwner(ctx, "alice", 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("offset page: want 2 jobs, got %d", len(rest))
	}

	none, err := s.ListByOwner(ctx, "carol", 0, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown owner: want empty, got %d, %v", len(none), err)
	}
}

func TestRetentionEvictsOnlyTerminal(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	s := New(WithClock(clock), WithRetention(time.Hour))
	ctx := context.Background()

	if err := s.Create(ctx, newJob("live", "alice", clock.Now())); err != nil {
		t.Fatal(err)
	}
	done := newJob("done", "alice", clock.Now())
	if err := s.Create(ctx, done); err != nil {
		t.Fatal(err)
	}
	stored, _ := s.Get(ctx, "done")
	terminal := stored.Clone()
	terminal.Status = creation.StatusProcessing
	if err := s.CompareAndSet(ctx, "done", stored.Version, terminal); err != nil {
		t.Fatal(err)
	}
	terminal.Status = creation.StatusCompleted
	if err := s.CompareAndSet(ctx, "done", stored.Version+1, terminal); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)
	if evicted := s.EvictExpired(); evicted != 1 {
		t.Fatalf("want 1 eviction, got %d", evicted)
	}
	if _, err := s.Get(ctx, "done"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("terminal job survived retention: %v", err)
	}
	if _, err := s.Get(ctx, "live"); err != nil {
		t.Fatalf("queued job evicted: %v", err)
	}
}
