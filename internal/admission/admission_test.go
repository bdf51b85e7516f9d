package admission

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shayanmanesh/create/internal/testutil"
)

func newTestController(t *testing.T, clock Clock) (*Controller, *MemoryBuckets) {
	t.Helper()
	m, err := NewMatcher(testRules(), []string{"/health", "/metrics"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	buckets := NewMemoryBuckets(WithClock(clock), WithIdleTTL(15*time.Minute))
	return NewController(m, buckets), buckets
}

func TestAdmitBurstThenReject(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	ctrl, _ := newTestController(t, clock)
	ctx := context.Background()

	// The create zone holds 5 burst tokens at 10 tokens per minute.
	for i := 0; i < 5; i++ {
		if err := ctrl.Admit(ctx, "/api/creations/create", "alice"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	err := ctrl.Admit(ctx, "/api/creations/create", "alice")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}

	// Another client has its own bucket.
	if err := ctrl.Admit(ctx, "/api/creations/create", "bob"); err != nil {
		t.Fatalf("bob rejected by alice's bucket: %v", err)
	}

	// One refill interval restores exactly one token.
	clock.Advance(6 * time.Second)
	if err := ctrl.Admit(ctx, "/api/creations/create", "alice"); err != nil {
		t.Fatalf("refilled token rejected: %v", err)
	}
	if err := ctrl.Admit(ctx, "/api/creations/create", "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second request after single refill: want ErrRateLimited, got %v", err)
	}
}

func TestAdmitZonesAreIndependent(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	ctrl, _ := newTestController(t, clock)
	ctx := context.Background()

	// Drain the create zone; the broader api zone must stay unaffected.
	for i := 0; i < 5; i++ {
		if err := ctrl.Admit(ctx, "/api/creations/create", "alice"); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}
	if err := ctrl.Admit(ctx, "/api/creations/abc", "alice"); err != nil {
		t.Fatalf("api zone rejected after create zone drained: %v", err)
	}
}

func TestAdmitUnmatchedAndExemptPaths(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	ctrl, buckets := newTestController(t, clock)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := ctrl.Admit(ctx, "/health", "alice"); err != nil {
			t.Fatalf("exempt path rejected: %v", err)
		}
		if err := ctrl.Admit(ctx, "/somewhere/else", "alice"); err != nil {
			t.Fatalf("unmatched path rejected: %v", err)
		}
	}
	if buckets.Len() != 0 {
		t.Fatalf("exempt traffic created %d buckets", buckets.Len())
	}
}

func TestBucketEviction(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	buckets := NewMemoryBuckets(WithClock(clock), WithIdleTTL(time.Minute))
	zone := Zone{Name: "create", Rate: 1, Burst: 5}
	ctx := context.Background()

	if _, err := buckets.Allow(ctx, zone, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := buckets.Allow(ctx, zone, "bob"); err != nil {
		t.Fatal(err)
	}
	if got := buckets.ActiveClients(); got != 2 {
		t.Fatalf("want 2 active clients, got %d", got)
	}

	clock.Advance(30 * time.Second)
	if _, err := buckets.Allow(ctx, zone, "bob"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(45 * time.Second)
	buckets.Cleanup()

	// Alice idled past the TTL; bob's bucket was touched recently.
	if got := buckets.ActiveClients(); got != 1 {
		t.Fatalf("want 1 active client after eviction, got %d", got)
	}
}

func TestDefaultKeyFunc(t *testing.T) {
	key := DefaultKeyFunc("X-User-ID", true)

	r := httptest.NewRequest("GET", "/api/creations", nil)
	r.Header.Set("X-User-ID", "user-7")
	if got := key(r); got != "user-7" {
		t.Fatalf("user header: got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/creations", nil)
	r.Header.Set("X-Forwarded-For", "10.1.2.3, 172.16.0.1")
	if got := key(r); got != "10.1.2.3" {
		t.Fatalf("xff: got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/creations", nil)
	r.RemoteAddr = "192.168.1.9:54321"
	if got := key(r); got != "192.168.1.9" {
		t.Fatalf("remote addr: got %q", got)
	}

	untrusted := DefaultKeyFunc("", false)
	r = httptest.NewRequest("GET", "/api/creations", nil)
	r.Header.Set("X-Forwarded-For", "10.1.2.3")
	r.RemoteAddr = "192.168.1.9:54321"
	if got := untrusted(r); got != "192.168.1.9" {
		t.Fatalf("untrusted proxy must ignore XFF, got %q", got)
	}
}
