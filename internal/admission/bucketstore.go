package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock provides the current time for bucket refill math.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MemoryBuckets keeps one x/time token bucket per (zone, client) pair.
// Buckets are created lazily on first use and evicted after the idle TTL so
// one-off clients do not accumulate forever. Contention is scoped to the
// store map; the limiters themselves are internally synchronized.
type MemoryBuckets struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	clock        Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	client   string
	lastSeen time.Time
}

// MemoryOption customizes a MemoryBuckets store.
type MemoryOption func(*MemoryBuckets)

// WithClock replaces the wall clock, primarily for tests.
func WithClock(clock Clock) MemoryOption {
	return func(s *MemoryBuckets) { s.clock = clock }
}

// WithIdleTTL sets how long an untouched bucket survives.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryBuckets) { s.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryBuckets) { s.cleanupEvery = d }
}

// NewMemoryBuckets creates an empty in-process bucket store.
func NewMemoryBuckets(opts ...MemoryOption) *MemoryBuckets {
	s := &MemoryBuckets{
		entries:      make(map[string]*bucketEntry),
		clock:        realClock{},
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consumes one token from the (zone, client) bucket.
func (s *MemoryBuckets) Allow(_ context.Context, zone Zone, clientKey string) (bool, error) {
	now := s.clock.Now()
	key := zone.Name + "|" + clientKey

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &bucketEntry{
			lim:    rate.NewLimiter(rate.Limit(zone.Rate), zone.Burst),
			client: clientKey,
		}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	s.mu.Unlock()

	return entry.lim.AllowN(now, 1), nil
}

// ActiveClients counts distinct clients with a live bucket.
func (s *MemoryBuckets) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make(map[string]struct{}, len(s.entries))
	for _, entry := range s.entries {
		clients[entry.client] = struct{}{}
	}
	return len(clients)
}

// Cleanup drops buckets idle longer than the TTL.
func (s *MemoryBuckets) Cleanup() {
	cutoff := s.clock.Now().Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// StartJanitor evicts idle buckets periodically until ctx is canceled.
func (s *MemoryBuckets) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	ticker := time.NewTicker(s.cleanupEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Len reports the live bucket count.
func (s *MemoryBuckets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close is a no-op for the in-process store.
func (s *MemoryBuckets) Close() error { return nil }
