package admission

import (
	"context"
	"errors"
	"fmt"
)

// ErrRateLimited is the distinct rejection signal for an exhausted bucket.
// Callers translate it to 429; it is never confused with validation or auth
// failures.
var ErrRateLimited = errors.New("rate limit exceeded")

// BucketStore owns the per-(zone, client) leaky buckets.
type BucketStore interface {
	// Allow consumes one token from the bucket identified by zone and
	// clientKey, reporting whether a token was available.
	Allow(ctx context.Context, zone Zone, clientKey string) (bool, error)

	// ActiveClients reports the number of distinct clients with a live
	// bucket, used as the pricing sampler's active-user signal.
	ActiveClients() int

	Close() error
}

// Controller applies path-based zone selection and per-client rate limits.
type Controller struct {
	matcher *Matcher
	buckets BucketStore
}

// NewController wires a compiled matcher to a bucket store.
func NewController(matcher *Matcher, buckets BucketStore) *Controller {
	return &Controller{matcher: matcher, buckets: buckets}
}

// Admit allows or rejects one request. A nil return admits the request and
// has consumed exactly one token from the winning zone's bucket; ErrRateLimited
// rejects it. Paths outside every zone (and exempt paths) are admitted
// without touching any bucket.
func (c *Controller) Admit(ctx context.Context, path, clientKey string) error {
	zone, ok := c.matcher.Match(path)
	if !ok {
		return nil
	}
	allowed, err := c.buckets.Allow(ctx, zone, clientKey)
	if err != nil {
		return fmt.Errorf("admission check for zone %s: %w", zone.Name, err)
	}
	if !allowed {
		return fmt.Errorf("zone %s: %w", zone.Name, ErrRateLimited)
	}
	return nil
}

// ZoneFor exposes the winning zone for a path, for Retry-After hints.
func (c *Controller) ZoneFor(path string) (Zone, bool) {
	return c.matcher.Match(path)
}

// ActiveClients reports the live client count from the bucket store.
func (c *Controller) ActiveClients() int {
	return c.buckets.ActiveClients()
}

// Close releases the bucket store.
func (c *Controller) Close() error {
	return c.buckets.Close()
}
