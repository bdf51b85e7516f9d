// Package storage persists generated artifacts and hands back the public
// URLs embedded in completed creations.
package storage

import "context"

// ObjectStore writes artifact bytes under a key and returns a stable URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
