package osql

import (
	"context"
	"time"
)

// Cache is the out-of-process cache used for cross-node coordination, e.g. the
// duplicate-request claim the repository takes before registering a session.
// Implementations: redis (clustered) and cache.InMemoryCache (standalone, tests).
type Cache interface {
	// Set stores a string value under key with the given expiration (0 = no expiry).
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches the value for key. found=false with a nil error means the key is absent.
	Get(ctx context.Context, key string) (found bool, value string, err error)
	// SetIfNotExists atomically claims key, returning true only for the first claimer.
	SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// SetStruct marshals value and stores it under key.
	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// GetStruct fetches and unmarshals the value for key into target.
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	// Delete removes the given keys, reporting whether all were present.
	Delete(ctx context.Context, keys []string) (bool, error)
	// Ping tests connectivity to the backing store.
	Ping(ctx context.Context) error
	// Clear removes all entries. Use with care on shared backends.
	Clear(ctx context.Context) error
}
