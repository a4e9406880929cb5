package cache

import (
	"context"
	"time"
)

// Store is the shared counter store used for rate limiting. Implementations
// must make IncrementWithTTL atomic across processes that share the backend.
type Store interface {
	// IncrementWithTTL bumps key by one, starting a fresh window of the given
	// length when the key is new or expired. It returns the count and the
	// time remaining in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
}
