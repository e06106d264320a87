package ports

import (
	"context"
	"time"
)

// Cache is a TTL key-value store shared across requests. Concurrent writers
// to the same key are allowed; the last write wins.
type Cache interface {
	// Get returns the value and true, or false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
