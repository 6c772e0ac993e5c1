package ports

import (
	"context"
	"time"
)

// Cache is a small key-value capability for usecases, used for event dedupe
// markers. Adapters are backed by SQLite or Redis.
// A zero ttl means the key does not expire.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Claim stores the key only when it is absent or expired and reports
	// whether this caller stored it. Concurrent claims of one key have a
	// single winner.
	Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}
