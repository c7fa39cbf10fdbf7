package port

import (
	"context"
	"time"
)

// KeyValueCache is the derived-data store: remaining-stock projections,
// verification tokens, admission counters and buyer-order sets. Never
// authoritative for inventory.
type KeyValueCache interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent sets the key only when missing, returns false if it existed.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	// Increment atomically increments the integer at key, returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// AddToSet adds a member to the set at key, returns the number added.
	AddToSet(ctx context.Context, key, member string) (int64, error)

	// InSet reports whether member is in the set at key.
	InSet(ctx context.Context, key, member string) (bool, error)
}
