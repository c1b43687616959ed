package ratelimit

import (
	"context"
	"time"
)

// Store is the contract over the shared key/value store that backs admission
// decisions. All replicas see the same store, so every mutation here is
// visible service-wide.
//
// Implementations surface failures to the caller and never retry on their
// own; the guard and the listener decide what is safe to drop.
type Store interface {
	// SetWithTTL overwrites the key with the value and attaches a TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Get returns the key's value, or ok=false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// TTLSeconds returns the remaining TTL of the key in whole seconds,
	// or 0 if the key is absent or has no expiry.
	TTLSeconds(ctx context.Context, key string) (int64, error)

	// SetAdd adds the member to the set at key. Idempotent.
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes the member from the set at key. Idempotent.
	SetRemove(ctx context.Context, key, member string) error

	// SetCardinality returns the number of members in the set at key.
	// O(1); never implemented by scanning keys.
	SetCardinality(ctx context.Context, key string) (int64, error)

	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ScanKeys returns the keys matching the glob pattern. Uses cursor-based
	// iteration, never the blocking KEYS command. Meant for the low-frequency
	// sweeper, not for request-path code.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// RunReservationScript atomically compares the set's cardinality with
	// the limit and adds the member only when under it. Returns true when
	// the member was added (the reservation is allowed).
	RunReservationScript(ctx context.Context, setKey string, limit int, member string) (bool, error)

	// SubscribeKeyExpiry delivers the names of expired keys matching the
	// prefix to the handler until the context is canceled. Delivery is
	// best-effort: events can be duplicated, reordered, or lost.
	SubscribeKeyExpiry(ctx context.Context, prefix string, handler func(key string)) error
}
