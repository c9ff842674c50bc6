// Package kv provides the bounded key/value cache the service keeps
// schema snapshots, trace fingerprints, and origin mappings in.
//
// Entries are immutable once written; an overwrite is a new entry.
// Every cache write carries a TTL and reads of expired entries report
// absence. Last write wins under concurrency, which is tolerable
// because values are idempotent snapshots.
package kv

import (
	"context"
	"time"
)

// Store is the key/value contract the rest of the service codes against.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put writes value under key with the given TTL. A zero TTL means
	// the entry never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
