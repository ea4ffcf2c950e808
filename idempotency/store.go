package idempotency

import (
	"context"
	"time"
)

// Store defines the persistence contract for idempotency keys.
type Store interface {
	// GetKey retrieves a key record. Returns bgops.ErrKeyNotFound when
	// no record exists. Backends may keep expired records until cleanup;
	// callers must treat expired records as absent.
	GetKey(ctx context.Context, key string) (*Key, error)

	// PutKey persists a key record with the given remaining TTL.
	// An existing record for the same key value is replaced.
	PutKey(ctx context.Context, k *Key, ttl time.Duration) error

	// PutKeyIfAbsent atomically persists the record only if no record
	// exists for the key value. It returns the stored record and true
	// on a successful insert, or the pre-existing record and false when
	// another writer won. Backends MUST make the check-and-set atomic
	// (first-writer-wins); a read-then-write race here would defeat
	// duplicate suppression.
	PutKeyIfAbsent(ctx context.Context, k *Key, ttl time.Duration) (*Key, bool, error)

	// IndexKey records the key's expiry timestamp so cleanup scans can
	// find expired records without enumerating every key.
	IndexKey(ctx context.Context, key string, expiresAt time.Time) error
}
