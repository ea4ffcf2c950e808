// Package store defines the composite persistence contract for bgops.
//
// Each subsystem (idempotency, saga, operation) declares the narrow
// Store interface it needs in its own package. A backend implements
// them all plus the lifecycle methods below, and the composite Store
// interface here is what the manager is wired with. Backends live in
// the subpackages memory, redis, and postgres.
package store

import (
	"context"

	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/operation"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// Store is the full persistence contract a backend satisfies.
type Store interface {
	idempotency.Store
	saga.Store
	operation.Store

	// Migrate prepares backend schema or indexes. Safe to call on every
	// startup; backends make it a no-op when nothing is needed.
	Migrate(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// CleanupExpired removes idempotency keys, operations, and locks
	// whose TTL has lapsed, returning the number of records removed.
	// Terminal sagas are retained; only their locks are reaped.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases backend resources. The store is unusable after.
	Close() error
}
