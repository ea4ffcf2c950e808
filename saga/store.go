package saga

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-bgops/id"
)

// Store defines the persistence contract for sagas: workflow state, the
// append-only history log, and the mutual-exclusion lock that prevents
// duplicate concurrent execution of one saga across processes.
type Store interface {
	// CreateSaga persists a new saga. Returns bgops.ErrSagaAlreadyExists
	// if the ID is taken.
	CreateSaga(ctx context.Context, s *Saga) error

	// GetSaga retrieves a saga by ID. Returns bgops.ErrSagaNotFound
	// when absent.
	GetSaga(ctx context.Context, sagaID id.SagaID) (*Saga, error)

	// UpdateSaga persists changes to an existing saga, steps included.
	UpdateSaga(ctx context.Context, s *Saga) error

	// AppendHistory appends an entry to the saga's audit trail.
	// Entries are append-only; backends never rewrite them.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error

	// ListHistory returns the saga's history entries in append order.
	ListHistory(ctx context.Context, sagaID id.SagaID) ([]*HistoryEntry, error)

	// AcquireLock attempts to take the mutual-exclusion lock for the
	// given key. Returns false if the lock is held by someone else and
	// has not expired. The lock self-expires after ttl so a crashed
	// holder cannot wedge the saga forever.
	//
	// The in-memory backend provides single-process exclusion only;
	// multi-node deployments require a backend whose acquisition is an
	// atomic conditional write (Redis SET NX, SQL conditional upsert).
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ReleaseLock releases a held lock. Releasing an unheld or expired
	// lock is a no-op.
	ReleaseLock(ctx context.Context, key string) error
}
