package bgops

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("bgops: no store configured")
	ErrStoreClosed        = errors.New("bgops: store closed")
	ErrStorageUnavailable = errors.New("bgops: storage unavailable")
	ErrMigrationFailed    = errors.New("bgops: migration failed")

	// Not found errors.
	ErrKeyNotFound       = errors.New("bgops: idempotency key not found")
	ErrSagaNotFound      = errors.New("bgops: saga not found")
	ErrOperationNotFound = errors.New("bgops: background operation not found")
	ErrHandlerNotFound   = errors.New("bgops: no handler registered")

	// Conflict errors.
	ErrSagaAlreadyExists      = errors.New("bgops: saga already exists")
	ErrOperationAlreadyExists = errors.New("bgops: background operation already exists")

	// Coordination errors.
	ErrLockHeld = errors.New("bgops: saga lock already held")

	// State errors.
	ErrInvalidState       = errors.New("bgops: invalid state transition")
	ErrSagaTimeout        = errors.New("bgops: saga deadline exceeded")
	ErrMaxRetriesExceeded = errors.New("bgops: max retries exceeded")
)
