package operation

import (
	"context"

	"github.com/michaelayoade/dotmac-bgops/id"
)

// Store defines the persistence contract for operation tracking records.
type Store interface {
	// CreateOperation persists a new tracking record. Returns
	// bgops.ErrOperationAlreadyExists if the ID is taken.
	CreateOperation(ctx context.Context, op *Operation) error

	// GetOperation retrieves a tracking record by ID. Returns
	// bgops.ErrOperationNotFound when absent.
	GetOperation(ctx context.Context, opID id.OperationID) (*Operation, error)

	// UpdateOperation persists changes to an existing tracking record.
	UpdateOperation(ctx context.Context, op *Operation) error
}
