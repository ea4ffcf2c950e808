package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/operation"
)

// CreateOperation implements operation.Store.
func (s *Store) CreateOperation(ctx context.Context, op *operation.Operation) error {
	var sagaID *string
	if op.SagaID != nil {
		v := op.SagaID.String()
		sagaID = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO background_operations (id, tenant_id, saga_id, idempotency_key,
			status, error, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		op.ID.String(), op.TenantID, sagaID, op.IdempotencyKey,
		op.Status, op.Error, op.ExpiresAt, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", bgops.ErrOperationAlreadyExists, op.ID)
		}
		return fmt.Errorf("create operation %s: %w", op.ID, err)
	}
	return nil
}

// GetOperation implements operation.Store.
func (s *Store) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	var (
		op     operation.Operation
		rawID  string
		sagaID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, saga_id, idempotency_key, status, error,
			expires_at, created_at, updated_at
		FROM background_operations WHERE id = $1`, opID.String()).
		Scan(&rawID, &op.TenantID, &sagaID, &op.IdempotencyKey, &op.Status,
			&op.Error, &op.ExpiresAt, &op.CreatedAt, &op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, opID)
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", opID, err)
	}
	if op.ID, err = id.ParseOperationID(rawID); err != nil {
		return nil, fmt.Errorf("get operation %s: %w", opID, err)
	}
	if sagaID != nil {
		parsed, err := id.ParseSagaID(*sagaID)
		if err != nil {
			return nil, fmt.Errorf("get operation %s: %w", opID, err)
		}
		op.SagaID = &parsed
	}
	return &op, nil
}

// UpdateOperation implements operation.Store.
func (s *Store) UpdateOperation(ctx context.Context, op *operation.Operation) error {
	var sagaID *string
	if op.SagaID != nil {
		v := op.SagaID.String()
		sagaID = &v
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_operations SET saga_id = $2, idempotency_key = $3,
			status = $4, error = $5, expires_at = $6, updated_at = $7
		WHERE id = $1`,
		op.ID.String(), sagaID, op.IdempotencyKey, op.Status,
		op.Error, op.ExpiresAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, op.ID)
	}
	return nil
}
