package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/operation"
)

// CreateOperation implements operation.Store.
func (s *Store) CreateOperation(ctx context.Context, op *operation.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	ok, err := s.client.SetNX(ctx, opRecord(op.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create operation %s: %w", op.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", bgops.ErrOperationAlreadyExists, op.ID)
	}
	if !op.ExpiresAt.IsZero() {
		err := s.client.ZAdd(ctx, opIndex, redis.Z{
			Score:  float64(op.ExpiresAt.Unix()),
			Member: op.ID.String(),
		}).Err()
		if err != nil {
			s.logger.Warn("failed to index operation expiry",
				"operation_id", op.ID.String(), "error", err)
		}
	}
	return nil
}

// GetOperation implements operation.Store.
func (s *Store) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	data, err := s.client.Get(ctx, opRecord(opID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, opID)
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", opID, err)
	}
	var op operation.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", opID, err)
	}
	return &op, nil
}

// UpdateOperation implements operation.Store.
func (s *Store) UpdateOperation(ctx context.Context, op *operation.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	ok, err := s.client.SetXX(ctx, opRecord(op.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, op.ID)
	}
	return nil
}
