package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/operation"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// ── Idempotency ─────────────────────────────────────

// CreateIdempotencyKey records a Pending key if absent and returns the
// stored record. The bool reports whether this call created it; false
// means a duplicate request, and the caller should act on the existing
// record's status instead of executing again.
func (m *Manager) CreateIdempotencyKey(ctx context.Context, in idempotency.CreateInput) (*idempotency.Key, bool, error) {
	k, created, err := m.keys.Create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if created {
		m.hooks.EmitKeyCreated(ctx, k)
	}
	return k, created, nil
}

// CheckIdempotency looks up a key record. Unknown and expired keys
// return bgops.ErrKeyNotFound; storage failures propagate rather than
// being treated as absence.
func (m *Manager) CheckIdempotency(ctx context.Context, key string) (*idempotency.Key, error) {
	return m.keys.Check(ctx, key)
}

// MarkIdempotencyInProgress transitions a Pending key to InProgress.
func (m *Manager) MarkIdempotencyInProgress(ctx context.Context, key string) error {
	return m.keys.MarkInProgress(ctx, key)
}

// CompleteIdempotentOperation caches an operation's outcome on its key.
// Completing an unknown, expired, or already-terminal key is a silent
// no-op (returns false).
func (m *Manager) CompleteIdempotentOperation(ctx context.Context, key string, result any, opErr error) (bool, error) {
	done, err := m.keys.Complete(ctx, key, result, opErr)
	if err != nil {
		return false, err
	}
	if done {
		if k, checkErr := m.keys.Check(ctx, key); checkErr == nil {
			m.hooks.EmitKeyCompleted(ctx, k)
		}
	}
	return done, nil
}

// DeriveIdempotencyKey deterministically derives a key from the request
// identity and parameters. Equal inputs always produce equal keys.
func (m *Manager) DeriveIdempotencyKey(tenantID, userID, operationType string, parameters any) (string, error) {
	return idempotency.DeriveKey(tenantID, userID, operationType, parameters)
}

// ── Sagas ───────────────────────────────────────────

// CreateSagaWorkflow persists a new Pending saga.
func (m *Manager) CreateSagaWorkflow(ctx context.Context, in saga.CreateInput) (*saga.Saga, error) {
	return m.engine.Create(ctx, in)
}

// ExecuteSagaWorkflow drives a saga to a terminal state. Terminal sagas
// replay their outcome; a saga already executing elsewhere fails with
// bgops.ErrLockHeld.
func (m *Manager) ExecuteSagaWorkflow(ctx context.Context, sagaID id.SagaID) (*saga.Saga, error) {
	return m.engine.Execute(ctx, sagaID)
}

// GetSagaWorkflow returns a saga's persisted state.
func (m *Manager) GetSagaWorkflow(ctx context.Context, sagaID id.SagaID) (*saga.Saga, error) {
	return m.engine.Get(ctx, sagaID)
}

// SagaHistory returns a saga's append-only audit trail.
func (m *Manager) SagaHistory(ctx context.Context, sagaID id.SagaID) ([]*saga.HistoryEntry, error) {
	return m.engine.History(ctx, sagaID)
}

// ── Operation tracking ──────────────────────────────

// CreateOperationInput carries the inputs for CreateOperation.
type CreateOperationInput struct {
	TenantID       string
	SagaID         *id.SagaID
	IdempotencyKey string

	// TTL bounds how long the record is queryable. Zero uses the
	// default key TTL.
	TTL time.Duration
}

// CreateOperation creates a tracking record correlating an externally
// visible operation ID with the saga and/or idempotency key doing the
// work.
func (m *Manager) CreateOperation(ctx context.Context, in CreateOperationInput) (*operation.Operation, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultKeyTTL
	}

	op := &operation.Operation{
		Entity:         bgops.NewEntity(),
		ID:             id.NewOperationID(),
		TenantID:       in.TenantID,
		SagaID:         in.SagaID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         operation.StatusPending,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}
	if err := m.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("%w: create operation: %w", bgops.ErrStorageUnavailable, err)
	}
	return op, nil
}

// GetOperationStatus returns a tracking record, refreshed against the
// saga or idempotency key it references. The refreshed status is
// persisted before returning so repeated polls converge.
func (m *Manager) GetOperationStatus(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	op, err := m.store.GetOperation(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, opID)
	}

	refreshed, err := m.refreshOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	if refreshed {
		op.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateOperation(ctx, op); err != nil {
			m.logger.Warn("failed to persist refreshed operation status",
				"operation_id", op.ID.String(), "error", err.Error())
		}
	}
	return op, nil
}

// refreshOperation maps the referenced saga or key state onto the
// tracking record. Reports whether anything changed.
func (m *Manager) refreshOperation(ctx context.Context, op *operation.Operation) (bool, error) {
	status, errMsg := op.Status, op.Error

	switch {
	case op.SagaID != nil:
		s, err := m.engine.Get(ctx, *op.SagaID)
		if err != nil {
			if errors.Is(err, bgops.ErrSagaNotFound) {
				return false, nil
			}
			return false, err
		}
		switch s.Status {
		case saga.StatusPending:
			status = operation.StatusPending
		case saga.StatusRunning, saga.StatusCompensating:
			status = operation.StatusInProgress
		case saga.StatusCompleted:
			status = operation.StatusCompleted
		case saga.StatusFailed, saga.StatusCompensated:
			status = operation.StatusFailed
		}
		if status == operation.StatusFailed {
			errMsg = lastStepError(s)
		}

	case op.IdempotencyKey != "":
		k, err := m.keys.Check(ctx, op.IdempotencyKey)
		if err != nil {
			if errors.Is(err, bgops.ErrKeyNotFound) {
				return false, nil
			}
			return false, err
		}
		switch k.Status {
		case idempotency.StatusPending:
			status = operation.StatusPending
		case idempotency.StatusInProgress:
			status = operation.StatusInProgress
		case idempotency.StatusCompleted:
			status = operation.StatusCompleted
		case idempotency.StatusFailed:
			status = operation.StatusFailed
			errMsg = k.Error
		}
	}

	if status == op.Status && errMsg == op.Error {
		return false, nil
	}
	op.Status = status
	op.Error = errMsg
	return true, nil
}

// lastStepError returns the most recent step error for a failed saga.
func lastStepError(s *saga.Saga) string {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Error != "" {
			return s.Steps[i].Error
		}
	}
	return ""
}
