package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// CreateSaga implements saga.Store. Steps are stored as one JSONB
// document; the engine always reads and writes the saga whole.
func (s *Store) CreateSaga(ctx context.Context, sg *saga.Saga) error {
	steps, err := json.Marshal(sg.Steps)
	if err != nil {
		return fmt.Errorf("encode saga %s steps: %w", sg.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sagas (id, tenant_id, workflow_type, steps, current_step,
			status, idempotency_key, timeout_ns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sg.ID.String(), sg.TenantID, sg.WorkflowType, steps, sg.CurrentStep,
		sg.Status, sg.IdempotencyKey, sg.Timeout.Nanoseconds(), sg.CreatedAt, sg.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", bgops.ErrSagaAlreadyExists, sg.ID)
		}
		return fmt.Errorf("create saga %s: %w", sg.ID, err)
	}
	return nil
}

// GetSaga implements saga.Store.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Saga, error) {
	var (
		sg        saga.Saga
		rawID     string
		steps     []byte
		timeoutNs int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, workflow_type, steps, current_step,
			status, idempotency_key, timeout_ns, created_at, updated_at
		FROM sagas WHERE id = $1`, sagaID.String()).
		Scan(&rawID, &sg.TenantID, &sg.WorkflowType, &steps, &sg.CurrentStep,
			&sg.Status, &sg.IdempotencyKey, &timeoutNs, &sg.CreatedAt, &sg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	if sg.ID, err = id.ParseSagaID(rawID); err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	if err := json.Unmarshal(steps, &sg.Steps); err != nil {
		return nil, fmt.Errorf("decode saga %s steps: %w", sagaID, err)
	}
	sg.Timeout = time.Duration(timeoutNs)
	return &sg, nil
}

// UpdateSaga implements saga.Store.
func (s *Store) UpdateSaga(ctx context.Context, sg *saga.Saga) error {
	steps, err := json.Marshal(sg.Steps)
	if err != nil {
		return fmt.Errorf("encode saga %s steps: %w", sg.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sagas SET steps = $2, current_step = $3, status = $4,
			idempotency_key = $5, timeout_ns = $6, updated_at = $7
		WHERE id = $1`,
		sg.ID.String(), steps, sg.CurrentStep, sg.Status,
		sg.IdempotencyKey, sg.Timeout.Nanoseconds(), sg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", sg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, sg.ID)
	}
	return nil
}

// AppendHistory implements saga.Store. The BIGSERIAL seq column fixes
// append order independent of timestamp resolution.
func (s *Store) AppendHistory(ctx context.Context, entry *saga.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saga_history (id, saga_id, step_id, step_name, status, error, retry_count, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID.String(), entry.SagaID.String(), entry.StepID.String(),
		entry.StepName, entry.Status, entry.Error, entry.RetryCount, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append history for saga %s: %w", entry.SagaID, err)
	}
	return nil
}

// ListHistory implements saga.Store.
func (s *Store) ListHistory(ctx context.Context, sagaID id.SagaID) ([]*saga.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, saga_id, step_id, step_name, status, error, retry_count, ts
		FROM saga_history WHERE saga_id = $1 ORDER BY seq`, sagaID.String())
	if err != nil {
		return nil, fmt.Errorf("list history for saga %s: %w", sagaID, err)
	}
	defer rows.Close()

	var entries []*saga.HistoryEntry
	for rows.Next() {
		var (
			e                       saga.HistoryEntry
			rawID, rawSaga, rawStep string
		)
		if err := rows.Scan(&rawID, &rawSaga, &rawStep, &e.StepName,
			&e.Status, &e.Error, &e.RetryCount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history for saga %s: %w", sagaID, err)
		}
		if e.ID, err = id.ParseHistoryID(rawID); err != nil {
			return nil, fmt.Errorf("scan history for saga %s: %w", sagaID, err)
		}
		if e.SagaID, err = id.ParseSagaID(rawSaga); err != nil {
			return nil, fmt.Errorf("scan history for saga %s: %w", sagaID, err)
		}
		if rawStep != "" {
			if e.StepID, err = id.ParseStepID(rawStep); err != nil {
				return nil, fmt.Errorf("scan history for saga %s: %w", sagaID, err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history for saga %s: %w", sagaID, err)
	}
	return entries, nil
}

// AcquireLock implements saga.Store. The upsert only steals the row
// when the previous holder's lease has lapsed, so acquisition is one
// atomic statement.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO saga_locks (key, expires_at)
		VALUES ($1, now() + make_interval(secs => $2))
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE saga_locks.expires_at <= now()`,
		key, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock implements saga.Store.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM saga_locks WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
