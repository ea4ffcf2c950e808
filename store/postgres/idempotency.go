package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
)

const keyColumns = `key, tenant_id, user_id, operation_type, status, result, error, expires_at, created_at, updated_at`

func scanKey(row pgx.Row) (*idempotency.Key, error) {
	var k idempotency.Key
	err := row.Scan(&k.Key, &k.TenantID, &k.UserID, &k.OperationType, &k.Status,
		&k.Result, &k.Error, &k.ExpiresAt, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetKey implements idempotency.Store.
func (s *Store) GetKey(ctx context.Context, key string) (*idempotency.Key, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM idempotency_keys WHERE key = $1`, key)
	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", key, err)
	}
	return k, nil
}

// PutKey implements idempotency.Store. Expiry is carried on the row;
// the ttl argument is advisory for backends with native expiry.
func (s *Store) PutKey(ctx context.Context, k *idempotency.Key, _ time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			user_id = EXCLUDED.user_id,
			operation_type = EXCLUDED.operation_type,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		k.Key, k.TenantID, k.UserID, k.OperationType, k.Status,
		k.Result, k.Error, k.ExpiresAt, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put key %s: %w", k.Key, err)
	}
	return nil
}

// PutKeyIfAbsent implements idempotency.Store. ON CONFLICT DO NOTHING
// makes the insert atomic; losing the race falls through to a read of
// the winner's row.
func (s *Store) PutKeyIfAbsent(ctx context.Context, k *idempotency.Key, _ time.Duration) (*idempotency.Key, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO NOTHING`,
		k.Key, k.TenantID, k.UserID, k.OperationType, k.Status,
		k.Result, k.Error, k.ExpiresAt, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("put key if absent %s: %w", k.Key, err)
	}
	if tag.RowsAffected() == 1 {
		return k, true, nil
	}
	existing, err := s.GetKey(ctx, k.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// IndexKey implements idempotency.Store. Expiry lives on the row and is
// covered by an index already, so there is nothing extra to record.
func (s *Store) IndexKey(context.Context, string, time.Time) error { return nil }
