// Package postgres provides a PostgreSQL store backend on pgx.
// Conditional inserts (ON CONFLICT DO NOTHING) back first-writer-wins
// key creation, and a conditional upsert on the locks table gives
// cross-process saga exclusion.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/store"
)

//go:embed migrations.sql
var migrations string

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL backend. Use New to construct one.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store on top of an existing connection pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for the given connection string and wraps it in
// a Store.
func Connect(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, opts...), nil
}

// Migrate implements store.Store. The schema is idempotent; running it
// on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrations); err != nil {
		return fmt.Errorf("%w: %v", bgops.ErrMigrationFailed, err)
	}
	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// CleanupExpired implements store.Store.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, q := range []string{
		`DELETE FROM idempotency_keys WHERE expires_at <= now()`,
		`DELETE FROM background_operations WHERE expires_at <= now()`,
		`DELETE FROM saga_locks WHERE expires_at <= now()`,
	} {
		tag, err := s.pool.Exec(ctx, q)
		if err != nil {
			return removed, fmt.Errorf("cleanup: %w", err)
		}
		removed += int(tag.RowsAffected())
	}
	return removed, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
