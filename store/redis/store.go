// Package redis provides a Redis store backend. Locks and conditional
// key inserts rely on SET NX, so exclusion holds across processes.
// Records expire natively via Redis TTLs; ZSET indexes let the cleanup
// pass reap index entries and non-TTL'd leftovers.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-bgops/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the Redis backend. Use New to construct one.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store on top of an existing Redis client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate implements store.Store. Redis needs no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
