package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
)

// Manager enforces single-execution semantics for idempotency keys.
// It holds no authoritative state of its own: every call reads from and
// writes through the store, so any process that can reach storage can
// resume an operation.
type Manager struct {
	store      Store
	defaultTTL time.Duration
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTTL sets the TTL applied to keys created without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an idempotency manager backed by the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		defaultTTL: bgops.DefaultConfig().DefaultKeyTTL,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateInput carries the inputs for Create. Key is optional; when empty
// a deterministic key is derived from the remaining fields.
type CreateInput struct {
	TenantID      string
	UserID        string
	OperationType string
	Key           string
	TTL           time.Duration
	Parameters    any
}

// Check looks up a key record. It is read-only and fails closed: storage
// errors propagate (wrapped in bgops.ErrStorageUnavailable) rather than
// being treated as "absent". An expired record is reported as
// bgops.ErrKeyNotFound: the next request with the same key is new.
func (m *Manager) Check(ctx context.Context, key string) (*Key, error) {
	k, err := m.store.GetKey(ctx, key)
	if err != nil {
		if errors.Is(err, bgops.ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get key %q: %w", bgops.ErrStorageUnavailable, key, err)
	}

	if k.Expired(time.Now().UTC()) {
		return nil, bgops.ErrKeyNotFound
	}

	return k, nil
}

// Create records a Pending key if absent. If a record already exists for
// the key value, the existing record is returned instead of being
// overwritten (first-writer-wins). The returned bool reports whether
// this call created the record.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Key, bool, error) {
	key := in.Key
	if key == "" {
		derived, err := DeriveKey(in.TenantID, in.UserID, in.OperationType, in.Parameters)
		if err != nil {
			return nil, false, err
		}
		key = derived
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := time.Now().UTC()
	k := &Key{
		Entity:        bgops.NewEntity(),
		Key:           key,
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		OperationType: in.OperationType,
		Status:        StatusPending,
		ExpiresAt:     now.Add(ttl),
	}

	stored, created, err := m.store.PutKeyIfAbsent(ctx, k, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("%w: create key %q: %w", bgops.ErrStorageUnavailable, key, err)
	}

	// A pre-existing but expired record is dead weight left for cleanup;
	// the caller gets a fresh Pending record in its place.
	if !created && stored.Expired(now) {
		if putErr := m.store.PutKey(ctx, k, ttl); putErr != nil {
			return nil, false, fmt.Errorf("%w: replace expired key %q: %w", bgops.ErrStorageUnavailable, key, putErr)
		}
		stored, created = k, true
	}

	if created {
		if idxErr := m.store.IndexKey(ctx, key, k.ExpiresAt); idxErr != nil {
			// The record exists and TTLs still bound it; the index only
			// accelerates cleanup scans.
			m.logger.Warn("failed to index idempotency key",
				slog.String("key", key),
				slog.String("error", idxErr.Error()),
			)
		}
		m.logger.Debug("idempotency key created",
			slog.String("key", key),
			slog.String("tenant_id", in.TenantID),
			slog.String("operation_type", in.OperationType),
		)
	}

	return stored, created, nil
}

// MarkInProgress transitions a Pending key to InProgress while the
// boundary layer drives execution. Transitioning a terminal or expired
// key returns bgops.ErrInvalidState.
func (m *Manager) MarkInProgress(ctx context.Context, key string) error {
	k, err := m.Check(ctx, key)
	if err != nil {
		return err
	}
	if k.Terminal() {
		return fmt.Errorf("%w: key %q is %s", bgops.ErrInvalidState, key, k.Status)
	}

	k.Status = StatusInProgress
	return m.putRemaining(ctx, k)
}

// Complete transitions a key to Completed (opErr nil) or Failed (opErr
// non-nil) and caches the result or error for replay. It returns false
// without error when the key is unknown, expired, or already terminal;
// completion after the claim window is a silent no-op, and a terminal
// key's stored outcome is never altered.
func (m *Manager) Complete(ctx context.Context, key string, result any, opErr error) (bool, error) {
	k, err := m.store.GetKey(ctx, key)
	if err != nil {
		if errors.Is(err, bgops.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: get key %q: %w", bgops.ErrStorageUnavailable, key, err)
	}

	if k.Expired(time.Now().UTC()) || k.Terminal() {
		return false, nil
	}

	if opErr != nil {
		k.Status = StatusFailed
		k.Error = opErr.Error()
	} else {
		k.Status = StatusCompleted
		if result != nil {
			data, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				return false, fmt.Errorf("marshal result for key %q: %w", key, marshalErr)
			}
			k.Result = data
		}
	}

	if err := m.putRemaining(ctx, k); err != nil {
		return false, err
	}

	m.logger.Debug("idempotency key completed",
		slog.String("key", key),
		slog.String("status", string(k.Status)),
	)
	return true, nil
}

// putRemaining writes the record back with its remaining TTL recomputed
// from ExpiresAt, never extending a key's life past its original
// creation-derived deadline.
func (m *Manager) putRemaining(ctx context.Context, k *Key) error {
	remaining := time.Until(k.ExpiresAt)
	if remaining <= 0 {
		return nil
	}
	if err := m.store.PutKey(ctx, k, remaining); err != nil {
		return fmt.Errorf("%w: put key %q: %w", bgops.ErrStorageUnavailable, k.Key, err)
	}
	return nil
}
