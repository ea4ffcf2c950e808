// Package memory provides an in-memory store backend for development
// and tests. All state lives in process memory behind one mutex.
//
// The lock operations provide single-process exclusion only. Use the
// redis or postgres backend when multiple nodes execute sagas.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/operation"
	"github.com/michaelayoade/dotmac-bgops/saga"
	"github.com/michaelayoade/dotmac-bgops/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the in-memory backend. The zero value is not usable; use New.
type Store struct {
	mu     sync.RWMutex
	closed bool

	keys       map[string]*idempotency.Key
	keyIndex   map[string]time.Time
	sagas      map[string]*saga.Saga
	history    map[string][]*saga.HistoryEntry
	operations map[string]*operation.Operation
	locks      map[string]time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		keys:       make(map[string]*idempotency.Key),
		keyIndex:   make(map[string]time.Time),
		sagas:      make(map[string]*saga.Saga),
		history:    make(map[string][]*saga.HistoryEntry),
		operations: make(map[string]*operation.Operation),
		locks:      make(map[string]time.Time),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return bgops.ErrStoreClosed
	}
	return nil
}

// ── Idempotency keys ────────────────────────────────

// GetKey implements idempotency.Store.
func (s *Store) GetKey(_ context.Context, key string) (*idempotency.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	k, ok := s.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bgops.ErrKeyNotFound, key)
	}
	return cloneKey(k), nil
}

// PutKey implements idempotency.Store.
func (s *Store) PutKey(_ context.Context, k *idempotency.Key, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.keys[k.Key] = cloneKey(k)
	return nil
}

// PutKeyIfAbsent implements idempotency.Store. The check and insert
// happen under one mutex hold, so concurrent callers observe
// first-writer-wins.
func (s *Store) PutKeyIfAbsent(_ context.Context, k *idempotency.Key, _ time.Duration) (*idempotency.Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	if existing, ok := s.keys[k.Key]; ok {
		return cloneKey(existing), false, nil
	}
	s.keys[k.Key] = cloneKey(k)
	return cloneKey(k), true, nil
}

// IndexKey implements idempotency.Store.
func (s *Store) IndexKey(_ context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.keyIndex[key] = expiresAt
	return nil
}

// ── Sagas ───────────────────────────────────────────

// CreateSaga implements saga.Store.
func (s *Store) CreateSaga(_ context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := sg.ID.String()
	if _, ok := s.sagas[key]; ok {
		return fmt.Errorf("%w: %s", bgops.ErrSagaAlreadyExists, key)
	}
	s.sagas[key] = cloneSaga(sg)
	return nil
}

// GetSaga implements saga.Store.
func (s *Store) GetSaga(_ context.Context, sagaID id.SagaID) (*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	sg, ok := s.sagas[sagaID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, sagaID)
	}
	return cloneSaga(sg), nil
}

// UpdateSaga implements saga.Store.
func (s *Store) UpdateSaga(_ context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := sg.ID.String()
	if _, ok := s.sagas[key]; !ok {
		return fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, key)
	}
	s.sagas[key] = cloneSaga(sg)
	return nil
}

// AppendHistory implements saga.Store.
func (s *Store) AppendHistory(_ context.Context, entry *saga.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := entry.SagaID.String()
	e := *entry
	s.history[key] = append(s.history[key], &e)
	return nil
}

// ListHistory implements saga.Store.
func (s *Store) ListHistory(_ context.Context, sagaID id.SagaID) ([]*saga.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entries := s.history[sagaID.String()]
	out := make([]*saga.HistoryEntry, len(entries))
	for i, e := range entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}

// ── Locks ───────────────────────────────────────────

// AcquireLock implements saga.Store. Expired locks are treated as free
// and overwritten.
func (s *Store) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	now := time.Now()
	if exp, ok := s.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

// ReleaseLock implements saga.Store.
func (s *Store) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.locks, key)
	return nil
}

// ── Operations ──────────────────────────────────────

// CreateOperation implements operation.Store.
func (s *Store) CreateOperation(_ context.Context, op *operation.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := op.ID.String()
	if _, ok := s.operations[key]; ok {
		return fmt.Errorf("%w: %s", bgops.ErrOperationAlreadyExists, key)
	}
	s.operations[key] = cloneOperation(op)
	return nil
}

// GetOperation implements operation.Store.
func (s *Store) GetOperation(_ context.Context, opID id.OperationID) (*operation.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	op, ok := s.operations[opID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, opID)
	}
	return cloneOperation(op), nil
}

// UpdateOperation implements operation.Store.
func (s *Store) UpdateOperation(_ context.Context, op *operation.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := op.ID.String()
	if _, ok := s.operations[key]; !ok {
		return fmt.Errorf("%w: %s", bgops.ErrOperationNotFound, key)
	}
	s.operations[key] = cloneOperation(op)
	return nil
}

// ── Lifecycle ───────────────────────────────────────

// Migrate implements store.Store. Nothing to prepare in memory.
func (s *Store) Migrate(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// CleanupExpired implements store.Store.
func (s *Store) CleanupExpired(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0

	for key, k := range s.keys {
		if k.Expired(now) {
			delete(s.keys, key)
			delete(s.keyIndex, key)
			removed++
		}
	}
	// Index entries whose key record is already gone.
	for key, exp := range s.keyIndex {
		if now.After(exp) {
			delete(s.keyIndex, key)
		}
	}
	for key, op := range s.operations {
		if op.Expired(now) {
			delete(s.operations, key)
			removed++
		}
	}
	for key, exp := range s.locks {
		if now.After(exp) {
			delete(s.locks, key)
			removed++
		}
	}
	return removed, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ── Copy helpers ────────────────────────────────────
//
// The store hands out copies so callers can mutate records freely and
// persist changes explicitly.

func cloneKey(k *idempotency.Key) *idempotency.Key {
	c := *k
	if k.Result != nil {
		c.Result = append([]byte(nil), k.Result...)
	}
	return &c
}

func cloneSaga(sg *saga.Saga) *saga.Saga {
	c := *sg
	c.Steps = make([]*saga.Step, len(sg.Steps))
	for i, st := range sg.Steps {
		sc := *st
		if st.Parameters != nil {
			sc.Parameters = append([]byte(nil), st.Parameters...)
		}
		if st.CompensationParameters != nil {
			sc.CompensationParameters = append([]byte(nil), st.CompensationParameters...)
		}
		if st.Result != nil {
			sc.Result = append([]byte(nil), st.Result...)
		}
		c.Steps[i] = &sc
	}
	return &c
}

func cloneOperation(op *operation.Operation) *operation.Operation {
	c := *op
	if op.SagaID != nil {
		sid := *op.SagaID
		c.SagaID = &sid
	}
	return &c
}
