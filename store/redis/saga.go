package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// CreateSaga implements saga.Store. SET NX guards against ID reuse.
func (s *Store) CreateSaga(ctx context.Context, sg *saga.Saga) error {
	data, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", sg.ID, err)
	}
	ok, err := s.client.SetNX(ctx, sagaRecord(sg.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create saga %s: %w", sg.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", bgops.ErrSagaAlreadyExists, sg.ID)
	}
	return nil
}

// GetSaga implements saga.Store.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Saga, error) {
	data, err := s.client.Get(ctx, sagaRecord(sagaID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}
	var sg saga.Saga
	if err := json.Unmarshal(data, &sg); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", sagaID, err)
	}
	return &sg, nil
}

// UpdateSaga implements saga.Store. XX ensures the record exists; the
// engine never updates a saga it has not created.
func (s *Store) UpdateSaga(ctx context.Context, sg *saga.Saga) error {
	data, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", sg.ID, err)
	}
	ok, err := s.client.SetXX(ctx, sagaRecord(sg.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update saga %s: %w", sg.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", bgops.ErrSagaNotFound, sg.ID)
	}
	return nil
}

// AppendHistory implements saga.Store. RPUSH preserves append order.
func (s *Store) AppendHistory(ctx context.Context, entry *saga.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	if err := s.client.RPush(ctx, sagaHistory(entry.SagaID.String()), data).Err(); err != nil {
		return fmt.Errorf("append history for saga %s: %w", entry.SagaID, err)
	}
	return nil
}

// ListHistory implements saga.Store.
func (s *Store) ListHistory(ctx context.Context, sagaID id.SagaID) ([]*saga.HistoryEntry, error) {
	items, err := s.client.LRange(ctx, sagaHistory(sagaID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history for saga %s: %w", sagaID, err)
	}
	entries := make([]*saga.HistoryEntry, 0, len(items))
	for _, item := range items {
		var e saga.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode history entry for saga %s: %w", sagaID, err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// AcquireLock implements saga.Store. SET NX with a TTL gives an atomic
// lease; a crashed holder's lock evaporates on its own.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockRecord(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock implements saga.Store.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockRecord(key)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
