package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
)

// GetKey implements idempotency.Store.
func (s *Store) GetKey(ctx context.Context, key string) (*idempotency.Key, error) {
	data, err := s.client.Get(ctx, keyRecord(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", bgops.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", key, err)
	}
	var k idempotency.Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("decode key %s: %w", key, err)
	}
	return &k, nil
}

// PutKey implements idempotency.Store. A non-positive ttl stores the
// record without a Redis expiry; the cleanup pass reaps it via the
// index instead.
func (s *Store) PutKey(ctx context.Context, k *idempotency.Key, ttl time.Duration) error {
	data, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("encode key %s: %w", k.Key, err)
	}
	if ttl <= 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, keyRecord(k.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("put key %s: %w", k.Key, err)
	}
	return nil
}

// PutKeyIfAbsent implements idempotency.Store. SET NX makes the
// check-and-set a single atomic Redis operation; on a lost race the
// pre-existing record is fetched and returned.
func (s *Store) PutKeyIfAbsent(ctx context.Context, k *idempotency.Key, ttl time.Duration) (*idempotency.Key, bool, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return nil, false, fmt.Errorf("encode key %s: %w", k.Key, err)
	}
	if ttl <= 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, keyRecord(k.Key), data, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("put key if absent %s: %w", k.Key, err)
	}
	if ok {
		return k, true, nil
	}
	existing, err := s.GetKey(ctx, k.Key)
	if errors.Is(err, bgops.ErrKeyNotFound) {
		// The existing record expired between SETNX and GET. Retry the
		// insert once; a second loss means another writer truly won.
		if ok, err := s.client.SetNX(ctx, keyRecord(k.Key), data, ttl).Result(); err == nil && ok {
			return k, true, nil
		}
		existing, err = s.GetKey(ctx, k.Key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// IndexKey implements idempotency.Store.
func (s *Store) IndexKey(ctx context.Context, key string, expiresAt time.Time) error {
	err := s.client.ZAdd(ctx, keyIndex, redis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("index key %s: %w", key, err)
	}
	return nil
}
