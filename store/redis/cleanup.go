package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// CleanupExpired implements store.Store. Redis evicts TTL'd records on
// its own, so the work here is draining the expiry indexes and removing
// records that were stored without a native TTL. The two indexes are
// scanned concurrently.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	var removed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.drainIndex(ctx, keyIndex, now, keyRecord)
		removed.Add(int64(n))
		return err
	})
	g.Go(func() error {
		n, err := s.drainIndex(ctx, opIndex, now, opRecord)
		removed.Add(int64(n))
		return err
	})
	if err := g.Wait(); err != nil {
		return int(removed.Load()), err
	}
	return int(removed.Load()), nil
}

// drainIndex removes index members whose expiry score has passed, along
// with any record still present for them, in batches.
func (s *Store) drainIndex(ctx context.Context, index string, now time.Time, record func(string) string) (int, error) {
	const batch = 256
	max := strconv.FormatInt(now.Unix(), 10)
	removed := 0

	for {
		members, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: "-inf", Max: max, Count: batch,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("scan index %s: %w", index, err)
		}
		if len(members) == 0 {
			return removed, nil
		}

		recordKeys := make([]string, len(members))
		indexMembers := make([]interface{}, len(members))
		for i, m := range members {
			recordKeys[i] = record(m)
			indexMembers[i] = m
		}
		deleted, err := s.client.Del(ctx, recordKeys...).Result()
		if err != nil {
			return removed, fmt.Errorf("delete expired records: %w", err)
		}
		removed += int(deleted)
		if err := s.client.ZRem(ctx, index, indexMembers...).Err(); err != nil {
			return removed, fmt.Errorf("trim index %s: %w", index, err)
		}
		if len(members) < batch {
			return removed, nil
		}
	}
}
