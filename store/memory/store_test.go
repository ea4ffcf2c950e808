package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/operation"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

func newKey(key string, expiresAt time.Time) *idempotency.Key {
	k := &idempotency.Key{
		Key:           key,
		TenantID:      "tenant-1",
		OperationType: "invoice.create",
		Status:        idempotency.StatusPending,
		ExpiresAt:     expiresAt,
	}
	k.Entity = bgops.NewEntity()
	return k
}

func newSaga() *saga.Saga {
	s := &saga.Saga{
		ID:           id.NewSagaID(),
		TenantID:     "tenant-1",
		WorkflowType: "provision",
		Status:       saga.StatusPending,
		Timeout:      time.Minute,
		Steps: []*saga.Step{
			{ID: id.NewStepID(), Name: "reserve", Operation: "reserve", Status: saga.StepStatusPending},
		},
	}
	s.Entity = bgops.NewEntity()
	return s
}

func TestKeyRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetKey(ctx, "missing"); !errors.Is(err, bgops.ErrKeyNotFound) {
		t.Fatalf("GetKey(missing) err = %v, want ErrKeyNotFound", err)
	}

	k := newKey("k1", time.Now().Add(time.Hour))
	if err := s.PutKey(ctx, k, time.Hour); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	got, err := s.GetKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.TenantID != "tenant-1" || got.Status != idempotency.StatusPending {
		t.Errorf("got %+v", got)
	}

	// Mutating the returned record must not affect the stored one.
	got.Status = idempotency.StatusCompleted
	again, _ := s.GetKey(ctx, "k1")
	if again.Status != idempotency.StatusPending {
		t.Error("store returned a shared record, not a copy")
	}
}

func TestPutKeyIfAbsentFirstWriterWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	const writers = 32
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := newKey("contested", time.Now().Add(time.Hour))
			_, ok, err := s.PutKeyIfAbsent(ctx, k, time.Hour)
			if err != nil {
				t.Errorf("PutKeyIfAbsent: %v", err)
				return
			}
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := inserted.Load(); n != 1 {
		t.Errorf("inserted = %d, want exactly 1", n)
	}
}

func TestPutKeyIfAbsentReturnsExisting(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := newKey("k1", time.Now().Add(time.Hour))
	first.Status = idempotency.StatusCompleted
	if _, ok, _ := s.PutKeyIfAbsent(ctx, first, time.Hour); !ok {
		t.Fatal("first insert rejected")
	}

	second := newKey("k1", time.Now().Add(time.Hour))
	existing, ok, err := s.PutKeyIfAbsent(ctx, second, time.Hour)
	if err != nil {
		t.Fatalf("PutKeyIfAbsent: %v", err)
	}
	if ok {
		t.Error("second insert reported as winner")
	}
	if existing.Status != idempotency.StatusCompleted {
		t.Errorf("existing status = %s, want completed", existing.Status)
	}
}

func TestSagaLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	sg := newSaga()
	if err := s.CreateSaga(ctx, sg); err != nil {
		t.Fatalf("CreateSaga: %v", err)
	}
	if err := s.CreateSaga(ctx, sg); !errors.Is(err, bgops.ErrSagaAlreadyExists) {
		t.Errorf("duplicate CreateSaga err = %v, want ErrSagaAlreadyExists", err)
	}

	got, err := s.GetSaga(ctx, sg.ID)
	if err != nil {
		t.Fatalf("GetSaga: %v", err)
	}
	if got.WorkflowType != "provision" || len(got.Steps) != 1 {
		t.Errorf("got %+v", got)
	}

	got.Status = saga.StatusRunning
	got.Steps[0].Status = saga.StepStatusCompleted
	if err := s.UpdateSaga(ctx, got); err != nil {
		t.Fatalf("UpdateSaga: %v", err)
	}
	reloaded, _ := s.GetSaga(ctx, sg.ID)
	if reloaded.Status != saga.StatusRunning || reloaded.Steps[0].Status != saga.StepStatusCompleted {
		t.Errorf("update not persisted: %+v", reloaded)
	}

	if _, err := s.GetSaga(ctx, id.NewSagaID()); !errors.Is(err, bgops.ErrSagaNotFound) {
		t.Errorf("GetSaga(missing) err = %v, want ErrSagaNotFound", err)
	}
}

func TestHistoryAppendOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	sagaID := id.NewSagaID()

	for _, status := range []string{"executing", "completed", "compensating"} {
		err := s.AppendHistory(ctx, &saga.HistoryEntry{
			ID:        id.NewHistoryID(),
			SagaID:    sagaID,
			Status:    status,
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	entries, err := s.ListHistory(ctx, sagaID)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	want := []string{"executing", "completed", "compensating"}
	for i, e := range entries {
		if e.Status != want[i] {
			t.Errorf("entries[%d].Status = %s, want %s", i, e.Status, want[i])
		}
	}
}

func TestLockExclusivityAndExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "saga:abc", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, _ = s.AcquireLock(ctx, "saga:abc", time.Hour); ok {
		t.Error("second acquire succeeded while lock held")
	}

	if err := s.ReleaseLock(ctx, "saga:abc"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if ok, _ = s.AcquireLock(ctx, "saga:abc", time.Hour); !ok {
		t.Error("acquire after release failed")
	}

	// A lock with a lapsed TTL is free for the taking.
	if ok, _ := s.AcquireLock(ctx, "saga:expired", -time.Second); !ok {
		t.Fatal("acquire with negative ttl failed")
	}
	if ok, _ := s.AcquireLock(ctx, "saga:expired", time.Hour); !ok {
		t.Error("expired lock not reclaimable")
	}
}

func TestOperationLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	op := &operation.Operation{
		ID:       id.NewOperationID(),
		TenantID: "tenant-1",
		Status:   operation.StatusPending,
	}
	op.Entity = bgops.NewEntity()

	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if err := s.CreateOperation(ctx, op); !errors.Is(err, bgops.ErrOperationAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrOperationAlreadyExists", err)
	}

	op.Status = operation.StatusCompleted
	if err := s.UpdateOperation(ctx, op); err != nil {
		t.Fatalf("UpdateOperation: %v", err)
	}
	got, err := s.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.Status != operation.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	if _, err := s.GetOperation(ctx, id.NewOperationID()); !errors.Is(err, bgops.ErrOperationNotFound) {
		t.Errorf("GetOperation(missing) err = %v, want ErrOperationNotFound", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.PutKey(ctx, newKey("live", now.Add(time.Hour)), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.PutKey(ctx, newKey("dead", now.Add(-time.Hour)), 0); err != nil {
		t.Fatal(err)
	}

	deadOp := &operation.Operation{
		ID:        id.NewOperationID(),
		TenantID:  "tenant-1",
		Status:    operation.StatusCompleted,
		ExpiresAt: now.Add(-time.Minute),
	}
	deadOp.Entity = bgops.NewEntity()
	if err := s.CreateOperation(ctx, deadOp); err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := s.GetKey(ctx, "dead"); !errors.Is(err, bgops.ErrKeyNotFound) {
		t.Error("expired key survived cleanup")
	}
	if _, err := s.GetKey(ctx, "live"); err != nil {
		t.Errorf("live key removed by cleanup: %v", err)
	}
	if _, err := s.GetOperation(ctx, deadOp.ID); !errors.Is(err, bgops.ErrOperationNotFound) {
		t.Error("expired operation survived cleanup")
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.GetKey(ctx, "k"); !errors.Is(err, bgops.ErrStoreClosed) {
		t.Errorf("GetKey after close err = %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, bgops.ErrStoreClosed) {
		t.Errorf("Ping after close err = %v, want ErrStoreClosed", err)
	}
	if err := s.CreateSaga(ctx, newSaga()); !errors.Is(err, bgops.ErrStoreClosed) {
		t.Errorf("CreateSaga after close err = %v, want ErrStoreClosed", err)
	}
}
