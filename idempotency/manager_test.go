package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/store/memory"
)

func newManager(t *testing.T) (*idempotency.Manager, *memory.Store) {
	t.Helper()
	st := memory.New()
	return idempotency.NewManager(st), st
}

func TestCreateAndCheck(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	k, created, err := m.Create(ctx, idempotency.CreateInput{
		TenantID:      "tenant-1",
		UserID:        "user-1",
		OperationType: "invoice.create",
		Parameters:    map[string]int{"amount": 100},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatal("first create reported as duplicate")
	}
	if k.Status != idempotency.StatusPending {
		t.Errorf("status = %s, want pending", k.Status)
	}
	if k.Key == "" {
		t.Error("no key derived")
	}

	got, err := m.Check(ctx, k.Key)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.Key != k.Key || got.Status != idempotency.StatusPending {
		t.Errorf("got %+v", got)
	}
}

func TestDuplicateCreateReturnsExisting(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	in := idempotency.CreateInput{
		TenantID:      "tenant-1",
		OperationType: "invoice.create",
		Key:           "explicit-key",
	}

	first, created, err := m.Create(ctx, in)
	if err != nil || !created {
		t.Fatalf("first create = (%v, %v)", created, err)
	}

	second, created, err := m.Create(ctx, in)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("duplicate create reported as new")
	}
	if second.Key != first.Key {
		t.Errorf("duplicate returned different key record: %s vs %s", second.Key, first.Key)
	}
}

func TestCompleteCachesResult(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	k, _, err := m.Create(ctx, idempotency.CreateInput{
		TenantID:      "tenant-1",
		OperationType: "invoice.create",
		Key:           "k1",
	})
	if err != nil {
		t.Fatal(err)
	}

	done, err := m.Complete(ctx, k.Key, map[string]string{"invoice_id": "inv-42"}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !done {
		t.Fatal("completion reported as no-op")
	}

	got, err := m.Check(ctx, k.Key)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.Status != idempotency.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	var result map[string]string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("decode cached result: %v", err)
	}
	if result["invoice_id"] != "inv-42" {
		t.Errorf("cached result = %v", result)
	}
}

func TestCompleteWithErrorCachesFailure(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	k, _, _ := m.Create(ctx, idempotency.CreateInput{
		TenantID: "tenant-1", OperationType: "invoice.create", Key: "k1",
	})

	done, err := m.Complete(ctx, k.Key, nil, errors.New("provider unavailable"))
	if err != nil || !done {
		t.Fatalf("Complete = (%v, %v)", done, err)
	}

	got, _ := m.Check(ctx, k.Key)
	if got.Status != idempotency.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "provider unavailable" {
		t.Errorf("cached error = %q", got.Error)
	}
}

func TestTerminalKeyIsImmutable(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	k, _, _ := m.Create(ctx, idempotency.CreateInput{
		TenantID: "tenant-1", OperationType: "invoice.create", Key: "k1",
	})
	if done, _ := m.Complete(ctx, k.Key, "first", nil); !done {
		t.Fatal("first completion rejected")
	}

	// The second completion must not overwrite the stored outcome.
	done, err := m.Complete(ctx, k.Key, "second", nil)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if done {
		t.Error("second completion altered a terminal key")
	}

	got, _ := m.Check(ctx, k.Key)
	var result string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result != "first" {
		t.Errorf("stored result = %q, want %q", result, "first")
	}
}

func TestCompleteUnknownKeyIsNoOp(t *testing.T) {
	m, _ := newManager(t)

	done, err := m.Complete(context.Background(), "never-created", "result", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done {
		t.Error("completing an unknown key reported success")
	}
}

func TestExpiredKeyTreatedAsAbsent(t *testing.T) {
	st := memory.New()
	m := idempotency.NewManager(st)
	ctx := context.Background()

	// Store a record whose claim window has already closed.
	expired := &idempotency.Key{
		Key:           "stale",
		TenantID:      "tenant-1",
		OperationType: "invoice.create",
		Status:        idempotency.StatusInProgress,
		ExpiresAt:     time.Now().UTC().Add(-time.Minute),
	}
	expired.Entity = bgops.NewEntity()
	if err := st.PutKey(ctx, expired, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Check(ctx, "stale"); !errors.Is(err, bgops.ErrKeyNotFound) {
		t.Errorf("Check(expired) err = %v, want ErrKeyNotFound", err)
	}

	done, err := m.Complete(ctx, "stale", "late result", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done {
		t.Error("completing an expired key reported success")
	}
}

func TestCreateReplacesExpiredRecord(t *testing.T) {
	st := memory.New()
	m := idempotency.NewManager(st)
	ctx := context.Background()

	expired := &idempotency.Key{
		Key:           "k1",
		TenantID:      "tenant-1",
		OperationType: "invoice.create",
		Status:        idempotency.StatusCompleted,
		ExpiresAt:     time.Now().UTC().Add(-time.Minute),
	}
	expired.Entity = bgops.NewEntity()
	if err := st.PutKey(ctx, expired, 0); err != nil {
		t.Fatal(err)
	}

	k, created, err := m.Create(ctx, idempotency.CreateInput{
		TenantID: "tenant-1", OperationType: "invoice.create", Key: "k1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Error("create over an expired record reported as duplicate")
	}
	if k.Status != idempotency.StatusPending {
		t.Errorf("status = %s, want pending", k.Status)
	}
}

func TestMarkInProgress(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	k, _, _ := m.Create(ctx, idempotency.CreateInput{
		TenantID: "tenant-1", OperationType: "invoice.create", Key: "k1",
	})

	if err := m.MarkInProgress(ctx, k.Key); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	got, _ := m.Check(ctx, k.Key)
	if got.Status != idempotency.StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}

	if _, err := m.Complete(ctx, k.Key, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkInProgress(ctx, k.Key); !errors.Is(err, bgops.ErrInvalidState) {
		t.Errorf("MarkInProgress(terminal) err = %v, want ErrInvalidState", err)
	}
}

func TestCheckFailsClosedOnStorageError(t *testing.T) {
	st := memory.New()
	m := idempotency.NewManager(st)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	_, err := m.Check(context.Background(), "any")
	if !errors.Is(err, bgops.ErrStorageUnavailable) {
		t.Errorf("Check with dead store err = %v, want ErrStorageUnavailable", err)
	}
}
