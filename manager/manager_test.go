package manager_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/backoff"
	"github.com/michaelayoade/dotmac-bgops/hook"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/manager"
	"github.com/michaelayoade/dotmac-bgops/operation"
	"github.com/michaelayoade/dotmac-bgops/saga"
	"github.com/michaelayoade/dotmac-bgops/store/memory"
)

func newManager(t *testing.T, opts ...manager.Option) *manager.Manager {
	t.Helper()
	opts = append([]manager.Option{
		manager.WithBackoff(backoff.NewConstant(time.Millisecond)),
	}, opts...)
	m, err := manager.New(memory.New(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := manager.New(nil); !errors.Is(err, bgops.ErrNoStore) {
		t.Errorf("New(nil) err = %v, want ErrNoStore", err)
	}
}

func TestIdempotentRequestFlow(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	in := idempotency.CreateInput{
		TenantID:      "tenant-1",
		UserID:        "user-1",
		OperationType: "invoice.create",
		Parameters:    map[string]int{"amount": 100},
	}

	k, created, err := m.CreateIdempotencyKey(ctx, in)
	if err != nil {
		t.Fatalf("CreateIdempotencyKey: %v", err)
	}
	if !created {
		t.Fatal("first request not treated as new")
	}

	if err := m.MarkIdempotencyInProgress(ctx, k.Key); err != nil {
		t.Fatalf("MarkIdempotencyInProgress: %v", err)
	}
	if done, err := m.CompleteIdempotentOperation(ctx, k.Key, "inv-42", nil); err != nil || !done {
		t.Fatalf("CompleteIdempotentOperation = (%v, %v)", done, err)
	}

	// The retried request sees the cached outcome instead of executing.
	dup, created, err := m.CreateIdempotencyKey(ctx, in)
	if err != nil {
		t.Fatalf("duplicate CreateIdempotencyKey: %v", err)
	}
	if created {
		t.Error("duplicate request treated as new")
	}
	if dup.Status != idempotency.StatusCompleted {
		t.Errorf("duplicate sees status %s, want completed", dup.Status)
	}
	if string(dup.Result) != `"inv-42"` {
		t.Errorf("duplicate sees result %s", dup.Result)
	}
}

func TestSagaWorkflowThroughFacade(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	m.RegisterOperationHandler("reserve", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return []byte(`"r1"`), nil
	})
	m.RegisterOperationHandler("charge", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return []byte(`"c1"`), nil
	})

	s, err := m.CreateSagaWorkflow(ctx, saga.CreateInput{
		TenantID:     "tenant-1",
		WorkflowType: "order",
		Steps: []saga.StepSpec{
			{Name: "reserve", Operation: "reserve"},
			{Name: "charge", Operation: "charge"},
		},
	})
	if err != nil {
		t.Fatalf("CreateSagaWorkflow: %v", err)
	}

	done, err := m.ExecuteSagaWorkflow(ctx, s.ID)
	if err != nil {
		t.Fatalf("ExecuteSagaWorkflow: %v", err)
	}
	if done.Status != saga.StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}

	entries, err := m.SagaHistory(ctx, s.ID)
	if err != nil {
		t.Fatalf("SagaHistory: %v", err)
	}
	if len(entries) == 0 {
		t.Error("no history recorded")
	}
}

func TestOperationTrackingFollowsSaga(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	m.RegisterOperationHandler("fail", func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("downstream rejected")
	})

	s, err := m.CreateSagaWorkflow(ctx, saga.CreateInput{
		TenantID:     "tenant-1",
		WorkflowType: "doomed",
		Steps:        []saga.StepSpec{{Name: "fail", Operation: "fail", MaxRetries: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	op, err := m.CreateOperation(ctx, manager.CreateOperationInput{
		TenantID: "tenant-1",
		SagaID:   &s.ID,
	})
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if op.Status != operation.StatusPending {
		t.Errorf("new operation status = %s, want pending", op.Status)
	}

	if _, err := m.ExecuteSagaWorkflow(ctx, s.ID); err == nil {
		t.Fatal("doomed saga succeeded")
	}

	got, err := m.GetOperationStatus(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperationStatus: %v", err)
	}
	if got.Status != operation.StatusFailed {
		t.Errorf("operation status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("operation error not propagated from failed saga")
	}
}

func TestOperationTrackingFollowsKey(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	k, _, err := m.CreateIdempotencyKey(ctx, idempotency.CreateInput{
		TenantID:      "tenant-1",
		OperationType: "export",
		Key:           "export-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	op, err := m.CreateOperation(ctx, manager.CreateOperationInput{
		TenantID:       "tenant-1",
		IdempotencyKey: k.Key,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.CompleteIdempotentOperation(ctx, k.Key, "done", nil); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetOperationStatus(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperationStatus: %v", err)
	}
	if got.Status != operation.StatusCompleted {
		t.Errorf("operation status = %s, want completed", got.Status)
	}
}

// recordingExtension counts lifecycle notifications.
type recordingExtension struct {
	sagaStarted   atomic.Int32
	sagaCompleted atomic.Int32
	keyCreated    atomic.Int32
	keyCompleted  atomic.Int32
	shutdown      atomic.Int32
}

func (r *recordingExtension) Name() string { return "recording" }

func (r *recordingExtension) OnSagaStarted(context.Context, *saga.Saga) error {
	r.sagaStarted.Add(1)
	return nil
}

func (r *recordingExtension) OnSagaCompleted(context.Context, *saga.Saga, time.Duration) error {
	r.sagaCompleted.Add(1)
	return nil
}

func (r *recordingExtension) OnKeyCreated(context.Context, *idempotency.Key) error {
	r.keyCreated.Add(1)
	return nil
}

func (r *recordingExtension) OnKeyCompleted(context.Context, *idempotency.Key) error {
	r.keyCompleted.Add(1)
	return nil
}

func (r *recordingExtension) OnShutdown(context.Context) error {
	r.shutdown.Add(1)
	return nil
}

var _ hook.Extension = (*recordingExtension)(nil)

func TestExtensionsReceiveLifecycleEvents(t *testing.T) {
	rec := &recordingExtension{}
	m := newManager(t, manager.WithExtension(rec))
	ctx := context.Background()

	m.RegisterOperationHandler("noop", func(context.Context, []byte) ([]byte, error) {
		return nil, nil
	})
	s, err := m.CreateSagaWorkflow(ctx, saga.CreateInput{
		TenantID:     "tenant-1",
		WorkflowType: "observed",
		Steps:        []saga.StepSpec{{Name: "noop", Operation: "noop"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ExecuteSagaWorkflow(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	k, _, err := m.CreateIdempotencyKey(ctx, idempotency.CreateInput{
		TenantID: "tenant-1", OperationType: "export", Key: "e1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CompleteIdempotentOperation(ctx, k.Key, nil, nil); err != nil {
		t.Fatal(err)
	}

	if rec.sagaStarted.Load() != 1 {
		t.Errorf("saga started events = %d, want 1", rec.sagaStarted.Load())
	}
	if rec.sagaCompleted.Load() != 1 {
		t.Errorf("saga completed events = %d, want 1", rec.sagaCompleted.Load())
	}
	if rec.keyCreated.Load() != 1 {
		t.Errorf("key created events = %d, want 1", rec.keyCreated.Load())
	}
	if rec.keyCompleted.Load() != 1 {
		t.Errorf("key completed events = %d, want 1", rec.keyCompleted.Load())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	rec := &recordingExtension{}
	cfg := bgops.DefaultConfig()
	cfg.CleanupInterval = 10 * time.Millisecond

	m := newManager(t,
		manager.WithConfig(cfg),
		manager.WithExtension(rec),
	)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Start is idempotent.
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.shutdown.Load() != 1 {
		t.Errorf("shutdown events = %d, want 1", rec.shutdown.Load())
	}

	// The store is closed; health checks must fail now.
	if err := m.HealthCheck(ctx); !errors.Is(err, bgops.ErrStorageUnavailable) {
		t.Errorf("HealthCheck after Stop err = %v, want ErrStorageUnavailable", err)
	}
	// Stop is idempotent.
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestDeriveIdempotencyKeyStable(t *testing.T) {
	m := newManager(t)

	a, err := m.DeriveIdempotencyKey("tenant-1", "user-1", "export", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.DeriveIdempotencyKey("tenant-1", "user-1", "export", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("derived keys differ: %s vs %s", a, b)
	}
}
