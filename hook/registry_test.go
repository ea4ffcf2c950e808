package hook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelayoade/dotmac-bgops/id"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// partialExtension implements only a subset of the lifecycle hooks.
type partialExtension struct {
	name         string
	sagaStarted  int
	keyCreated   int
	cleanupTotal int
	err          error
}

func (p *partialExtension) Name() string { return p.name }

func (p *partialExtension) OnSagaStarted(context.Context, *saga.Saga) error {
	p.sagaStarted++
	return p.err
}

func (p *partialExtension) OnKeyCreated(context.Context, *idempotency.Key) error {
	p.keyCreated++
	return p.err
}

func (p *partialExtension) OnCleanupCompleted(_ context.Context, removed int) error {
	p.cleanupTotal += removed
	return p.err
}

func testSaga() *saga.Saga {
	return &saga.Saga{ID: id.NewSagaID(), WorkflowType: "order"}
}

func TestRegistryDispatchesToImplementedHooks(t *testing.T) {
	r := NewRegistry(nil)
	ext := &partialExtension{name: "partial"}
	r.Register(ext)

	ctx := context.Background()
	r.EmitSagaStarted(ctx, testSaga())
	r.EmitKeyCreated(ctx, &idempotency.Key{Key: "k1"})
	r.EmitCleanupCompleted(ctx, 5)

	// Hooks the extension does not implement must be no-ops.
	r.EmitSagaCompleted(ctx, testSaga(), time.Second)
	r.EmitShutdown(ctx)

	if ext.sagaStarted != 1 {
		t.Errorf("saga started = %d, want 1", ext.sagaStarted)
	}
	if ext.keyCreated != 1 {
		t.Errorf("key created = %d, want 1", ext.keyCreated)
	}
	if ext.cleanupTotal != 5 {
		t.Errorf("cleanup total = %d, want 5", ext.cleanupTotal)
	}
}

func TestRegistryHookErrorsDoNotPropagate(t *testing.T) {
	r := NewRegistry(nil)
	failing := &partialExtension{name: "failing", err: errors.New("hook broke")}
	healthy := &partialExtension{name: "healthy"}
	r.Register(failing)
	r.Register(healthy)

	// The failing extension must not stop later extensions from running.
	r.EmitSagaStarted(context.Background(), testSaga())

	if failing.sagaStarted != 1 {
		t.Errorf("failing extension calls = %d, want 1", failing.sagaStarted)
	}
	if healthy.sagaStarted != 1 {
		t.Errorf("healthy extension calls = %d, want 1", healthy.sagaStarted)
	}
}

func TestRegistryExtensionsOrder(t *testing.T) {
	r := NewRegistry(nil)
	a := &partialExtension{name: "a"}
	b := &partialExtension{name: "b"}
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 {
		t.Fatalf("extensions = %d, want 2", len(exts))
	}
	if exts[0].Name() != "a" || exts[1].Name() != "b" {
		t.Errorf("order = [%s, %s], want [a, b]", exts[0].Name(), exts[1].Name())
	}
}
