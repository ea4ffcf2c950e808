package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type sagaStartedEntry struct {
	name string
	hook SagaStarted
}

type sagaStepCompletedEntry struct {
	name string
	hook SagaStepCompleted
}

type sagaStepFailedEntry struct {
	name string
	hook SagaStepFailed
}

type sagaCompletedEntry struct {
	name string
	hook SagaCompleted
}

type sagaCompensatedEntry struct {
	name string
	hook SagaCompensated
}

type sagaFailedEntry struct {
	name string
	hook SagaFailed
}

type keyCreatedEntry struct {
	name string
	hook KeyCreated
}

type keyCompletedEntry struct {
	name string
	hook KeyCompleted
}

type cleanupCompletedEntry struct {
	name string
	hook CleanupCompleted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Hook errors are logged and swallowed: an extension must never alter
// orchestration control flow.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	sagaStarted       []sagaStartedEntry
	sagaStepCompleted []sagaStepCompletedEntry
	sagaStepFailed    []sagaStepFailedEntry
	sagaCompleted     []sagaCompletedEntry
	sagaCompensated   []sagaCompensatedEntry
	sagaFailed        []sagaFailedEntry
	keyCreated        []keyCreatedEntry
	keyCompleted      []keyCompletedEntry
	cleanupCompleted  []cleanupCompletedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an empty extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension to the registry and caches the lifecycle
// hooks it implements. Registration is expected to happen before the
// manager starts serving traffic.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(SagaStarted); ok {
		r.sagaStarted = append(r.sagaStarted, sagaStartedEntry{name, h})
	}
	if h, ok := e.(SagaStepCompleted); ok {
		r.sagaStepCompleted = append(r.sagaStepCompleted, sagaStepCompletedEntry{name, h})
	}
	if h, ok := e.(SagaStepFailed); ok {
		r.sagaStepFailed = append(r.sagaStepFailed, sagaStepFailedEntry{name, h})
	}
	if h, ok := e.(SagaCompleted); ok {
		r.sagaCompleted = append(r.sagaCompleted, sagaCompletedEntry{name, h})
	}
	if h, ok := e.(SagaCompensated); ok {
		r.sagaCompensated = append(r.sagaCompensated, sagaCompensatedEntry{name, h})
	}
	if h, ok := e.(SagaFailed); ok {
		r.sagaFailed = append(r.sagaFailed, sagaFailedEntry{name, h})
	}
	if h, ok := e.(KeyCreated); ok {
		r.keyCreated = append(r.keyCreated, keyCreatedEntry{name, h})
	}
	if h, ok := e.(KeyCompleted); ok {
		r.keyCompleted = append(r.keyCompleted, keyCompletedEntry{name, h})
	}
	if h, ok := e.(CleanupCompleted); ok {
		r.cleanupCompleted = append(r.cleanupCompleted, cleanupCompletedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns the registered extensions in registration order.
func (r *Registry) Extensions() []Extension { return r.extensions }

// logHookError reports a failed hook without letting it propagate.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook failed",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Emit methods
// ──────────────────────────────────────────────────

// EmitSagaStarted notifies SagaStarted extensions.
func (r *Registry) EmitSagaStarted(ctx context.Context, s *saga.Saga) {
	for _, e := range r.sagaStarted {
		if err := e.hook.OnSagaStarted(ctx, s); err != nil {
			r.logHookError("SagaStarted", e.name, err)
		}
	}
}

// EmitSagaStepCompleted notifies SagaStepCompleted extensions.
func (r *Registry) EmitSagaStepCompleted(ctx context.Context, s *saga.Saga, step *saga.Step, elapsed time.Duration) {
	for _, e := range r.sagaStepCompleted {
		if err := e.hook.OnSagaStepCompleted(ctx, s, step, elapsed); err != nil {
			r.logHookError("SagaStepCompleted", e.name, err)
		}
	}
}

// EmitSagaStepFailed notifies SagaStepFailed extensions.
func (r *Registry) EmitSagaStepFailed(ctx context.Context, s *saga.Saga, step *saga.Step, err error) {
	for _, e := range r.sagaStepFailed {
		if hookErr := e.hook.OnSagaStepFailed(ctx, s, step, err); hookErr != nil {
			r.logHookError("SagaStepFailed", e.name, hookErr)
		}
	}
}

// EmitSagaCompleted notifies SagaCompleted extensions.
func (r *Registry) EmitSagaCompleted(ctx context.Context, s *saga.Saga, elapsed time.Duration) {
	for _, e := range r.sagaCompleted {
		if err := e.hook.OnSagaCompleted(ctx, s, elapsed); err != nil {
			r.logHookError("SagaCompleted", e.name, err)
		}
	}
}

// EmitSagaCompensated notifies SagaCompensated extensions.
func (r *Registry) EmitSagaCompensated(ctx context.Context, s *saga.Saga) {
	for _, e := range r.sagaCompensated {
		if err := e.hook.OnSagaCompensated(ctx, s); err != nil {
			r.logHookError("SagaCompensated", e.name, err)
		}
	}
}

// EmitSagaFailed notifies SagaFailed extensions.
func (r *Registry) EmitSagaFailed(ctx context.Context, s *saga.Saga, err error) {
	for _, e := range r.sagaFailed {
		if hookErr := e.hook.OnSagaFailed(ctx, s, err); hookErr != nil {
			r.logHookError("SagaFailed", e.name, hookErr)
		}
	}
}

// EmitKeyCreated notifies KeyCreated extensions.
func (r *Registry) EmitKeyCreated(ctx context.Context, k *idempotency.Key) {
	for _, e := range r.keyCreated {
		if err := e.hook.OnKeyCreated(ctx, k); err != nil {
			r.logHookError("KeyCreated", e.name, err)
		}
	}
}

// EmitKeyCompleted notifies KeyCompleted extensions.
func (r *Registry) EmitKeyCompleted(ctx context.Context, k *idempotency.Key) {
	for _, e := range r.keyCompleted {
		if err := e.hook.OnKeyCompleted(ctx, k); err != nil {
			r.logHookError("KeyCompleted", e.name, err)
		}
	}
}

// EmitCleanupCompleted notifies CleanupCompleted extensions.
func (r *Registry) EmitCleanupCompleted(ctx context.Context, removed int) {
	for _, e := range r.cleanupCompleted {
		if err := e.hook.OnCleanupCompleted(ctx, removed); err != nil {
			r.logHookError("CleanupCompleted", e.name, err)
		}
	}
}

// EmitShutdown notifies Shutdown extensions.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("Shutdown", e.name, err)
		}
	}
}
