// Package hook defines the extension system for bgops.
// Extensions are notified of lifecycle events (saga started, step
// completed, key created, cleanup finished, etc.) and can react to
// them: logging, metrics, tracing, and the like.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Saga lifecycle hooks
// ──────────────────────────────────────────────────

// SagaStarted is called when saga execution begins.
type SagaStarted interface {
	OnSagaStarted(ctx context.Context, s *saga.Saga) error
}

// SagaStepCompleted is called after a forward step completes.
type SagaStepCompleted interface {
	OnSagaStepCompleted(ctx context.Context, s *saga.Saga, step *saga.Step, elapsed time.Duration) error
}

// SagaStepFailed is called when a step fails permanently (retries
// exhausted or no handler registered).
type SagaStepFailed interface {
	OnSagaStepFailed(ctx context.Context, s *saga.Saga, step *saga.Step, err error) error
}

// SagaCompleted is called after a saga finishes successfully.
type SagaCompleted interface {
	OnSagaCompleted(ctx context.Context, s *saga.Saga, elapsed time.Duration) error
}

// SagaCompensated is called after a saga's compensation pass finishes.
type SagaCompensated interface {
	OnSagaCompensated(ctx context.Context, s *saga.Saga) error
}

// SagaFailed is called when a saga fails terminally (timeout, permanent
// step failure, or fault).
type SagaFailed interface {
	OnSagaFailed(ctx context.Context, s *saga.Saga, err error) error
}

// ──────────────────────────────────────────────────
// Idempotency lifecycle hooks
// ──────────────────────────────────────────────────

// KeyCreated is called after a new idempotency key is recorded.
type KeyCreated interface {
	OnKeyCreated(ctx context.Context, k *idempotency.Key) error
}

// KeyCompleted is called after a key transitions to a terminal state.
type KeyCompleted interface {
	OnKeyCompleted(ctx context.Context, k *idempotency.Key) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CleanupCompleted is called after each cleanup loop pass.
type CleanupCompleted interface {
	OnCleanupCompleted(ctx context.Context, removed int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
