package manager

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-bgops/hook"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// hookEmitter adapts hook.Registry to the saga.Emitter interface the
// engine emits through. The indirection keeps the saga package free of
// a hook dependency.
type hookEmitter struct {
	hooks *hook.Registry
}

var _ saga.Emitter = (*hookEmitter)(nil)

func (h *hookEmitter) EmitSagaStarted(ctx context.Context, s *saga.Saga) {
	h.hooks.EmitSagaStarted(ctx, s)
}

func (h *hookEmitter) EmitStepCompleted(ctx context.Context, s *saga.Saga, step *saga.Step, elapsed time.Duration) {
	h.hooks.EmitSagaStepCompleted(ctx, s, step, elapsed)
}

func (h *hookEmitter) EmitStepFailed(ctx context.Context, s *saga.Saga, step *saga.Step, err error) {
	h.hooks.EmitSagaStepFailed(ctx, s, step, err)
}

func (h *hookEmitter) EmitSagaCompleted(ctx context.Context, s *saga.Saga, elapsed time.Duration) {
	h.hooks.EmitSagaCompleted(ctx, s, elapsed)
}

func (h *hookEmitter) EmitSagaCompensated(ctx context.Context, s *saga.Saga) {
	h.hooks.EmitSagaCompensated(ctx, s)
}

func (h *hookEmitter) EmitSagaFailed(ctx context.Context, s *saga.Saga, err error) {
	h.hooks.EmitSagaFailed(ctx, s, err)
}
