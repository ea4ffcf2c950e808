package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaelayoade/dotmac-bgops/hook"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*TracingExtension)(nil)
	_ hook.SagaStarted       = (*TracingExtension)(nil)
	_ hook.SagaStepCompleted = (*TracingExtension)(nil)
	_ hook.SagaStepFailed    = (*TracingExtension)(nil)
	_ hook.SagaCompleted     = (*TracingExtension)(nil)
	_ hook.SagaCompensated   = (*TracingExtension)(nil)
	_ hook.SagaFailed        = (*TracingExtension)(nil)
)

// TracingExtension annotates the span already active on the caller's
// context with saga lifecycle events. It does not open spans of its
// own: the engine runs inside whatever span the caller established, so
// the extension adds events and status to that span.
type TracingExtension struct{}

// NewTracingExtension creates a TracingExtension.
func NewTracingExtension() *TracingExtension { return &TracingExtension{} }

// Name implements hook.Extension.
func (t *TracingExtension) Name() string { return "observability-tracing" }

func sagaAttrs(s *saga.Saga) trace.EventOption {
	return trace.WithAttributes(
		attribute.String("bgops.saga.id", s.ID.String()),
		attribute.String("bgops.saga.workflow_type", s.WorkflowType),
	)
}

// OnSagaStarted implements hook.SagaStarted.
func (t *TracingExtension) OnSagaStarted(ctx context.Context, s *saga.Saga) error {
	trace.SpanFromContext(ctx).AddEvent("saga.started", sagaAttrs(s))
	return nil
}

// OnSagaStepCompleted implements hook.SagaStepCompleted.
func (t *TracingExtension) OnSagaStepCompleted(ctx context.Context, s *saga.Saga, step *saga.Step, elapsed time.Duration) error {
	trace.SpanFromContext(ctx).AddEvent("saga.step.completed", trace.WithAttributes(
		attribute.String("bgops.saga.id", s.ID.String()),
		attribute.String("bgops.saga.step", step.Name),
		attribute.Float64("bgops.saga.step.duration_s", elapsed.Seconds()),
	))
	return nil
}

// OnSagaStepFailed implements hook.SagaStepFailed.
func (t *TracingExtension) OnSagaStepFailed(ctx context.Context, s *saga.Saga, step *saga.Step, err error) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("saga.step.failed", trace.WithAttributes(
		attribute.String("bgops.saga.id", s.ID.String()),
		attribute.String("bgops.saga.step", step.Name),
	))
	span.RecordError(err)
	return nil
}

// OnSagaCompleted implements hook.SagaCompleted.
func (t *TracingExtension) OnSagaCompleted(ctx context.Context, s *saga.Saga, _ time.Duration) error {
	trace.SpanFromContext(ctx).AddEvent("saga.completed", sagaAttrs(s))
	return nil
}

// OnSagaCompensated implements hook.SagaCompensated.
func (t *TracingExtension) OnSagaCompensated(ctx context.Context, s *saga.Saga) error {
	trace.SpanFromContext(ctx).AddEvent("saga.compensated", sagaAttrs(s))
	return nil
}

// OnSagaFailed implements hook.SagaFailed.
func (t *TracingExtension) OnSagaFailed(ctx context.Context, s *saga.Saga, err error) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("saga.failed", sagaAttrs(s))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil
}
