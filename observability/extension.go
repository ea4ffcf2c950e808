// Package observability provides ready-made extensions that report
// orchestration lifecycle metrics and trace events via OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/michaelayoade/dotmac-bgops/hook"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/saga"
)

const instrumentationName = "github.com/michaelayoade/dotmac-bgops/observability"

// Compile-time interface checks.
var (
	_ hook.Extension         = (*MetricsExtension)(nil)
	_ hook.SagaStarted       = (*MetricsExtension)(nil)
	_ hook.SagaStepCompleted = (*MetricsExtension)(nil)
	_ hook.SagaStepFailed    = (*MetricsExtension)(nil)
	_ hook.SagaCompleted     = (*MetricsExtension)(nil)
	_ hook.SagaCompensated   = (*MetricsExtension)(nil)
	_ hook.SagaFailed        = (*MetricsExtension)(nil)
	_ hook.KeyCreated        = (*MetricsExtension)(nil)
	_ hook.KeyCompleted      = (*MetricsExtension)(nil)
	_ hook.CleanupCompleted  = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics via an OpenTelemetry Meter.
// Register it on the manager to automatically track saga executions,
// step outcomes, compensation passes, idempotency key churn, and
// cleanup volume.
type MetricsExtension struct {
	sagaStarted     metric.Int64Counter
	sagaCompleted   metric.Int64Counter
	sagaCompensated metric.Int64Counter
	sagaFailed      metric.Int64Counter
	stepCompleted   metric.Int64Counter
	stepFailed      metric.Int64Counter
	stepDuration    metric.Float64Histogram
	sagaDuration    metric.Float64Histogram
	keyCreated      metric.Int64Counter
	keyCompleted    metric.Int64Counter
	cleanupRemoved  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithProvider(otel.GetMeterProvider())
}

// NewMetricsExtensionWithProvider creates a MetricsExtension backed by
// the given MeterProvider. Use an sdk/metric provider with a manual
// reader for testing.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) (*MetricsExtension, error) {
	meter := mp.Meter(instrumentationName)
	m := &MetricsExtension{}

	var err error
	if m.sagaStarted, err = meter.Int64Counter("bgops.saga.started"); err != nil {
		return nil, err
	}
	if m.sagaCompleted, err = meter.Int64Counter("bgops.saga.completed"); err != nil {
		return nil, err
	}
	if m.sagaCompensated, err = meter.Int64Counter("bgops.saga.compensated"); err != nil {
		return nil, err
	}
	if m.sagaFailed, err = meter.Int64Counter("bgops.saga.failed"); err != nil {
		return nil, err
	}
	if m.stepCompleted, err = meter.Int64Counter("bgops.saga.step.completed"); err != nil {
		return nil, err
	}
	if m.stepFailed, err = meter.Int64Counter("bgops.saga.step.failed"); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("bgops.saga.step.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.sagaDuration, err = meter.Float64Histogram("bgops.saga.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.keyCreated, err = meter.Int64Counter("bgops.idempotency.key.created"); err != nil {
		return nil, err
	}
	if m.keyCompleted, err = meter.Int64Counter("bgops.idempotency.key.completed"); err != nil {
		return nil, err
	}
	if m.cleanupRemoved, err = meter.Int64Counter("bgops.cleanup.removed"); err != nil {
		return nil, err
	}
	return m, nil
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(s *saga.Saga) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow_type", s.WorkflowType))
}

// ── Saga lifecycle hooks ────────────────────────────

// OnSagaStarted implements hook.SagaStarted.
func (m *MetricsExtension) OnSagaStarted(ctx context.Context, s *saga.Saga) error {
	m.sagaStarted.Add(ctx, 1, workflowAttr(s))
	return nil
}

// OnSagaStepCompleted implements hook.SagaStepCompleted.
func (m *MetricsExtension) OnSagaStepCompleted(ctx context.Context, s *saga.Saga, step *saga.Step, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("workflow_type", s.WorkflowType),
		attribute.String("step", step.Name),
	)
	m.stepCompleted.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnSagaStepFailed implements hook.SagaStepFailed.
func (m *MetricsExtension) OnSagaStepFailed(ctx context.Context, s *saga.Saga, step *saga.Step, _ error) error {
	m.stepFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", s.WorkflowType),
		attribute.String("step", step.Name),
	))
	return nil
}

// OnSagaCompleted implements hook.SagaCompleted.
func (m *MetricsExtension) OnSagaCompleted(ctx context.Context, s *saga.Saga, elapsed time.Duration) error {
	m.sagaCompleted.Add(ctx, 1, workflowAttr(s))
	m.sagaDuration.Record(ctx, elapsed.Seconds(), workflowAttr(s))
	return nil
}

// OnSagaCompensated implements hook.SagaCompensated.
func (m *MetricsExtension) OnSagaCompensated(ctx context.Context, s *saga.Saga) error {
	m.sagaCompensated.Add(ctx, 1, workflowAttr(s))
	return nil
}

// OnSagaFailed implements hook.SagaFailed.
func (m *MetricsExtension) OnSagaFailed(ctx context.Context, s *saga.Saga, _ error) error {
	m.sagaFailed.Add(ctx, 1, workflowAttr(s))
	return nil
}

// ── Idempotency lifecycle hooks ─────────────────────

// OnKeyCreated implements hook.KeyCreated.
func (m *MetricsExtension) OnKeyCreated(ctx context.Context, k *idempotency.Key) error {
	m.keyCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", k.OperationType),
	))
	return nil
}

// OnKeyCompleted implements hook.KeyCompleted.
func (m *MetricsExtension) OnKeyCompleted(ctx context.Context, k *idempotency.Key) error {
	m.keyCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", k.OperationType),
		attribute.String("status", string(k.Status)),
	))
	return nil
}

// ── Cleanup lifecycle hooks ─────────────────────────

// OnCleanupCompleted implements hook.CleanupCompleted.
func (m *MetricsExtension) OnCleanupCompleted(ctx context.Context, removed int) error {
	m.cleanupRemoved.Add(ctx, int64(removed))
	return nil
}
