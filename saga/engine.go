package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/backoff"
	"github.com/michaelayoade/dotmac-bgops/id"
)

// Emitter is called by the Engine to emit saga lifecycle events.
// This interface is satisfied by hook.Registry (via an adapter in the
// manager package) to break the import cycle between saga and hook.
type Emitter interface {
	EmitSagaStarted(ctx context.Context, s *Saga)
	EmitStepCompleted(ctx context.Context, s *Saga, step *Step, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, s *Saga, step *Step, err error)
	EmitSagaCompleted(ctx context.Context, s *Saga, elapsed time.Duration)
	EmitSagaCompensated(ctx context.Context, s *Saga)
	EmitSagaFailed(ctx context.Context, s *Saga, err error)
}

// noopEmitter is the default Emitter when none is configured.
type noopEmitter struct{}

func (noopEmitter) EmitSagaStarted(context.Context, *Saga)                         {}
func (noopEmitter) EmitStepCompleted(context.Context, *Saga, *Step, time.Duration) {}
func (noopEmitter) EmitStepFailed(context.Context, *Saga, *Step, error)            {}
func (noopEmitter) EmitSagaCompleted(context.Context, *Saga, time.Duration)        {}
func (noopEmitter) EmitSagaCompensated(context.Context, *Saga)                     {}
func (noopEmitter) EmitSagaFailed(context.Context, *Saga, error)                   {}

// Engine owns the saga state machine: forward step execution with retry,
// failure detection, and reverse-order compensation. It is stateless
// between calls; the store is the single source of truth.
type Engine struct {
	store          Store
	registry       *Registry
	bo             backoff.Strategy
	emitter        Emitter
	logger         *slog.Logger
	defaultTimeout time.Duration
	defaultRetries int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBackoff sets the retry delay strategy for step execution.
// If not set, backoff.DefaultStrategy() (exponential, 1s..60s) is used.
func WithBackoff(b backoff.Strategy) EngineOption {
	return func(e *Engine) { e.bo = b }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(em Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithDefaultTimeout sets the timeout applied to sagas created without one.
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithDefaultMaxRetries sets the retry budget applied to steps that
// declare none.
func WithDefaultMaxRetries(n int) EngineOption {
	return func(e *Engine) { e.defaultRetries = n }
}

// NewEngine creates a saga engine over the given store and registry.
func NewEngine(store Store, registry *Registry, opts ...EngineOption) *Engine {
	cfg := bgops.DefaultConfig()
	e := &Engine{
		store:          store,
		registry:       registry,
		bo:             backoff.DefaultStrategy(),
		emitter:        noopEmitter{},
		logger:         slog.Default(),
		defaultTimeout: cfg.DefaultSagaTimeout,
		defaultRetries: cfg.DefaultMaxRetries,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the engine's operation registry.
func (e *Engine) Registry() *Registry { return e.registry }

// StepSpec describes one step at saga creation time.
type StepSpec struct {
	Name                   string
	Operation              string
	Parameters             any
	CompensationOperation  string
	CompensationParameters any
	MaxRetries             int
}

// CreateInput carries the inputs for Create.
type CreateInput struct {
	TenantID       string
	WorkflowType   string
	Steps          []StepSpec
	IdempotencyKey string
	Timeout        time.Duration
}

// Create persists a new Pending saga with its steps. Step order is
// execution order and is fixed here; steps are never reordered or
// removed afterwards.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*Saga, error) {
	if len(in.Steps) == 0 {
		return nil, fmt.Errorf("%w: saga %q has no steps", bgops.ErrInvalidState, in.WorkflowType)
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	steps := make([]*Step, 0, len(in.Steps))
	for _, spec := range in.Steps {
		if spec.Operation == "" {
			return nil, fmt.Errorf("%w: step %q has no operation", bgops.ErrInvalidState, spec.Name)
		}

		params, err := marshalPayload(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal parameters for step %q: %w", spec.Name, err)
		}
		compParams, err := marshalPayload(spec.CompensationParameters)
		if err != nil {
			return nil, fmt.Errorf("marshal compensation parameters for step %q: %w", spec.Name, err)
		}

		retries := spec.MaxRetries
		if retries <= 0 {
			retries = e.defaultRetries
		}

		steps = append(steps, &Step{
			ID:                     id.NewStepID(),
			Name:                   spec.Name,
			Operation:              spec.Operation,
			Parameters:             params,
			CompensationOperation:  spec.CompensationOperation,
			CompensationParameters: compParams,
			MaxRetries:             retries,
			Status:                 StepStatusPending,
		})
	}

	s := &Saga{
		Entity:         bgops.NewEntity(),
		ID:             id.NewSagaID(),
		TenantID:       in.TenantID,
		WorkflowType:   in.WorkflowType,
		Steps:          steps,
		CurrentStep:    0,
		Status:         StatusPending,
		IdempotencyKey: in.IdempotencyKey,
		Timeout:        timeout,
	}

	if err := e.store.CreateSaga(ctx, s); err != nil {
		return nil, fmt.Errorf("create saga %q: %w", in.WorkflowType, err)
	}

	e.logger.Debug("saga created",
		slog.String("saga_id", s.ID.String()),
		slog.String("workflow_type", s.WorkflowType),
		slog.Int("steps", len(s.Steps)),
	)
	return s, nil
}

// Execute drives a saga to a terminal state. It acquires the saga's
// mutual-exclusion lock (failing with bgops.ErrLockHeld if an execution
// is already in flight elsewhere), replays the cached outcome for sagas
// that are already terminal, fails a saga hard when its deadline passed,
// and otherwise runs steps forward with retry, compensating completed
// steps in reverse order on permanent step failure.
//
// The saga is persisted after every step and after the final transition,
// and the lock is released on every exit path. A saga is never left
// running after Execute returns.
func (e *Engine) Execute(ctx context.Context, sagaID id.SagaID) (*Saga, error) {
	s, err := e.store.GetSaga(ctx, sagaID)
	if err != nil {
		if errors.Is(err, bgops.ErrSagaNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get saga %s: %w", bgops.ErrStorageUnavailable, sagaID, err)
	}

	lockKey := lockKey(sagaID)
	acquired, err := e.store.AcquireLock(ctx, lockKey, s.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock for saga %s: %w", bgops.ErrStorageUnavailable, sagaID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: saga %s", bgops.ErrLockHeld, sagaID)
	}
	defer func() {
		// Release must survive the caller's context dying mid-run;
		// otherwise the saga stays locked for the full lease TTL.
		if relErr := e.store.ReleaseLock(context.WithoutCancel(ctx), lockKey); relErr != nil {
			e.logger.Warn("failed to release saga lock",
				slog.String("saga_id", sagaID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	// Reload under the lock; the pre-lock read may be stale.
	s, err = e.store.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("%w: get saga %s: %w", bgops.ErrStorageUnavailable, sagaID, err)
	}

	// Idempotent on the saga level: a terminal saga replays its outcome.
	if s.Terminal() {
		return s, nil
	}

	// A saga caught mid-compensation by a crashed run resumes its
	// compensation pass. Forward execution never restarts once
	// compensation has begun; already-compensated steps are skipped.
	if s.Status == StatusCompensating {
		cause := compensationCause(s)
		e.logger.Info("resuming interrupted saga compensation",
			slog.String("saga_id", s.ID.String()),
		)
		e.finishCompensating(ctx, s, cause)
		return s, cause
	}

	if deadlineErr := e.failIfExpired(ctx, s); deadlineErr != nil {
		return s, deadlineErr
	}

	s.Status = StatusRunning
	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.emitter.EmitSagaStarted(ctx, s)

	start := time.Now()
	return e.run(ctx, s, start)
}

// run executes the forward pass and, on failure, the compensation pass.
// Handler panics are recovered here: they trigger the same best-effort
// compensation as a permanent step failure and surface as errors.
func (e *Engine) run(ctx context.Context, s *Saga, start time.Time) (result *Saga, retErr error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.logger.Error("saga handler panicked",
			slog.String("saga_id", s.ID.String()),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		panicErr := fmt.Errorf("panic in saga %s: %v", s.ID, r)
		e.finishCompensating(ctx, s, panicErr)
		result, retErr = s, panicErr
	}()

	forwardErr := e.runForward(ctx, s)

	switch {
	case forwardErr == nil:
		s.Status = StatusCompleted
		if err := e.persist(ctx, s); err != nil {
			return nil, err
		}
		e.emitter.EmitSagaCompleted(ctx, s, time.Since(start))
		e.logger.Info("saga completed",
			slog.String("saga_id", s.ID.String()),
			slog.String("workflow_type", s.WorkflowType),
		)
		return s, nil

	case errors.Is(forwardErr, bgops.ErrSagaTimeout):
		// Deadline passed mid-run: hard failure, no compensation.
		// Completed steps' side effects are reconciled out of band.
		return s, forwardErr

	default:
		e.finishCompensating(ctx, s, forwardErr)
		return s, forwardErr
	}
}

// finishCompensating transitions the saga through compensating to
// compensated. Compensation is best-effort and exhaustive; the saga
// always reaches a terminal state.
func (e *Engine) finishCompensating(ctx context.Context, s *Saga, cause error) {
	// A cancelled run is precisely when undo work is needed: compensation
	// dispatches and the terminal persists run detached from the caller's
	// cancellation so the saga cannot be stranded mid-compensation.
	ctx = context.WithoutCancel(ctx)

	s.Status = StatusCompensating
	if err := e.persist(ctx, s); err != nil {
		e.logger.Error("failed to persist compensating saga",
			slog.String("saga_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	e.compensate(ctx, s)

	s.Status = StatusCompensated
	if err := e.persist(ctx, s); err != nil {
		e.logger.Error("failed to persist compensated saga",
			slog.String("saga_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.emitter.EmitSagaCompensated(ctx, s)
	e.emitter.EmitSagaFailed(ctx, s, cause)
}

// failIfExpired marks the saga failed when its deadline has passed.
// Returns bgops.ErrSagaTimeout in that case, nil otherwise.
func (e *Engine) failIfExpired(ctx context.Context, s *Saga) error {
	if time.Now().UTC().Before(s.Deadline()) {
		return nil
	}

	s.Status = StatusFailed
	e.appendHistory(ctx, s, nil, string(StatusFailed), bgops.ErrSagaTimeout, 0)
	if err := e.persist(ctx, s); err != nil {
		// Still a timeout for the caller; compensation must not run.
		e.logger.Error("failed to persist timed-out saga",
			slog.String("saga_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.emitter.EmitSagaFailed(ctx, s, bgops.ErrSagaTimeout)
	e.logger.Warn("saga deadline exceeded",
		slog.String("saga_id", s.ID.String()),
		slog.Duration("timeout", s.Timeout),
	)
	return fmt.Errorf("%w: saga %s", bgops.ErrSagaTimeout, s.ID)
}

// runForward executes steps from CurrentStep onward in fixed order.
// Already-completed steps (resume case) are skipped. Execution stops at
// the first permanent step failure.
func (e *Engine) runForward(ctx context.Context, s *Saga) error {
	for i := s.CurrentStep; i < len(s.Steps); i++ {
		step := s.Steps[i]
		if step.Status == StepStatusCompleted {
			s.CurrentStep = i + 1
			continue
		}

		if time.Now().UTC().After(s.Deadline()) {
			return e.failIfExpired(ctx, s)
		}

		if err := e.executeStep(ctx, s, step); err != nil {
			return err
		}

		s.CurrentStep = i + 1
		if err := e.persist(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// executeStep dispatches one step's operation, retrying transient
// failures with backoff up to the step's retry budget. HandlerNotFound
// is permanent and never retried.
func (e *Engine) executeStep(ctx context.Context, s *Saga, step *Step) error {
	now := time.Now().UTC()
	step.Status = StepStatusExecuting
	step.StartedAt = &now
	e.appendHistory(ctx, s, step, string(StepStatusExecuting), nil, step.RetryCount)
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	start := time.Now()
	var lastErr error
	for {
		result, dispatchErr := e.registry.Dispatch(ctx, step.Operation, step.Parameters)
		if dispatchErr == nil {
			done := time.Now().UTC()
			step.Status = StepStatusCompleted
			step.CompletedAt = &done
			step.Result = result
			step.Error = ""
			e.appendHistory(ctx, s, step, string(StepStatusCompleted), nil, step.RetryCount)
			e.emitter.EmitStepCompleted(ctx, s, step, time.Since(start))
			return nil
		}

		lastErr = dispatchErr

		if errors.Is(dispatchErr, bgops.ErrHandlerNotFound) {
			// No handler will appear between retries; fail permanently.
			break
		}
		if step.RetryCount >= step.MaxRetries {
			lastErr = fmt.Errorf("%w: %w", bgops.ErrMaxRetriesExceeded, lastErr)
			break
		}

		step.RetryCount++
		e.appendHistory(ctx, s, step, string(StepStatusExecuting), dispatchErr, step.RetryCount)
		if err := e.persist(ctx, s); err != nil {
			return err
		}

		e.logger.Debug("retrying saga step",
			slog.String("saga_id", s.ID.String()),
			slog.String("step", step.Name),
			slog.Int("attempt", step.RetryCount),
			slog.String("error", dispatchErr.Error()),
		)

		if err := e.sleep(ctx, e.bo.Delay(step.RetryCount)); err != nil {
			lastErr = err
			break
		}
	}

	step.Status = StepStatusFailed
	step.Error = lastErr.Error()
	e.appendHistory(ctx, s, step, string(StepStatusFailed), lastErr, step.RetryCount)
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	e.emitter.EmitStepFailed(ctx, s, step, lastErr)
	e.logger.Warn("saga step failed permanently",
		slog.String("saga_id", s.ID.String()),
		slog.String("step", step.Name),
		slog.Int("retries", step.RetryCount),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("saga %s step %q: %w", s.ID, step.Name, lastErr)
}

// compensate undoes completed steps in reverse execution order. Steps
// without a compensation operation are skipped. A compensation failure
// is recorded but never stops compensation of earlier steps: leaving
// some side effects unreversed is worse than leaving all of them
// unreversed.
func (e *Engine) compensate(ctx context.Context, s *Saga) {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		step := s.Steps[i]
		if !step.Compensable() {
			continue
		}

		step.Status = StepStatusCompensating
		e.appendHistory(ctx, s, step, string(StepStatusCompensating), nil, step.RetryCount)
		if err := e.persist(ctx, s); err != nil {
			e.logger.Error("failed to persist compensating step",
				slog.String("saga_id", s.ID.String()),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
		}

		compErr := e.registry.DispatchCompensation(ctx, step.CompensationOperation, step.CompensationParameters)
		if compErr != nil {
			step.Status = StepStatusFailed
			step.Error = compErr.Error()
			e.appendHistory(ctx, s, step, string(StepStatusFailed), compErr, step.RetryCount)
			e.logger.Error("saga compensation failed",
				slog.String("saga_id", s.ID.String()),
				slog.String("step", step.Name),
				slog.String("compensation", step.CompensationOperation),
				slog.String("error", compErr.Error()),
			)
		} else {
			step.Status = StepStatusCompensated
			e.appendHistory(ctx, s, step, string(StepStatusCompensated), nil, step.RetryCount)
		}

		if err := e.persist(ctx, s); err != nil {
			e.logger.Error("failed to persist compensated step",
				slog.String("saga_id", s.ID.String()),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// History returns the saga's append-only audit trail.
func (e *Engine) History(ctx context.Context, sagaID id.SagaID) ([]*HistoryEntry, error) {
	entries, err := e.store.ListHistory(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("%w: list history for saga %s: %w", bgops.ErrStorageUnavailable, sagaID, err)
	}
	return entries, nil
}

// Get returns the saga's persisted state.
func (e *Engine) Get(ctx context.Context, sagaID id.SagaID) (*Saga, error) {
	return e.store.GetSaga(ctx, sagaID)
}

// persist writes the saga back and stamps UpdatedAt.
func (e *Engine) persist(ctx context.Context, s *Saga) error {
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateSaga(ctx, s); err != nil {
		return fmt.Errorf("%w: update saga %s: %w", bgops.ErrStorageUnavailable, s.ID, err)
	}
	return nil
}

// appendHistory records a step (or saga-level) state transition.
// History is observability-only; append failures are logged, never
// allowed to alter control flow.
func (e *Engine) appendHistory(ctx context.Context, s *Saga, step *Step, status string, cause error, retryCount int) {
	entry := &HistoryEntry{
		ID:         id.NewHistoryID(),
		SagaID:     s.ID,
		Status:     status,
		RetryCount: retryCount,
		Timestamp:  time.Now().UTC(),
	}
	if step != nil {
		entry.StepID = step.ID
		entry.StepName = step.Name
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := e.store.AppendHistory(ctx, entry); err != nil {
		e.logger.Warn("failed to append saga history",
			slog.String("saga_id", s.ID.String()),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until the context is cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockKey returns the lock namespace entry for a saga.
func lockKey(sagaID id.SagaID) string {
	return "saga:" + sagaID.String()
}

// compensationCause reconstructs the failure behind an interrupted
// compensation pass from the recorded step errors.
func compensationCause(s *Saga) error {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Error != "" {
			return fmt.Errorf("saga %s step %q: %s", s.ID, s.Steps[i].Name, s.Steps[i].Error)
		}
	}
	return fmt.Errorf("saga %s: compensation interrupted before completion", s.ID)
}

// marshalPayload JSON-encodes an arbitrary payload, passing raw JSON
// through untouched and mapping nil to empty.
func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(v)
	}
}
