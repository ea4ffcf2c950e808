package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/michaelayoade/dotmac-bgops"
)

// OperationFunc is a type-erased forward-step handler that accepts raw
// JSON parameters and returns a raw JSON result. The typed
// Definition[T, R] is converted to an OperationFunc at registration time
// by closing over JSON marshal/unmarshal + the typed handler.
type OperationFunc func(ctx context.Context, params []byte) ([]byte, error)

// CompensationFunc is a type-erased compensation handler. Compensations
// return only success or failure; they are not expected to produce data
// consumed by later steps.
type CompensationFunc func(ctx context.Context, params []byte) error

// Registry maps operation names to forward handlers and compensation
// names to undo handlers. It is safe for concurrent use, but by contract
// registration happens once during process startup; the registry is
// read-heavy and effectively immutable while serving traffic.
type Registry struct {
	mu            sync.RWMutex
	operations    map[string]OperationFunc
	compensations map[string]CompensationFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		operations:    make(map[string]OperationFunc),
		compensations: make(map[string]CompensationFunc),
	}
}

// RegisterOperation registers a forward-step handler under the given name.
// A later registration for the same name replaces the earlier one.
func (r *Registry) RegisterOperation(name string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[name] = fn
}

// RegisterCompensation registers a compensation handler under the given name.
func (r *Registry) RegisterCompensation(name string, fn CompensationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations[name] = fn
}

// Dispatch invokes the forward handler registered under name. An
// unregistered name fails with bgops.ErrHandlerNotFound, which the
// engine treats as a permanent (non-retryable) step failure.
func (r *Registry) Dispatch(ctx context.Context, name string, params []byte) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.operations[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: operation %q", bgops.ErrHandlerNotFound, name)
	}
	return fn(ctx, params)
}

// DispatchCompensation invokes the compensation handler registered under
// name. An unregistered name fails with bgops.ErrHandlerNotFound.
func (r *Registry) DispatchCompensation(ctx context.Context, name string, params []byte) error {
	r.mu.RLock()
	fn, ok := r.compensations[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: compensation %q", bgops.ErrHandlerNotFound, name)
	}
	return fn(ctx, params)
}

// HasOperation reports whether a forward handler is registered under name.
func (r *Registry) HasOperation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.operations[name]
	return ok
}

// OperationNames returns all registered forward operation names.
func (r *Registry) OperationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.operations))
	for name := range r.operations {
		names = append(names, name)
	}
	return names
}

// CompensationNames returns all registered compensation names.
func (r *Registry) CompensationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.compensations))
	for name := range r.compensations {
		names = append(names, name)
	}
	return names
}

// ──────────────────────────────────────────────────
// Typed registration
// ──────────────────────────────────────────────────

// Definition is a typed operation definition. T is the parameter type,
// R the result type; both must be JSON-serializable.
type Definition[T, R any] struct {
	// Name is the unique registry key for this operation.
	Name string

	// Handler executes the operation.
	Handler func(ctx context.Context, params T) (R, error)
}

// NewOperation creates a typed operation definition.
func NewOperation[T, R any](name string, handler func(ctx context.Context, params T) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{Name: name, Handler: handler}
}

// RegisterDefinition registers a typed operation definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the parameters
// into T before calling the typed handler and marshals R on the way out.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	r.RegisterOperation(def.Name, func(ctx context.Context, params []byte) ([]byte, error) {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return nil, fmt.Errorf("unmarshal parameters for operation %q: %w", def.Name, err)
			}
		}

		result, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for operation %q: %w", def.Name, err)
		}
		return data, nil
	})
}

// CompensationDefinition is a typed compensation definition.
type CompensationDefinition[T any] struct {
	// Name is the unique registry key for this compensation.
	Name string

	// Handler undoes a previously completed step.
	Handler func(ctx context.Context, params T) error
}

// NewCompensation creates a typed compensation definition.
func NewCompensation[T any](name string, handler func(ctx context.Context, params T) error) *CompensationDefinition[T] {
	return &CompensationDefinition[T]{Name: name, Handler: handler}
}

// RegisterCompensationDefinition registers a typed compensation definition.
func RegisterCompensationDefinition[T any](r *Registry, def *CompensationDefinition[T]) {
	r.RegisterCompensation(def.Name, func(ctx context.Context, params []byte) error {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return fmt.Errorf("unmarshal parameters for compensation %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	})
}
