// Package manager provides the top-level facade over the orchestration
// core: idempotency key lifecycle, saga workflows, operation tracking
// records, extensions, and the background cleanup loop, wired over one
// store backend.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/backoff"
	"github.com/michaelayoade/dotmac-bgops/hook"
	"github.com/michaelayoade/dotmac-bgops/idempotency"
	"github.com/michaelayoade/dotmac-bgops/saga"
	"github.com/michaelayoade/dotmac-bgops/store"
)

// Manager is the facade callers hold. Construct with New, then Start.
type Manager struct {
	cfg    bgops.Config
	store  store.Store
	logger *slog.Logger
	hooks  *hook.Registry
	bo     backoff.Strategy

	keys     *idempotency.Manager
	registry *saga.Registry
	engine   *saga.Engine

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default configuration.
func WithConfig(cfg bgops.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExtension registers a lifecycle extension. May be given multiple
// times; extensions are notified in registration order.
func WithExtension(e hook.Extension) Option {
	return func(m *Manager) { m.hooks.Register(e) }
}

// WithBackoff sets the retry delay strategy for saga step execution.
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.bo = b }
}

// New creates a Manager over the given store backend.
func New(st store.Store, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, bgops.ErrNoStore
	}

	m := &Manager{
		cfg:    bgops.DefaultConfig(),
		store:  st,
		logger: slog.Default(),
		bo:     backoff.DefaultStrategy(),
	}
	m.hooks = hook.NewRegistry(m.logger)
	for _, o := range opts {
		o(m)
	}

	m.keys = idempotency.NewManager(st,
		idempotency.WithDefaultTTL(m.cfg.DefaultKeyTTL),
		idempotency.WithLogger(m.logger),
	)
	m.registry = saga.NewRegistry()
	m.engine = saga.NewEngine(st, m.registry,
		saga.WithBackoff(m.bo),
		saga.WithEmitter(&hookEmitter{hooks: m.hooks}),
		saga.WithLogger(m.logger),
		saga.WithDefaultTimeout(m.cfg.DefaultSagaTimeout),
		saga.WithDefaultMaxRetries(m.cfg.DefaultMaxRetries),
	)
	return m, nil
}

// Registry returns the saga operation registry for handler registration.
func (m *Manager) Registry() *saga.Registry { return m.registry }

// RegisterOperationHandler registers a forward operation handler.
func (m *Manager) RegisterOperationHandler(name string, fn saga.OperationFunc) {
	m.registry.RegisterOperation(name, fn)
}

// RegisterCompensationHandler registers a compensation handler.
func (m *Manager) RegisterCompensationHandler(name string, fn saga.CompensationFunc) {
	m.registry.RegisterCompensation(name, fn)
}

// Start runs migrations and launches the background cleanup loop. It
// returns immediately; background work stops when Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if err := m.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.cleanupLoop(loopCtx)

	m.started = true
	m.logger.Info("background operations manager started",
		slog.Duration("cleanup_interval", m.cfg.CleanupInterval),
	)
	return nil
}

// Stop shuts the manager down: the cleanup loop is stopped and drained
// (bounded by Config.ShutdownTimeout), shutdown extensions run, and the
// store is closed. The manager is unusable afterwards.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownTimeout):
		m.logger.Warn("cleanup loop did not drain before shutdown timeout")
	case <-ctx.Done():
		m.logger.Warn("shutdown context cancelled before cleanup loop drained")
	}

	m.hooks.EmitShutdown(ctx)

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	m.logger.Info("background operations manager stopped")
	return nil
}

// HealthCheck reports whether the storage backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", bgops.ErrStorageUnavailable, err)
	}
	return nil
}

// cleanupLoop periodically reaps expired keys, operations, and locks.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.store.CleanupExpired(ctx)
			if err != nil {
				m.logger.Warn("cleanup pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if removed > 0 {
				m.logger.Debug("cleanup pass finished",
					slog.Int("removed", removed),
				)
			}
			m.hooks.EmitCleanupCompleted(ctx, removed)
		}
	}
}
