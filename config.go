package bgops

import "time"

// Config holds configuration for the background operations manager.
type Config struct {
	// DefaultKeyTTL bounds the lifetime of idempotency keys created
	// without an explicit TTL. Completion of a key after this window
	// is a silent no-op.
	DefaultKeyTTL time.Duration

	// DefaultSagaTimeout bounds saga execution when the caller does not
	// supply a timeout. A saga past its deadline fails hard, without
	// compensation.
	DefaultSagaTimeout time.Duration

	// DefaultMaxRetries is the per-step retry budget applied when a
	// step declares none.
	DefaultMaxRetries int

	// CleanupInterval is how often the cleanup loop removes expired
	// idempotency keys, tracking records and stale locks.
	CleanupInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for the cleanup
	// loop to drain before releasing the store.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultKeyTTL:      24 * time.Hour,
		DefaultSagaTimeout: 10 * time.Minute,
		DefaultMaxRetries:  3,
		CleanupInterval:    time.Minute,
		ShutdownTimeout:    30 * time.Second,
	}
}
