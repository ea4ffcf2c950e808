// Package idempotency provides deduplication of client-triggered
// operations under at-least-once delivery. A Key identifies a logical
// operation; repeated delivery of the same request executes the
// underlying work at most once while the key is live.
package idempotency

import (
	"encoding/json"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
)

// Status represents the lifecycle state of an idempotency key.
type Status string

const (
	// StatusPending means the key exists but execution has not started.
	StatusPending Status = "pending"
	// StatusInProgress means the boundary layer is driving execution.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the operation finished and its result is cached.
	StatusCompleted Status = "completed"
	// StatusFailed means the operation failed and its error is cached.
	StatusFailed Status = "failed"
)

// Key is a deduplicated operation record. Exactly one Key exists per
// key value at any time; once ExpiresAt passes the record is logically
// gone and the next request with the same key is treated as new.
type Key struct {
	bgops.Entity

	// Key is the caller-supplied value or a deterministic hash of
	// {tenant, user, operation type, parameters}.
	Key           string          `json:"key"`
	TenantID      string          `json:"tenant_id"`
	UserID        string          `json:"user_id,omitempty"`
	OperationType string          `json:"operation_type"`
	Status        Status          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Terminal reports whether the key reached a final state. Terminal keys
// are never transitioned again; a second completion is a no-op.
func (k *Key) Terminal() bool {
	return k.Status == StatusCompleted || k.Status == StatusFailed
}

// Expired reports whether the key's claim window has passed as of now.
// Expiry is evaluated lazily at lookup time, never pushed.
func (k *Key) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}
