// Package operation provides thin tracking records that correlate an
// externally visible operation ID with the saga and/or idempotency key
// doing the actual work.
package operation

import (
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
)

// Status mirrors the state of the underlying work.
type Status string

const (
	// StatusPending means the underlying work has not started.
	StatusPending Status = "pending"
	// StatusInProgress means the underlying work is executing.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the underlying work finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the underlying work failed terminally.
	StatusFailed Status = "failed"
)

// Operation is a tracking record created on request intake and updated
// as the underlying idempotency/saga state changes. Records are never
// deleted explicitly; they age out under the same TTL/cleanup policy as
// idempotency keys.
type Operation struct {
	bgops.Entity

	ID             id.OperationID `json:"id"`
	TenantID       string         `json:"tenant_id"`
	SagaID         *id.SagaID     `json:"saga_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Status         Status         `json:"status"`
	Error          string         `json:"error,omitempty"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Expired reports whether the record has aged out as of now.
func (o *Operation) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
