// Package saga implements multi-step workflows with per-step retry and
// reverse-order compensation on failure. The engine owns the saga state
// machine; all authoritative state lives in the store, so any process
// that can reach storage can execute or resume a saga.
package saga

import (
	"encoding/json"
	"time"

	"github.com/michaelayoade/dotmac-bgops"
	"github.com/michaelayoade/dotmac-bgops/id"
)

// Status represents the lifecycle state of a saga workflow.
//
// Valid transitions: pending → running → {completed | compensating →
// compensated | failed}. A saga never re-enters running after leaving it.
type Status string

const (
	// StatusPending means the saga is persisted but execution has not begun.
	StatusPending Status = "pending"
	// StatusRunning means forward execution is in flight.
	StatusRunning Status = "running"
	// StatusCompensating means a step failed permanently and completed
	// steps are being undone in reverse order.
	StatusCompensating Status = "compensating"
	// StatusCompleted means every step completed.
	StatusCompleted Status = "completed"
	// StatusFailed means the saga failed without compensation
	// (deadline exceeded, or an unrecoverable fault before any step ran).
	StatusFailed Status = "failed"
	// StatusCompensated means compensation finished. Individual
	// compensations may still have failed; compensation is best-effort.
	StatusCompensated Status = "compensated"
)

// StepStatus represents the lifecycle state of a single saga step.
type StepStatus string

const (
	// StepStatusPending means the step has not been reached.
	StepStatusPending StepStatus = "pending"
	// StepStatusExecuting means the step's operation is being dispatched
	// (including retries).
	StepStatusExecuting StepStatus = "executing"
	// StepStatusCompleted means the operation succeeded. A step reaches
	// completed at most once and never regresses.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed means the operation or its compensation failed
	// permanently.
	StepStatusFailed StepStatus = "failed"
	// StepStatusCompensating means the step's compensation is being
	// dispatched.
	StepStatusCompensating StepStatus = "compensating"
	// StepStatusCompensated means the compensation succeeded.
	StepStatusCompensated StepStatus = "compensated"
)

// Step is one saga action with its undo action. Steps are fixed at saga
// creation; they are never reordered or removed.
type Step struct {
	ID                     id.StepID       `json:"id"`
	Name                   string          `json:"name"`
	Operation              string          `json:"operation"`
	Parameters             json.RawMessage `json:"parameters,omitempty"`
	CompensationOperation  string          `json:"compensation_operation,omitempty"`
	CompensationParameters json.RawMessage `json:"compensation_parameters,omitempty"`
	MaxRetries             int             `json:"max_retries"`
	RetryCount             int             `json:"retry_count"`
	Status                 StepStatus      `json:"status"`
	StartedAt              *time.Time      `json:"started_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
	Result                 json.RawMessage `json:"result,omitempty"`
	Error                  string          `json:"error,omitempty"`
}

// Compensable reports whether the step both completed and declares an
// undo operation. Only compensable steps are touched during compensation.
func (s *Step) Compensable() bool {
	return s.Status == StepStatusCompleted && s.CompensationOperation != ""
}

// Saga is a workflow instance: an ordered sequence of steps executed
// strictly in declaration order.
type Saga struct {
	bgops.Entity

	ID           id.SagaID `json:"id"`
	TenantID     string    `json:"tenant_id"`
	WorkflowType string    `json:"workflow_type"`
	Steps        []*Step   `json:"steps"`

	// CurrentStep is the index of the next step to execute. It is
	// monotonically non-decreasing while forward-executing.
	CurrentStep int    `json:"current_step"`
	Status      Status `json:"status"`

	// IdempotencyKey optionally links the saga to the key that
	// triggered it.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Timeout bounds the saga's total lifetime from creation. Past the
	// deadline the saga fails hard, without compensation.
	Timeout time.Duration `json:"timeout"`
}

// Terminal reports whether the saga reached a final state.
func (s *Saga) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	default:
		return false
	}
}

// Deadline returns the instant after which the saga may no longer make
// progress.
func (s *Saga) Deadline() time.Time {
	return s.CreatedAt.Add(s.Timeout)
}

// CompletedSteps returns the steps that reached completed, in execution
// order.
func (s *Saga) CompletedSteps() []*Step {
	var done []*Step
	for _, step := range s.Steps {
		if step.Status == StepStatusCompleted {
			done = append(done, step)
		}
	}
	return done
}
