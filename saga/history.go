package saga

import (
	"time"

	"github.com/michaelayoade/dotmac-bgops/id"
)

// HistoryEntry is one record in a saga's append-only audit trail: one
// entry per state transition of a step, forward or compensating. Entries
// are never mutated or deleted and are used for observability and
// post-mortem, not for control flow.
type HistoryEntry struct {
	ID         id.HistoryID `json:"id"`
	SagaID     id.SagaID    `json:"saga_id"`
	StepID     id.StepID    `json:"step_id,omitempty"`
	StepName   string       `json:"step_name,omitempty"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	RetryCount int          `json:"retry_count"`
	Timestamp  time.Time    `json:"timestamp"`
}
