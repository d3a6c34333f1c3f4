package archive

import (
	"context"
	"time"

	"armouriq/armour/pkg/trace"
)

// Query filters archived traces. Zero fields match everything. Times apply
// to the trace's last update.
type Query struct {
	ExecutionIDs []string     `json:"execution_ids,omitempty"`
	Status       trace.Status `json:"status,omitempty"`
	Outcome      string       `json:"outcome,omitempty"`
	StartTime    *time.Time   `json:"start_time,omitempty"` // inclusive
	EndTime      *time.Time   `json:"end_time,omitempty"`   // exclusive

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store persists traces. Implementations must be safe for concurrent use.
//
// Save upserts a non-terminal trace. Once a terminal trace is stored it is
// never overwritten: saving it again fails with ErrImmutable.
type Store interface {
	Save(ctx context.Context, t *trace.Trace) error

	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, executionID string) (*trace.Trace, error)

	// List returns matching traces, oldest update first.
	List(ctx context.Context, q *Query) ([]*trace.Trace, error)

	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes terminal traces last updated before cutoff.
	// Parked traces are kept.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// OutcomeOf returns the terminal status label used for indexing: the
// MCP_OUTCOME status, ABANDONED, or "" while the trace is open.
func OutcomeOf(t *trace.Trace) string {
	if out := t.Outcome(); out != nil {
		return string(out.Status)
	}
	if t.Status == trace.StatusAbandoned {
		return string(trace.StatusAbandoned)
	}
	return ""
}
