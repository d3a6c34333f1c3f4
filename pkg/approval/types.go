package approval

import (
	"context"
	"time"

	"armouriq/armour/pkg/intent"
)

// Status is the lifecycle state of an approval.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Approval is a REQUIRES_APPROVAL outcome waiting for, or resolved by, a
// human. It holds the signed token so the approved action is exactly the one
// that was evaluated.
type Approval struct {
	ID             string        `json:"id"`
	ExecutionID    string        `json:"execution_id"`
	Tool           string        `json:"tool"`
	Token          *intent.Token `json:"token"`
	TriggeredRules []string      `json:"triggered_rules"`
	Reasons        []string      `json:"reasons,omitempty"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Approver   string     `json:"approver,omitempty"`
	Comment    string     `json:"comment,omitempty"`

	// Set once the decision has been acted on.
	Reference     string `json:"reference,omitempty"`
	OutcomeReason string `json:"outcome_reason,omitempty"`
}

// IsPending reports whether no decision has been recorded.
func (a *Approval) IsPending() bool {
	return a.Status == StatusPending
}

// Decision is a human verdict on an approval.
type Decision struct {
	Approve  bool   `json:"approve"`
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}

// Status returns the status the decision moves an approval to.
func (d Decision) Status() Status {
	if d.Approve {
		return StatusApproved
	}
	return StatusRejected
}

// Store persists approvals. Resolve must be atomic: of two concurrent
// resolutions of the same approval exactly one succeeds.
type Store interface {
	Create(ctx context.Context, a *Approval) error
	Get(ctx context.Context, id string) (*Approval, error)
	ListPending(ctx context.Context) ([]*Approval, error)

	// Resolve moves a pending approval to the decision's status and returns
	// the updated record. It fails with ErrAlreadyResolved otherwise.
	Resolve(ctx context.Context, id string, d Decision, at time.Time) (*Approval, error)

	// RecordOutcome stores what happened after the decision.
	RecordOutcome(ctx context.Context, id, reference, reason string) error

	Close() error
}
