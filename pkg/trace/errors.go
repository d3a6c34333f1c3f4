package trace

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorTimeout marks a reasoner or executor that did not answer
	// within the configured timeout.
	ErrCollaboratorTimeout = errors.New("external collaborator timeout")

	// ErrUnknownExecution is returned when resuming an execution id that is
	// not parked.
	ErrUnknownExecution = errors.New("unknown or finished execution")

	// ErrPendingExpired is returned when resuming a trace whose questions
	// were left unanswered longer than the pending TTL.
	ErrPendingExpired = errors.New("pending execution expired")

	// ErrEmptyRequest is returned for a request with neither text nor an
	// execution id.
	ErrEmptyRequest = errors.New("request text cannot be empty")

	// ErrApprovalsDisabled is returned by ResolveApproval when no approval
	// store is configured.
	ErrApprovalsDisabled = errors.New("approval queue not configured")
)

// StageError reports a collaborator failure at a given stage. The trace it
// belongs to is already terminal (ABANDONED, or MCP_OUTCOME FAILED) and
// archived when a StageError is returned.
type StageError struct {
	ExecutionID string
	Stage       State
	Cause       error
}

// Error returns the error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("trace %s: stage %s failed: %v", e.ExecutionID, e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is a collaborator timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCollaboratorTimeout)
}
