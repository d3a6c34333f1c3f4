package trace

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/telemetry/logging"
	"armouriq/armour/pkg/telemetry/tracing"
)

// ApprovalResult is a resolved approval and the BOOKING_APPROVAL stage
// describing it. The original trace is terminal and is not modified.
type ApprovalResult struct {
	Approval *approval.Approval `json:"approval"`
	Stage    Stage              `json:"stage"`
}

// Payload returns the stage payload.
func (r *ApprovalResult) Payload() *ApprovalPayload {
	p, _ := r.Stage.Payload.(*ApprovalPayload)
	return p
}

// ResolveApproval records a human decision. An approved action is executed
// with the token stored at evaluation time; the executor verifies it again,
// so an approval that outlived the token TTL ends BLOCKED with
// SYSTEM_ERROR:TOKEN_EXPIRED.
func (o *Orchestrator) ResolveApproval(ctx context.Context, id string, d approval.Decision) (*ApprovalResult, error) {
	if o.approvals == nil {
		return nil, ErrApprovalsDisabled
	}
	if strings.TrimSpace(d.Approver) == "" {
		return nil, fmt.Errorf("approver cannot be empty")
	}

	a, err := o.approvals.Resolve(ctx, id, d, o.clock())
	if err != nil {
		return nil, err
	}

	ctx = logging.WithExecutionID(ctx, a.ExecutionID)
	ctx, span := o.tracer.Start(ctx, "trace.resolve_approval", oteltrace.WithAttributes(
		attribute.String(tracing.AttrExecutionID, a.ExecutionID),
		attribute.String(tracing.AttrApprovalID, a.ID),
		attribute.String(tracing.AttrDecision, string(a.Status)),
	))
	defer span.End()

	logger := o.logger.With("execution_id", a.ExecutionID, "approval_id", a.ID)
	payload := &ApprovalPayload{
		ApprovalID:  a.ID,
		ExecutionID: a.ExecutionID,
		Decision:    string(a.Status),
		Approver:    a.Approver,
		Comment:     a.Comment,
	}

	var stageErr error
	if a.Status == approval.StatusRejected {
		payload.Status = OutcomeRejected
		payload.Reason = ReasonRejectedByApprover
	} else {
		res, err := o.callExecutor(ctx, a.Tool, a.Token)
		switch {
		case err == nil:
			payload.Status = OutcomeExecuted
			payload.Reason = "APPROVED"
			payload.Reference = res.Reference
		case trustReason(err, "") != "":
			payload.Status = OutcomeBlocked
			payload.Reason = trustReason(err, "")
		default:
			payload.Status = OutcomeFailed
			payload.Reason = ReasonExecutorError
			stageErr = &StageError{ExecutionID: a.ExecutionID, Stage: StateMCPOutcome, Cause: err}
		}
		if err != nil {
			span.RecordError(err)
			logger.Warn("approved action not executed", "reason", payload.Reason, "error", err)
		}
	}

	if err := o.approvals.RecordOutcome(context.WithoutCancel(ctx), a.ID, payload.Reference, payload.Reason); err != nil {
		logger.Error("failed to record approval outcome", "error", err)
	}
	a.Reference = payload.Reference
	a.OutcomeReason = payload.Reason

	if o.metrics != nil {
		o.metrics.RecordApproval(string(a.Status), string(payload.Status))
	}
	logger.Info("approval resolved",
		"decision", a.Status,
		"approver", a.Approver,
		"status", payload.Status,
		"reference", payload.Reference,
	)

	return &ApprovalResult{
		Approval: a,
		Stage:    Stage{Type: StageBookingApproval, Payload: payload, At: o.clock().UTC()},
	}, stageErr
}
