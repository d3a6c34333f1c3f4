// Package trace records and drives execution traces.
//
// A trace is the append-only audit record of one request. The orchestrator
// moves it through a fixed sequence of states:
//
//	USER_INPUT → REASONING → PLAN → (AWAITING_ANSWERS ⇄ INTENT_TOKEN) → POLICY_EVALUATION → MCP_OUTCOME
//
// States are never skipped and never revisited, except AWAITING_ANSWERS,
// which loops while the intent builder keeps finding missing fields.
// MCP_OUTCOME is terminal. A trace that cannot reach it (cancellation, a
// collaborator timeout, unanswered questions) is marked ABANDONED; it is
// archived either way.
//
// # Failing Closed
//
// Anything that goes wrong between the token and the verdict ends the trace
// with a BLOCKED outcome and a SYSTEM_ERROR reason code. A tampered token,
// an evaluation error or a missing approval queue never lets an action
// through.
//
// # Questionnaires
//
// Without an AnswerSource a trace that needs input is parked and Execute
// returns the questions. A follow-up request with the execution id and the
// answers resumes it. Parked traces expire after Config.PendingTTL; call
// SweepExpired periodically to abandon them.
//
// # Approvals
//
// REQUIRES_APPROVAL outcomes are queued in an approval.Store.
// ResolveApproval records the human decision, executes approved actions and
// returns a BOOKING_APPROVAL stage. The evaluated trace itself stays as it
// was archived.
package trace
