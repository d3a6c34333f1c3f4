package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/value"
)

// StageType names a trace stage.
type StageType string

const (
	StageUserInput        StageType = "USER_INPUT"
	StageReasoning        StageType = "REASONING"
	StagePlan             StageType = "PLAN"
	StageIntentToken      StageType = "INTENT_TOKEN"
	StagePolicyEvaluation StageType = "POLICY_EVALUATION"
	StageMCPOutcome       StageType = "MCP_OUTCOME"
	StageBookingApproval  StageType = "BOOKING_APPROVAL"
)

// Stage is one immutable entry of a trace. Payload holds one of the typed
// payloads below, or json.RawMessage for a stage type this build does not know.
type Stage struct {
	Type    StageType   `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// UnmarshalJSON decodes the payload into the type matching Type.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    StageType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
		At      time.Time       `json:"at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload interface{}
	switch raw.Type {
	case StageUserInput:
		payload = &UserInputPayload{}
	case StageReasoning:
		payload = &ReasoningPayload{}
	case StagePlan:
		payload = &PlanPayload{}
	case StageIntentToken:
		payload = &IntentTokenPayload{}
	case StagePolicyEvaluation:
		payload = &PolicyEvaluationPayload{}
	case StageMCPOutcome:
		payload = &OutcomePayload{}
	case StageBookingApproval:
		payload = &ApprovalPayload{}
	default:
		s.Type, s.Payload, s.At = raw.Type, raw.Payload, raw.At
		return nil
	}

	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		if err := json.Unmarshal(raw.Payload, payload); err != nil {
			return fmt.Errorf("stage %s: %w", raw.Type, err)
		}
	}
	s.Type, s.Payload, s.At = raw.Type, payload, raw.At
	return nil
}

// UserInputPayload is the raw request.
type UserInputPayload struct {
	Text      string                 `json:"text"`
	Responses []questionnaire.Answer `json:"responses,omitempty"`
}

// ReasoningPayload is the reasoner's explanation.
type ReasoningPayload struct {
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// PlanPayload lists the proposed steps.
type PlanPayload struct {
	Steps []string `json:"steps"`
}

// IntentTokenPayload is the signed token as rendered for audit. Nonce and
// signature are hex encoded.
type IntentTokenPayload struct {
	Action         string       `json:"action"`
	Fields         value.Record `json:"fields"`
	Confidence     float64      `json:"confidence"`
	IssuedAt       time.Time    `json:"issued_at"`
	Nonce          string       `json:"nonce"`
	Signature      string       `json:"signature"`
	Step           *intent.Step `json:"step,omitempty"`
	QuestionRounds int          `json:"question_rounds,omitempty"`

	// Responses are the questionnaire answers collected while the trace
	// was awaiting input.
	Responses []questionnaire.Answer `json:"responses,omitempty"`
}

func newIntentTokenPayload(t *intent.Token, rounds int, answers []questionnaire.Answer) *IntentTokenPayload {
	return &IntentTokenPayload{
		Action:         t.Action,
		Fields:         t.Fields.Clone(),
		Confidence:     t.Confidence,
		IssuedAt:       t.IssuedAt,
		Nonce:          t.NonceHex(),
		Signature:      fmt.Sprintf("%x", t.Signature),
		Step:           t.Step,
		QuestionRounds: rounds,
		Responses:      answers,
	}
}

// PolicyEvaluationPayload is the engine report. When the token never reached
// the rules (tampering, evaluation failure) Report is nil and Error is set.
type PolicyEvaluationPayload struct {
	*engine.Report
	Error string `json:"error,omitempty"`
}

// OutcomeStatus is the terminal status recorded in MCP_OUTCOME.
type OutcomeStatus string

const (
	OutcomeExecuted         OutcomeStatus = "EXECUTED"
	OutcomeBlocked          OutcomeStatus = "BLOCKED"
	OutcomeRequiresApproval OutcomeStatus = "REQUIRES_APPROVAL"
	OutcomeFailed           OutcomeStatus = "FAILED"
	OutcomeRejected         OutcomeStatus = "REJECTED"
)

// Reason codes for outcomes that did not come from a policy verdict.
const (
	ReasonTokenTampered         = "SYSTEM_ERROR:TOKEN_TAMPERED"
	ReasonTokenExpired          = "SYSTEM_ERROR:TOKEN_EXPIRED"
	ReasonTokenReplayed         = "SYSTEM_ERROR:TOKEN_REPLAYED"
	ReasonPolicyEvaluation      = "SYSTEM_ERROR:POLICY_EVALUATION"
	ReasonIntentBuild           = "SYSTEM_ERROR:INTENT_BUILD"
	ReasonUnknownAction         = "SYSTEM_ERROR:UNKNOWN_ACTION"
	ReasonApprovalQueue         = "SYSTEM_ERROR:APPROVAL_QUEUE"
	ReasonMissingRequiredFields = "MISSING_REQUIRED_FIELDS"
	ReasonExecutorError         = "EXECUTOR_ERROR"
	ReasonRejectedByApprover    = "REJECTED_BY_APPROVER"
)

// OutcomePayload is the terminal stage.
type OutcomePayload struct {
	Status                OutcomeStatus `json:"status"`
	Reason                string        `json:"reason"`
	Tool                  string        `json:"tool,omitempty"`
	TriggeredRules        []string      `json:"triggered_rules,omitempty"`
	Reasons               []string      `json:"reasons,omitempty"`
	RequiresHumanApproval bool          `json:"requires_human_approval,omitempty"`
	ApprovalID            string        `json:"approval_id,omitempty"`
	Reference             string        `json:"reference,omitempty"`
	Error                 string        `json:"error,omitempty"`
}

// ApprovalPayload records a human decision on a REQUIRES_APPROVAL outcome and
// what happened next.
type ApprovalPayload struct {
	ApprovalID  string        `json:"approval_id"`
	ExecutionID string        `json:"execution_id"`
	Decision    string        `json:"decision"`
	Approver    string        `json:"approver,omitempty"`
	Comment     string        `json:"comment,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason"`
	Reference   string        `json:"reference,omitempty"`
}
