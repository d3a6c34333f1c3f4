package trace

import (
	"fmt"
	"time"
)

// State is the orchestrator state a trace is in.
type State string

const (
	StateNew              State = "NEW"
	StateUserInput        State = "USER_INPUT"
	StateReasoning        State = "REASONING"
	StatePlan             State = "PLAN"
	StateAwaitingAnswers  State = "AWAITING_ANSWERS"
	StateIntentToken      State = "INTENT_TOKEN"
	StatePolicyEvaluation State = "POLICY_EVALUATION"
	StateMCPOutcome       State = "MCP_OUTCOME"
	StateAbandoned        State = "ABANDONED"
)

// Status summarises a trace's lifecycle.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// transitions lists, for each state, the states it may move to next.
// ABANDONED is reachable from every non-terminal state and is handled
// separately.
var transitions = map[State][]State{
	StateNew:              {StateUserInput},
	StateUserInput:        {StateReasoning},
	StateReasoning:        {StatePlan},
	StatePlan:             {StateAwaitingAnswers, StateIntentToken, StateMCPOutcome},
	StateAwaitingAnswers:  {StateAwaitingAnswers, StateIntentToken, StateMCPOutcome},
	StateIntentToken:      {StatePolicyEvaluation, StateMCPOutcome},
	StatePolicyEvaluation: {StateMCPOutcome},
}

// stageStates maps each main-line stage to the state appending it enters.
var stageStates = map[StageType]State{
	StageUserInput:        StateUserInput,
	StageReasoning:        StateReasoning,
	StagePlan:             StatePlan,
	StageIntentToken:      StateIntentToken,
	StagePolicyEvaluation: StatePolicyEvaluation,
	StageMCPOutcome:       StateMCPOutcome,
}

// CanTransition reports whether a trace in from may move to to.
func CanTransition(from, to State) bool {
	if to == StateAbandoned {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateMCPOutcome || s == StateAbandoned
}

// InvalidTransitionError is returned for a transition the table forbids.
type InvalidTransitionError struct {
	ExecutionID string
	From        State
	To          State
}

// Error returns the error message.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("trace %s: invalid transition %s -> %s", e.ExecutionID, e.From, e.To)
}

// Trace is the append-only audit record of one execution attempt.
// A trace is owned by one goroutine at a time and is not safe for concurrent
// mutation.
type Trace struct {
	ExecutionID   string    `json:"execution_id"`
	Stages        []Stage   `json:"stages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	State         State     `json:"state"`
	Status        Status    `json:"status"`
	AbandonReason string    `json:"abandon_reason,omitempty"`
}

// New starts an empty trace.
func New(executionID string, now time.Time) *Trace {
	return &Trace{
		ExecutionID: executionID,
		Stages:      []Stage{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
		State:       StateNew,
		Status:      StatusRunning,
	}
}

// Append records a stage and moves the trace to the matching state.
// BOOKING_APPROVAL is not part of the main line and cannot be appended.
func (t *Trace) Append(typ StageType, payload interface{}, now time.Time) error {
	to, ok := stageStates[typ]
	if !ok {
		return fmt.Errorf("trace %s: stage %s cannot be appended", t.ExecutionID, typ)
	}
	if err := t.moveTo(to, now); err != nil {
		return err
	}
	t.Stages = append(t.Stages, Stage{Type: typ, Payload: payload, At: now.UTC()})
	if to == StateMCPOutcome {
		t.Status = StatusCompleted
	}
	return nil
}

// Await parks the trace waiting for questionnaire answers.
func (t *Trace) Await(now time.Time) error {
	if err := t.moveTo(StateAwaitingAnswers, now); err != nil {
		return err
	}
	t.Status = StatusPending
	return nil
}

// Resume marks a parked trace as running again. The state stays
// AWAITING_ANSWERS until the next stage is appended.
func (t *Trace) Resume(now time.Time) error {
	if t.State != StateAwaitingAnswers {
		return &InvalidTransitionError{ExecutionID: t.ExecutionID, From: t.State, To: StateAwaitingAnswers}
	}
	t.Status = StatusRunning
	t.UpdatedAt = now.UTC()
	return nil
}

// Abandon terminates a trace that will never reach MCP_OUTCOME.
func (t *Trace) Abandon(reason string, now time.Time) error {
	if err := t.moveTo(StateAbandoned, now); err != nil {
		return err
	}
	t.Status = StatusAbandoned
	t.AbandonReason = reason
	return nil
}

func (t *Trace) moveTo(to State, now time.Time) error {
	if !CanTransition(t.State, to) {
		return &InvalidTransitionError{ExecutionID: t.ExecutionID, From: t.State, To: to}
	}
	t.State = to
	t.UpdatedAt = now.UTC()
	return nil
}

// IsTerminal reports whether the trace is finished.
func (t *Trace) IsTerminal() bool {
	return t.State.IsTerminal()
}

// Outcome returns the MCP_OUTCOME payload, or nil if the trace has none.
func (t *Trace) Outcome() *OutcomePayload {
	for i := len(t.Stages) - 1; i >= 0; i-- {
		if t.Stages[i].Type != StageMCPOutcome {
			continue
		}
		if p, ok := t.Stages[i].Payload.(*OutcomePayload); ok {
			return p
		}
	}
	return nil
}

// Clone returns a copy whose stage slice can be handed to another goroutine.
// Stage payloads are shared; they are never modified after being appended.
func (t *Trace) Clone() *Trace {
	c := *t
	c.Stages = append([]Stage(nil), t.Stages...)
	return &c
}
