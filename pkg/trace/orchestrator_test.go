package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/executor"
	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/policy/engine/source"
	"armouriq/armour/pkg/policy/parser"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/reasoning"
	"armouriq/armour/pkg/value"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memArchive records every save and fails the test if a terminal trace is
// saved twice.
type memArchive struct {
	t     *testing.T
	mu    sync.Mutex
	saves map[string][]*Trace
}

func (a *memArchive) Save(ctx context.Context, tr *Trace) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.saves[tr.ExecutionID]
	if len(prev) > 0 && prev[len(prev)-1].IsTerminal() {
		a.t.Errorf("terminal trace %s saved twice", tr.ExecutionID)
	}
	a.saves[tr.ExecutionID] = append(prev, tr)
	return nil
}

func (a *memArchive) last(id string) *Trace {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.saves[id]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

type recordingMetrics struct {
	mu        sync.Mutex
	traces    []string
	rounds    int
	queued    []string
	approvals []string
}

func (m *recordingMetrics) RecordTrace(status, reason string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, status)
}

func (m *recordingMetrics) RecordQuestionRound(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds++
}

func (m *recordingMetrics) RecordApprovalQueued(tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, tool)
}

func (m *recordingMetrics) RecordApproval(decision, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals = append(m.approvals, decision+":"+status)
}

type answerFunc func(ctx context.Context, id string, qs []questionnaire.Question) ([]questionnaire.Answer, error)

func (f answerFunc) Answers(ctx context.Context, id string, qs []questionnaire.Question) ([]questionnaire.Answer, error) {
	return f(ctx, id, qs)
}

// tamperingEngine changes the amount after signing, before evaluation.
type tamperingEngine struct {
	engine.Engine
}

func (e tamperingEngine) EvaluateToken(ctx context.Context, tool string, tok *intent.Token) (*engine.Report, error) {
	forged := tok.Clone()
	forged.Fields["amount"] = value.Number(1)
	return e.Engine.EvaluateToken(ctx, tool, forged)
}

type harness struct {
	orch      *Orchestrator
	clock     *fakeClock
	archive   *memArchive
	approvals *approval.MemoryStore
	metrics   *recordingMetrics
	signer    *intent.Signer
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, tweak ...func(*Config, *Dependencies)) *harness {
	t.Helper()

	clock := &fakeClock{now: t0}
	logger := quietLogger()
	registry := action.DefaultRegistry()

	signer, err := intent.NewSigner([]byte("orchestrator-test-secret"), intent.WithSignerClock(clock.Now))
	require.NoError(t, err)

	builder := intent.NewBuilder(registry, questionnaire.NewCoordinator(registry), signer,
		intent.WithClock(clock.Now),
		intent.WithLogger(logger),
	)

	set, err := parser.NewParser().Parse("../../policies/payments.yaml")
	require.NoError(t, err)
	eng, err := engine.NewInterpreterEngine(engine.DefaultEngineConfig(), source.NewMemorySource(set.Rules...), signer, logger)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	h := &harness{
		clock:     clock,
		archive:   &memArchive{t: t, saves: make(map[string][]*Trace)},
		approvals: approval.NewMemoryStore(),
		metrics:   &recordingMetrics{},
		signer:    signer,
	}

	var seq int
	var seqMu sync.Mutex
	cfg := DefaultConfig()
	deps := Dependencies{
		Reasoner:  reasoning.NewKeywordReasoner(logger),
		Registry:  registry,
		Builder:   builder,
		Engine:    eng,
		Executor:  executor.NewSimulated(signer, logger, executor.WithClock(clock.Now)),
		Approvals: h.approvals,
		Archive:   h.archive,
		Metrics:   h.metrics,
		Clock:     clock.Now,
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("exec-%d", seq)
		},
	}
	for _, fn := range tweak {
		fn(cfg, &deps)
	}

	h.orch, err = NewOrchestrator(cfg, deps, logger)
	require.NoError(t, err)
	return h
}

func stageTypes(stages []Stage) []StageType {
	out := make([]StageType, len(stages))
	for i, s := range stages {
		out[i] = s.Type
	}
	return out
}

var fullLine = []StageType{StageUserInput, StageReasoning, StagePlan, StageIntentToken, StagePolicyEvaluation, StageMCPOutcome}

func TestExecute_UnverifiedMerchantOverLimitIsBlocked(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹6200"})
	require.NoError(t, err)
	require.False(t, res.NeedsQuestions)

	assert.Equal(t, fullLine, stageTypes(res.Stages))
	out := res.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, OutcomeBlocked, out.Status)
	assert.Equal(t, engine.ReasonPolicyViolation, out.Reason)
	assert.Equal(t, []string{"MAX_TRANSACTION_AMOUNT"}, out.TriggeredRules)
	assert.Empty(t, out.Reference)

	assert.Equal(t, StateMCPOutcome, res.Trace.State)
	assert.Equal(t, StatusCompleted, res.Trace.Status)

	archived := h.archive.last(res.ExecutionID)
	require.NotNil(t, archived)
	assert.True(t, archived.IsTerminal())
	assert.Equal(t, []string{string(OutcomeBlocked)}, h.metrics.traces)
}

func TestExecute_UnverifiedMerchantUnderLimitExecutes(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
	require.NoError(t, err)

	assert.Equal(t, fullLine, stageTypes(res.Stages))
	out := res.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, OutcomeExecuted, out.Status)
	assert.Equal(t, engine.ReasonAllowed, out.Reason)
	assert.True(t, strings.HasPrefix(out.Reference, "BK-"), out.Reference)

	tok, ok := res.Stages[3].Payload.(*IntentTokenPayload)
	require.True(t, ok)
	assert.Equal(t, "PAY_BILL", tok.Action)
	assert.Equal(t, value.Number(3000), tok.Fields["amount"])
	assert.Len(t, tok.Nonce, 2*intent.NonceSize)
	assert.NotEmpty(t, tok.Signature)
}

func TestExecute_MissingAmountParksAndResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	require.True(t, pending.NeedsQuestions)
	require.Len(t, pending.Questions, 1)
	q := pending.Questions[0]
	assert.Equal(t, "PAY_BILL.amount", q.ID)
	assert.Equal(t, "amount", q.Field)
	assert.NotEmpty(t, q.QuestionText)
	assert.NotEmpty(t, q.WhyAsking)

	parked, ok := h.orch.Pending(pending.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingAnswers, parked.State)
	assert.Equal(t, StatusPending, parked.Status)
	assert.Equal(t, StatusPending, h.archive.last(pending.ExecutionID).Status)

	res, err := h.orch.Execute(ctx, Request{
		ExecutionID: pending.ExecutionID,
		Responses:   []questionnaire.Answer{{ID: q.ID, Answer: "3000", Field: "amount"}},
	})
	require.NoError(t, err)
	require.False(t, res.NeedsQuestions)
	assert.Equal(t, pending.ExecutionID, res.ExecutionID)
	assert.Equal(t, fullLine, stageTypes(res.Stages))
	assert.Equal(t, OutcomeExecuted, res.Outcome().Status)

	tok := res.Stages[3].Payload.(*IntentTokenPayload)
	assert.Equal(t, 1, tok.QuestionRounds)
	require.Len(t, tok.Responses, 1)
	assert.Equal(t, "3000", tok.Responses[0].Answer)

	_, ok = h.orch.Pending(pending.ExecutionID)
	assert.False(t, ok)
	assert.Equal(t, 0, h.orch.PendingCount())
	assert.Equal(t, 1, h.metrics.rounds)
}

func TestExecute_NonPositiveAnswerIsNotExecuted(t *testing.T) {
	for _, answer := range []string{"-3000", "0", "-50000000"} {
		t.Run(answer, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
			require.NoError(t, err)
			require.True(t, pending.NeedsQuestions)

			res, err := h.orch.Execute(ctx, Request{
				ExecutionID: pending.ExecutionID,
				Responses:   []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: answer}},
			})
			require.NoError(t, err)
			require.False(t, res.NeedsQuestions)

			out := res.Outcome()
			require.NotNil(t, out)
			assert.Equal(t, OutcomeBlocked, out.Status)
			assert.Equal(t, engine.ReasonNoMatchingAllowRule, out.Reason)
			assert.Empty(t, out.Reference)
		})
	}
}

func TestExecute_ResponsesUpFront(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Execute(context.Background(), Request{
		Text:      "Pay my electricity bill",
		Responses: []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: "₹3,000"}},
	})
	require.NoError(t, err)
	require.False(t, res.NeedsQuestions)
	assert.Equal(t, OutcomeExecuted, res.Outcome().Status)

	in := res.Stages[0].Payload.(*UserInputPayload)
	assert.Len(t, in.Responses, 1)
}

func TestExecute_InvalidAnswerKeepsTraceParked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)

	_, err = h.orch.Execute(ctx, Request{
		ExecutionID: pending.ExecutionID,
		Responses:   []questionnaire.Answer{{ID: "no-field", Answer: "3000"}},
	})
	var invalid *questionnaire.InvalidAnswerError
	require.ErrorAs(t, err, &invalid)

	_, ok := h.orch.Pending(pending.ExecutionID)
	assert.True(t, ok)
}

func TestExecute_UnreadableAnswerIsAskedAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)

	again, err := h.orch.Execute(ctx, Request{
		ExecutionID: pending.ExecutionID,
		Responses:   []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: "a lot"}},
	})
	require.NoError(t, err)
	require.True(t, again.NeedsQuestions)
	require.Len(t, again.Questions, 1)
	assert.NotEmpty(t, again.Questions[0].Error)
	assert.Equal(t, pending.ExecutionID, again.ExecutionID)
}

func TestExecute_ResumeUnknownExecution(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Execute(context.Background(), Request{ExecutionID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownExecution)
}

func TestExecute_EmptyRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Execute(context.Background(), Request{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestExecute_ApprovalRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Execute(ctx, Request{Text: "Pay my water bill of ₹25000"})
	require.NoError(t, err)

	out := res.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, OutcomeRequiresApproval, out.Status)
	assert.True(t, out.RequiresHumanApproval)
	assert.Equal(t, []string{"LARGE_VERIFIED_PAYMENT"}, out.TriggeredRules)
	assert.Empty(t, out.Reference)
	require.NotEmpty(t, out.ApprovalID)

	pending, err := h.approvals.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.ExecutionID, pending[0].ExecutionID)
	assert.Equal(t, "execute_payment", pending[0].Tool)

	resolved, err := h.orch.ResolveApproval(ctx, out.ApprovalID, approval.Decision{Approve: true, Approver: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, StageBookingApproval, resolved.Stage.Type)
	p := resolved.Payload()
	require.NotNil(t, p)
	assert.Equal(t, OutcomeExecuted, p.Status)
	assert.True(t, strings.HasPrefix(p.Reference, "BK-"))
	assert.Equal(t, string(approval.StatusApproved), p.Decision)

	stored, err := h.approvals.Get(ctx, out.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, p.Reference, stored.Reference)

	_, err = h.orch.ResolveApproval(ctx, out.ApprovalID, approval.Decision{Approve: true, Approver: "someone-else"})
	assert.ErrorIs(t, err, approval.ErrAlreadyResolved)

	// The evaluated trace is not touched by the decision.
	assert.Equal(t, OutcomeRequiresApproval, h.archive.last(res.ExecutionID).Outcome().Status)
	assert.Equal(t, []string{"execute_payment"}, h.metrics.queued)
	assert.Equal(t, []string{"APPROVED:EXECUTED"}, h.metrics.approvals)
}

func TestResolveApproval_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Execute(ctx, Request{Text: "Pay my water bill of ₹25000"})
	require.NoError(t, err)

	resolved, err := h.orch.ResolveApproval(ctx, res.Outcome().ApprovalID, approval.Decision{Approver: "ops@example.com", Comment: "not this month"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, resolved.Payload().Status)
	assert.Equal(t, ReasonRejectedByApprover, resolved.Payload().Reason)
	assert.Empty(t, resolved.Payload().Reference)
}

func TestResolveApproval_TokenExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Execute(ctx, Request{Text: "Pay my water bill of ₹25000"})
	require.NoError(t, err)

	h.clock.Advance(h.signer.TTL() + time.Minute)

	resolved, err := h.orch.ResolveApproval(ctx, res.Outcome().ApprovalID, approval.Decision{Approve: true, Approver: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, resolved.Payload().Status)
	assert.Equal(t, ReasonTokenExpired, resolved.Payload().Reason)
}

func TestResolveApproval_RequiresApprover(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ResolveApproval(context.Background(), "any", approval.Decision{Approve: true})
	assert.Error(t, err)
}

func TestExecute_ApprovalWithoutQueueIsBlocked(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Dependencies) { d.Approvals = nil })

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my water bill of ₹25000"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome().Status)
	assert.Equal(t, ReasonApprovalQueue, res.Outcome().Reason)

	_, err = h.orch.ResolveApproval(context.Background(), "any", approval.Decision{Approve: true, Approver: "ops"})
	assert.ErrorIs(t, err, ErrApprovalsDisabled)
}

func TestExecute_UnknownActionIsBlocked(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Execute(context.Background(), Request{Text: "tell me a joke"})
	require.NoError(t, err)
	assert.Equal(t, []StageType{StageUserInput, StageReasoning, StagePlan, StageMCPOutcome}, stageTypes(res.Stages))
	assert.Equal(t, OutcomeBlocked, res.Outcome().Status)
	assert.Equal(t, ReasonUnknownAction, res.Outcome().Reason)
}

func TestExecute_TamperedTokenIsBlocked(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Engine = tamperingEngine{d.Engine}
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
	require.NoError(t, err)
	assert.Equal(t, fullLine, stageTypes(res.Stages))

	eval := res.Stages[4].Payload.(*PolicyEvaluationPayload)
	assert.Nil(t, eval.Report)
	assert.NotEmpty(t, eval.Error)

	out := res.Outcome()
	assert.Equal(t, OutcomeBlocked, out.Status)
	assert.Equal(t, ReasonTokenTampered, out.Reason)
	assert.Empty(t, out.Reference)
}

func TestExecute_ExecutorFailure(t *testing.T) {
	gatewayDown := errors.New("payment gateway unavailable")
	calls := 0
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Executor = executor.Func(func(ctx context.Context, tool string, tok *intent.Token) (*executor.Result, error) {
			calls++
			return nil, gatewayDown
		})
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateMCPOutcome, stageErr.Stage)
	assert.ErrorIs(t, err, gatewayDown)
	assert.Equal(t, 1, calls)

	require.NotNil(t, res)
	assert.Equal(t, OutcomeFailed, res.Outcome().Status)
	assert.Equal(t, ReasonExecutorError, res.Outcome().Reason)
	assert.True(t, h.archive.last(res.ExecutionID).IsTerminal())
}

func TestExecute_ExecutorTimeoutIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Dependencies) {
		c.CollaboratorTimeout = 20 * time.Millisecond
		d.Executor = executor.Func(func(ctx context.Context, tool string, tok *intent.Token) (*executor.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateMCPOutcome, stageErr.Stage)

	require.NotNil(t, res)
	assert.Equal(t, OutcomeFailed, res.Outcome().Status)
	assert.Equal(t, ReasonExecutorError, res.Outcome().Reason)
	assert.Empty(t, res.Outcome().Reference)

	archived := h.archive.last(res.ExecutionID)
	require.NotNil(t, archived)
	assert.True(t, archived.IsTerminal())
	assert.Equal(t, StateMCPOutcome, archived.State)
	assert.Equal(t, fullLine, stageTypes(archived.Stages))
}

func TestExecute_ReasonerTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Dependencies) {
		c.CollaboratorTimeout = 20 * time.Millisecond
		d.Reasoner = reasoning.Func(func(ctx context.Context, text string) (*reasoning.Analysis, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateReasoning, stageErr.Stage)

	archived := h.archive.last(stageErr.ExecutionID)
	require.NotNil(t, archived)
	assert.Equal(t, StateAbandoned, archived.State)
	assert.Equal(t, StatusAbandoned, archived.Status)
	assert.Equal(t, []StageType{StageUserInput}, stageTypes(archived.Stages))
}

func TestExecute_ReasonerIgnoringContextIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, func(c *Config, d *Dependencies) {
		c.CollaboratorTimeout = 20 * time.Millisecond
		d.Reasoner = reasoning.Func(func(ctx context.Context, text string) (*reasoning.Analysis, error) {
			<-release
			return nil, errors.New("too late")
		})
	})

	_, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill"})
	assert.True(t, IsTimeout(err))
}

func TestExecute_CancelledBeforeOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Reasoner = reasoning.Func(func(rctx context.Context, text string) (*reasoning.Analysis, error) {
			cancel()
			return reasoning.NewKeywordReasoner(nil).Reason(context.Background(), text)
		})
	})

	res, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill of ₹3000"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	archived := h.archive.last(stageErr.ExecutionID)
	require.NotNil(t, archived)
	assert.Equal(t, StatusAbandoned, archived.Status)
	assert.Nil(t, archived.Outcome())
}

func TestExecute_AnswerSource(t *testing.T) {
	var asked [][]questionnaire.Question
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Answers = answerFunc(func(ctx context.Context, id string, qs []questionnaire.Question) ([]questionnaire.Answer, error) {
			asked = append(asked, qs)
			return []questionnaire.Answer{{ID: qs[0].ID, Answer: "3000"}}, nil
		})
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	require.False(t, res.NeedsQuestions)
	assert.Equal(t, OutcomeExecuted, res.Outcome().Status)
	require.Len(t, asked, 1)
	assert.Equal(t, "amount", asked[0][0].Field)
}

func TestExecute_RoundLimit(t *testing.T) {
	calls := 0
	h := newHarness(t, func(c *Config, d *Dependencies) {
		c.MaxRounds = 2
		d.Answers = answerFunc(func(ctx context.Context, id string, qs []questionnaire.Question) ([]questionnaire.Answer, error) {
			calls++
			return []questionnaire.Answer{{ID: qs[0].ID, Answer: "   "}}, nil
		})
	})

	res, err := h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	out := res.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, OutcomeBlocked, out.Status)
	assert.Equal(t, ReasonMissingRequiredFields, out.Reason)
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "amount")
	assert.Equal(t, []StageType{StageUserInput, StageReasoning, StagePlan, StageMCPOutcome}, stageTypes(res.Stages))
}

func TestExecute_AnswerSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Answers = answerFunc(func(actx context.Context, id string, qs []questionnaire.Question) ([]questionnaire.Answer, error) {
			cancel()
			<-actx.Done()
			return nil, actx.Err()
		})
	})

	_, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateAwaitingAnswers, stageErr.Stage)
	assert.Equal(t, StatusAbandoned, h.archive.last(stageErr.ExecutionID).Status)
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	h.clock.Advance(20 * time.Minute)
	fresh, err := h.orch.Execute(ctx, Request{Text: "Pay my water bill"})
	require.NoError(t, err)
	h.clock.Advance(15 * time.Minute)

	n, err := h.orch.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, StatusAbandoned, h.archive.last(stale.ExecutionID).Status)
	_, ok := h.orch.Pending(fresh.ExecutionID)
	assert.True(t, ok)

	_, err = h.orch.Execute(ctx, Request{ExecutionID: stale.ExecutionID, Responses: []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: "3000"}}})
	assert.ErrorIs(t, err, ErrUnknownExecution)
}

func TestExecute_ResumeAfterTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	h.clock.Advance(DefaultConfig().PendingTTL + time.Second)

	_, err = h.orch.Execute(ctx, Request{ExecutionID: pending.ExecutionID, Responses: []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: "3000"}}})
	assert.ErrorIs(t, err, ErrPendingExpired)
	assert.Equal(t, StatusAbandoned, h.archive.last(pending.ExecutionID).Status)
}

func TestResult_JSON(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill"})
	require.NoError(t, err)
	data, err := json.Marshal(pending)
	require.NoError(t, err)

	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &shape))
	assert.Equal(t, "true", string(shape["needs_questions"]))
	assert.Contains(t, shape, "questions")
	assert.NotContains(t, shape, "stages")

	done, err := h.orch.Execute(ctx, Request{Text: "Pay my electricity bill of ₹6200"})
	require.NoError(t, err)
	data, err = json.Marshal(done)
	require.NoError(t, err)

	shape = nil
	require.NoError(t, json.Unmarshal(data, &shape))
	assert.Contains(t, shape, "execution_id")
	assert.Contains(t, shape, "stages")
	assert.Contains(t, shape, "timestamp")
	assert.NotContains(t, shape, "needs_questions")
}

func TestExecute_ConcurrentTraces(t *testing.T) {
	h := newHarness(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Execute(context.Background(), Request{Text: "Pay my electricity bill of ₹3000"})
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	refs := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		out := results[i].Outcome()
		require.NotNil(t, out)
		assert.Equal(t, OutcomeExecuted, out.Status)
		ids[results[i].ExecutionID] = true
		refs[out.Reference] = true
	}
	assert.Len(t, ids, n)
	assert.Len(t, refs, n)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(nil, Dependencies{}, nil)
	assert.Error(t, err)

	_, err = NewOrchestrator(&Config{MaxRounds: 0, PendingTTL: time.Minute, CollaboratorTimeout: time.Second}, Dependencies{}, nil)
	assert.Error(t, err)
}
