package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/executor"
	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/reasoning"
	"armouriq/armour/pkg/telemetry/logging"
	"armouriq/armour/pkg/telemetry/tracing"
	"armouriq/armour/pkg/value"
)

// Request is one call into the pipeline. A request carrying ExecutionID
// resumes a parked trace with Responses; otherwise a new trace starts from
// Text, with any Responses applied up front.
type Request struct {
	Text        string                 `json:"text"`
	Responses   []questionnaire.Answer `json:"responses,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
}

// Result is either a finished trace or a pending questionnaire.
type Result struct {
	ExecutionID    string
	Stages         []Stage
	Timestamp      time.Time
	NeedsQuestions bool
	Questions      []questionnaire.Question

	// Trace is a snapshot of the full record, including state and status.
	Trace *Trace
}

// MarshalJSON renders the response shape for the result's kind.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.NeedsQuestions {
		return json.Marshal(struct {
			NeedsQuestions bool                     `json:"needs_questions"`
			ExecutionID    string                   `json:"execution_id"`
			Questions      []questionnaire.Question `json:"questions"`
		}{true, r.ExecutionID, r.Questions})
	}
	return json.Marshal(struct {
		ExecutionID string    `json:"execution_id"`
		Stages      []Stage   `json:"stages"`
		Timestamp   time.Time `json:"timestamp"`
	}{r.ExecutionID, r.Stages, r.Timestamp})
}

// Outcome returns the terminal outcome, or nil for a pending result.
func (r *Result) Outcome() *OutcomePayload {
	if r.Trace == nil {
		return nil
	}
	return r.Trace.Outcome()
}

// AnswerSource supplies questionnaire answers synchronously. It may block for
// as long as ctx allows.
type AnswerSource interface {
	Answers(ctx context.Context, executionID string, questions []questionnaire.Question) ([]questionnaire.Answer, error)
}

// Archiver persists traces. Save is called for every parked and every
// terminal trace; a terminal trace is saved exactly once.
type Archiver interface {
	Save(ctx context.Context, t *Trace) error
}

// MetricsRecorder receives orchestrator metrics. A nil recorder is allowed.
type MetricsRecorder interface {
	RecordTrace(status string, reason string, duration time.Duration)
	RecordQuestionRound(action string)
	RecordApproval(decision string, status string)
	RecordApprovalQueued(tool string)
}

// Tracer starts spans. Both an OpenTelemetry trace.Tracer and the
// telemetry/tracing wrapper satisfy it.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span)
}

// Dependencies wires the orchestrator's collaborators. Reasoner, Registry,
// Builder, Engine and Executor are required.
type Dependencies struct {
	Reasoner reasoning.Reasoner
	Registry *action.Registry
	Builder  *intent.Builder
	Engine   engine.Engine
	Executor executor.Executor

	// Approvals queues REQUIRES_APPROVAL outcomes. Without it such outcomes
	// are blocked.
	Approvals approval.Store

	Archive Archiver
	Answers AnswerSource
	Metrics MetricsRecorder
	Tracer  Tracer

	Clock func() time.Time
	NewID func() string
}

// Orchestrator drives traces through the stage sequence.
type Orchestrator struct {
	config    *Config
	reasoner  reasoning.Reasoner
	registry  *action.Registry
	builder   *intent.Builder
	engine    engine.Engine
	executor  executor.Executor
	approvals approval.Store
	archive   Archiver
	answers   AnswerSource
	metrics   MetricsRecorder
	tracer    Tracer
	clock     func() time.Time
	newID     func() string
	logger    *slog.Logger

	mu     sync.Mutex
	parked map[string]*run
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(config *Config, deps Dependencies, logger *slog.Logger) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case deps.Reasoner == nil:
		return nil, fmt.Errorf("reasoner cannot be nil")
	case deps.Registry == nil:
		return nil, fmt.Errorf("action registry cannot be nil")
	case deps.Builder == nil:
		return nil, fmt.Errorf("intent builder cannot be nil")
	case deps.Engine == nil:
		return nil, fmt.Errorf("policy engine cannot be nil")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		config:    config,
		reasoner:  deps.Reasoner,
		registry:  deps.Registry,
		builder:   deps.Builder,
		engine:    deps.Engine,
		executor:  deps.Executor,
		approvals: deps.Approvals,
		archive:   deps.Archive,
		answers:   deps.Answers,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		clock:     deps.Clock,
		newID:     deps.NewID,
		logger:    logger.With("component", "trace.orchestrator"),
		parked:    make(map[string]*run),
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("armour/trace")
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// run is the in-flight state of one trace. It is owned by one goroutine at
// a time: the caller of Execute, or the parked map between requests.
type run struct {
	trace      *Trace
	action     string
	tool       string
	slots      value.Record
	confidence *float64
	answers    []questionnaire.Answer
	rounds     int
	started    time.Time
	parkedAt   time.Time
	logger     *slog.Logger
}

// Execute runs a request through the pipeline. Policy outcomes, including
// blocks caused by tampering or evaluation failure, are returned as results.
// An error is returned only for an invalid request, or together with a
// terminal trace when a collaborator failed (*StageError).
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.ExecutionID != "" {
		return o.resume(ctx, req)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyRequest
	}
	if len(req.Responses) > 0 {
		if _, err := questionnaire.ApplyAnswers(req.Responses, nil); err != nil {
			return nil, err
		}
	}

	now := o.clock()
	id := o.newID()
	r := &run{
		trace:   New(id, now),
		started: now,
		logger:  o.logger.With("execution_id", id),
	}

	ctx = logging.WithExecutionID(ctx, id)
	ctx, span := o.tracer.Start(ctx, "trace.execute", oteltrace.WithAttributes(
		attribute.String(tracing.AttrExecutionID, id),
	))
	defer span.End()

	res, err := o.begin(ctx, r, req)
	annotate(span, res, err)
	return res, err
}

func (o *Orchestrator) begin(ctx context.Context, r *run, req Request) (*Result, error) {
	r.logger.Info("trace started", "responses", len(req.Responses))
	if err := r.trace.Append(StageUserInput, &UserInputPayload{Text: req.Text, Responses: req.Responses}, o.clock()); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, o.abandon(ctx, r, StateReasoning, err)
	}
	analysis, err := o.reason(ctx, req.Text)
	if err != nil {
		return nil, o.abandon(ctx, r, StateReasoning, err)
	}
	if err := r.trace.Append(StageReasoning, &ReasoningPayload{Text: analysis.Text, Action: analysis.Action}, o.clock()); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, o.abandon(ctx, r, StatePlan, err)
	}
	steps := analysis.Steps
	if steps == nil {
		steps = []string{}
	}
	if err := r.trace.Append(StagePlan, &PlanPayload{Steps: steps}, o.clock()); err != nil {
		return nil, err
	}

	r.action = analysis.Action
	r.confidence = analysis.Confidence
	r.slots = analysis.Slots.Clone()
	if r.slots == nil {
		r.slots = value.Record{}
	}
	if len(req.Responses) > 0 {
		slots, err := questionnaire.ApplyAnswers(req.Responses, r.slots)
		if err != nil {
			return nil, err
		}
		r.slots = slots
	}

	schema, ok := o.registry.Lookup(r.action)
	if !ok {
		return o.block(ctx, r, ReasonUnknownAction, fmt.Errorf("%w: %q", intent.ErrUnknownAction, r.action))
	}
	r.tool = schema.Tool
	r.logger = r.logger.With("action", r.action, "tool", r.tool)

	return o.collect(ctx, r)
}

// collect builds the token, asking questions until every required field is
// known or the round limit is hit.
func (o *Orchestrator) collect(ctx context.Context, r *run) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, o.abandon(ctx, r, StateIntentToken, err)
		}

		built, err := o.builder.Build(ctx, intent.BuildRequest{
			Action:     r.action,
			Slots:      r.slots,
			Confidence: r.confidence,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.abandon(ctx, r, StateIntentToken, ctx.Err())
			}
			reason := ReasonIntentBuild
			if errors.Is(err, intent.ErrUnknownAction) {
				reason = ReasonUnknownAction
			}
			return o.block(ctx, r, reason, err)
		}
		if !built.NeedsInput() {
			return o.evaluate(ctx, r, built.Token)
		}

		r.rounds++
		if r.rounds > o.config.MaxRounds {
			missing := make([]string, 0, len(built.Questions))
			for _, q := range built.Questions {
				missing = append(missing, q.Field)
			}
			return o.finish(ctx, r, &OutcomePayload{
				Status:  OutcomeBlocked,
				Reason:  ReasonMissingRequiredFields,
				Tool:    r.tool,
				Reasons: []string{fmt.Sprintf("still missing after %d rounds: %s", o.config.MaxRounds, strings.Join(missing, ", "))},
			}), nil
		}

		if err := r.trace.Await(o.clock()); err != nil {
			return nil, err
		}
		if o.metrics != nil {
			o.metrics.RecordQuestionRound(r.action)
		}
		r.logger.Info("trace awaiting answers", "round", r.rounds, "questions", len(built.Questions))

		if o.answers == nil {
			return o.park(ctx, r, built.Questions), nil
		}

		answers, err := o.answers.Answers(ctx, r.trace.ExecutionID, built.Questions)
		if err != nil {
			return nil, o.abandon(ctx, r, StateAwaitingAnswers, err)
		}
		slots, err := questionnaire.ApplyAnswers(answers, r.slots)
		if err != nil {
			return nil, o.abandon(ctx, r, StateAwaitingAnswers, err)
		}
		r.slots = slots
		r.answers = append(r.answers, answers...)
		if err := r.trace.Resume(o.clock()); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) evaluate(ctx context.Context, r *run, token *intent.Token) (*Result, error) {
	tokenStage := newIntentTokenPayload(token, r.rounds, r.answers)
	if err := r.trace.Append(StageIntentToken, tokenStage, o.clock()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, o.abandon(ctx, r, StatePolicyEvaluation, err)
	}

	spanCtx, span := o.tracer.Start(ctx, "trace.policy_evaluation")
	report, err := o.engine.EvaluateToken(spanCtx, r.tool, token)
	if report != nil {
		tracing.SetPolicyAttributes(span, r.tool, report.RuleSetVersion)
	}
	tracing.SetError(span, err)
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.abandon(ctx, r, StatePolicyEvaluation, ctx.Err())
		}
		if err := r.trace.Append(StagePolicyEvaluation, &PolicyEvaluationPayload{Error: err.Error()}, o.clock()); err != nil {
			return nil, err
		}
		return o.block(ctx, r, trustReason(err, ReasonPolicyEvaluation), err)
	}
	if err := r.trace.Append(StagePolicyEvaluation, &PolicyEvaluationPayload{Report: report}, o.clock()); err != nil {
		return nil, err
	}

	outcome := &OutcomePayload{
		Reason:         report.Reason,
		Tool:           r.tool,
		TriggeredRules: report.TriggeredRules,
		Reasons:        report.Reasons,
	}
	switch report.Verdict {
	case engine.VerdictExecuted:
		return o.executeAction(ctx, r, token, outcome)
	case engine.VerdictRequiresApproval:
		return o.queueApproval(ctx, r, token, outcome)
	default:
		outcome.Status = OutcomeBlocked
		return o.finish(ctx, r, outcome), nil
	}
}

func (o *Orchestrator) executeAction(ctx context.Context, r *run, token *intent.Token, outcome *OutcomePayload) (*Result, error) {
	res, err := o.callExecutor(ctx, r.tool, token)
	if err != nil {
		if reason := trustReason(err, ""); reason != "" {
			return o.block(ctx, r, reason, err)
		}
		outcome.Status = OutcomeFailed
		outcome.Reason = ReasonExecutorError
		outcome.Error = err.Error()
		result := o.finish(ctx, r, outcome)
		return result, &StageError{ExecutionID: r.trace.ExecutionID, Stage: StateMCPOutcome, Cause: err}
	}
	outcome.Status = OutcomeExecuted
	outcome.Reference = res.Reference
	return o.finish(ctx, r, outcome), nil
}

func (o *Orchestrator) queueApproval(ctx context.Context, r *run, token *intent.Token, outcome *OutcomePayload) (*Result, error) {
	if o.approvals == nil {
		return o.block(ctx, r, ReasonApprovalQueue, ErrApprovalsDisabled)
	}
	a := &approval.Approval{
		ID:             o.newID(),
		ExecutionID:    r.trace.ExecutionID,
		Tool:           r.tool,
		Token:          token,
		TriggeredRules: outcome.TriggeredRules,
		Reasons:        outcome.Reasons,
		Status:         approval.StatusPending,
		CreatedAt:      o.clock().UTC(),
	}
	if err := o.approvals.Create(context.WithoutCancel(ctx), a); err != nil {
		return o.block(ctx, r, ReasonApprovalQueue, err)
	}

	outcome.Status = OutcomeRequiresApproval
	outcome.RequiresHumanApproval = true
	outcome.ApprovalID = a.ID
	if o.metrics != nil {
		o.metrics.RecordApprovalQueued(r.tool)
	}
	r.logger.Info("approval queued", "approval_id", a.ID, "triggered_rules", outcome.TriggeredRules)
	return o.finish(ctx, r, outcome), nil
}

// block terminates the trace with a BLOCKED outcome for a failure that is
// not a policy verdict.
func (o *Orchestrator) block(ctx context.Context, r *run, reason string, cause error) (*Result, error) {
	r.logger.Warn("trace blocked", "reason", reason, "error", cause)
	return o.finish(ctx, r, &OutcomePayload{
		Status: OutcomeBlocked,
		Reason: reason,
		Tool:   r.tool,
		Error:  cause.Error(),
	}), nil
}

func (o *Orchestrator) finish(ctx context.Context, r *run, outcome *OutcomePayload) *Result {
	now := o.clock()
	if err := r.trace.Append(StageMCPOutcome, outcome, now); err != nil {
		// Only reachable through a programming error in the stage order.
		r.logger.Error("failed to append outcome", "error", err)
	}
	o.save(ctx, r)
	if o.metrics != nil {
		o.metrics.RecordTrace(string(outcome.Status), outcome.Reason, now.Sub(r.started))
	}
	r.logger.Info("trace completed",
		"status", outcome.Status,
		"reason", outcome.Reason,
		"triggered_rules", outcome.TriggeredRules,
		"reference", outcome.Reference,
	)

	snap := r.trace.Clone()
	return &Result{
		ExecutionID: snap.ExecutionID,
		Stages:      snap.Stages,
		Timestamp:   now.UTC(),
		Trace:       snap,
	}
}

// abandon terminates a trace that cannot reach MCP_OUTCOME and returns the
// error to hand the caller. stage is the state the trace failed to enter.
func (o *Orchestrator) abandon(ctx context.Context, r *run, stage State, cause error) error {
	now := o.clock()
	if err := r.trace.Abandon(cause.Error(), now); err != nil {
		r.logger.Error("failed to abandon trace", "error", err)
	}
	o.save(ctx, r)
	if o.metrics != nil {
		o.metrics.RecordTrace(string(StatusAbandoned), "ABANDONED_AT_"+string(stage), now.Sub(r.started))
	}
	r.logger.Warn("trace abandoned", "stage", stage, "error", cause)
	return &StageError{ExecutionID: r.trace.ExecutionID, Stage: stage, Cause: cause}
}

func (o *Orchestrator) park(ctx context.Context, r *run, questions []questionnaire.Question) *Result {
	r.parkedAt = o.clock()
	snap := r.trace.Clone()

	o.mu.Lock()
	o.parked[r.trace.ExecutionID] = r
	o.mu.Unlock()

	o.save(ctx, r)
	tracing.AddEvent(oteltrace.SpanFromContext(ctx), "trace.parked",
		attribute.Int("armour.questions", len(questions)),
		attribute.Int(tracing.AttrRound, r.rounds),
	)
	if o.metrics != nil {
		o.metrics.RecordTrace(string(StatusPending), "", r.parkedAt.Sub(r.started))
	}
	return &Result{
		ExecutionID:    snap.ExecutionID,
		Timestamp:      r.parkedAt.UTC(),
		NeedsQuestions: true,
		Questions:      questions,
		Trace:          snap,
	}
}

func (o *Orchestrator) resume(ctx context.Context, req Request) (*Result, error) {
	id := req.ExecutionID

	o.mu.Lock()
	r, ok := o.parked[id]
	if ok {
		delete(o.parked, id)
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}

	ctx = logging.WithExecutionID(ctx, id)
	ctx, span := o.tracer.Start(ctx, "trace.resume", oteltrace.WithAttributes(
		attribute.String(tracing.AttrExecutionID, id),
		attribute.Int(tracing.AttrRound, r.rounds),
	))
	defer span.End()

	now := o.clock()
	if now.Sub(r.parkedAt) > o.config.PendingTTL {
		err := o.abandon(ctx, r, StateAwaitingAnswers, fmt.Errorf("%w after %v", ErrPendingExpired, o.config.PendingTTL))
		annotate(span, nil, err)
		return nil, err
	}

	slots, err := questionnaire.ApplyAnswers(req.Responses, r.slots)
	if err != nil {
		o.mu.Lock()
		o.parked[id] = r
		o.mu.Unlock()
		return nil, err
	}
	r.slots = slots
	r.answers = append(r.answers, req.Responses...)
	if err := r.trace.Resume(now); err != nil {
		return nil, err
	}
	r.logger.Info("trace resumed", "responses", len(req.Responses), "round", r.rounds)

	res, err := o.collect(ctx, r)
	annotate(span, res, err)
	return res, err
}

// Pending returns a snapshot of a parked trace.
func (o *Orchestrator) Pending(id string) (*Trace, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.parked[id]
	if !ok {
		return nil, false
	}
	return r.trace.Clone(), true
}

// PendingCount returns the number of parked traces.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.parked)
}

// SweepExpired abandons parked traces older than the pending TTL and returns
// how many were swept.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	now := o.clock()

	o.mu.Lock()
	var expired []*run
	for id, r := range o.parked {
		if now.Sub(r.parkedAt) > o.config.PendingTTL {
			expired = append(expired, r)
			delete(o.parked, id)
		}
	}
	o.mu.Unlock()

	for _, r := range expired {
		_ = o.abandon(ctx, r, StateAwaitingAnswers, fmt.Errorf("%w after %v", ErrPendingExpired, o.config.PendingTTL))
	}
	if len(expired) > 0 {
		o.logger.Info("swept expired pending traces", "count", len(expired))
	}
	return len(expired), ctx.Err()
}

func (o *Orchestrator) save(ctx context.Context, r *run) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Save(context.WithoutCancel(ctx), r.trace.Clone()); err != nil {
		r.logger.Error("failed to archive trace", "state", r.trace.State, "error", err)
	}
}

// reason calls the reasoner under the collaborator timeout. A reasoner that
// ignores its context is abandoned, not waited for.
func (o *Orchestrator) reason(ctx context.Context, text string) (*reasoning.Analysis, error) {
	ctx, span := o.tracer.Start(ctx, "trace.reasoning")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.config.CollaboratorTimeout)
	defer cancel()

	type reply struct {
		analysis *reasoning.Analysis
		err      error
	}
	ch := make(chan reply, 1)
	go func() {
		a, err := o.reasoner.Reason(callCtx, text)
		ch <- reply{a, err}
	}()

	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, o.timeoutOr(ctx, "reasoner", rep.err)
		}
		if rep.analysis == nil {
			return nil, fmt.Errorf("reasoner returned no analysis")
		}
		return rep.analysis, nil
	case <-callCtx.Done():
		return nil, o.timeoutOr(ctx, "reasoner", callCtx.Err())
	}
}

func (o *Orchestrator) callExecutor(ctx context.Context, tool string, token *intent.Token) (*executor.Result, error) {
	ctx, span := o.tracer.Start(ctx, "trace.execute_action", oteltrace.WithAttributes(
		attribute.String(tracing.AttrTool, tool),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.config.CollaboratorTimeout)
	defer cancel()

	res, err := o.executor.Execute(callCtx, tool, token)
	if err != nil {
		span.RecordError(err)
		return nil, o.timeoutOr(ctx, "executor", err)
	}
	return res, nil
}

// timeoutOr rewrites a deadline hit by the collaborator timeout (not by the
// caller's own context) as ErrCollaboratorTimeout.
func (o *Orchestrator) timeoutOr(parent context.Context, who string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %s did not answer within %v", ErrCollaboratorTimeout, who, o.config.CollaboratorTimeout)
	}
	return err
}

// trustReason maps token verification and replay failures to reason codes.
func trustReason(err error, fallback string) string {
	switch {
	case intent.IsTampered(err):
		return ReasonTokenTampered
	case intent.IsExpired(err):
		return ReasonTokenExpired
	case errors.Is(err, executor.ErrReplay):
		return ReasonTokenReplayed
	default:
		return fallback
	}
}

func annotate(span oteltrace.Span, res *Result, err error) {
	tracing.SetError(span, err)
	if res == nil {
		return
	}
	if res.NeedsQuestions {
		span.SetAttributes(attribute.Bool(tracing.AttrNeedsQuestion, true))
		return
	}
	if out := res.Outcome(); out != nil {
		tracing.SetOutcomeAttributes(span, string(out.Status), out.Reason)
	}
}
