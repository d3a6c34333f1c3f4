package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/value"
)

// Engine is the main interface for policy evaluation.
type Engine interface {
	// Evaluate evaluates a flat record against the rules bound to tool.
	Evaluate(ctx context.Context, tool string, record value.Record) (*Report, error)

	// EvaluateToken verifies the token, then evaluates its fields.
	EvaluateToken(ctx context.Context, tool string, token *intent.Token) (*Report, error)

	// ReloadPolicies replaces the rule snapshot from the source.
	ReloadPolicies(ctx context.Context) error

	// RuleSet returns the current snapshot (for introspection).
	RuleSet() *ast.RuleSet

	// Close shuts down the engine and releases resources.
	Close() error
}

// PolicySource provides rule sets to the engine.
type PolicySource interface {
	// LoadRuleSet loads the complete rule set from the source.
	LoadRuleSet(ctx context.Context) (*ast.RuleSet, error)

	// Watch sends an event whenever the source changes.
	// The channel is closed when the context is cancelled.
	Watch(ctx context.Context) (<-chan PolicyEvent, error)
}

// PolicyEvent represents a policy source change.
type PolicyEvent struct {
	// Type is the event type ("created", "modified", "deleted").
	Type PolicyEventType

	// Path is the file path that changed.
	Path string

	// Error is any error that occurred while processing the event.
	Error error
}

// PolicyEventType represents the type of policy file event.
type PolicyEventType string

const (
	PolicyEventCreated  PolicyEventType = "created"
	PolicyEventModified PolicyEventType = "modified"
	PolicyEventDeleted  PolicyEventType = "deleted"
)

// TokenVerifier checks an intent token's signature and age.
type TokenVerifier interface {
	Verify(token *intent.Token) error
}

// MetricsRecorder receives evaluation metrics. A nil recorder is allowed.
type MetricsRecorder interface {
	RecordEvaluation(tool string, verdict string, duration time.Duration)
	RecordRuleFired(rule string, severity string)
	RecordReload(success bool, ruleCount int)
}

// InterpreterEngine evaluates rule trees directly from the parsed AST.
type InterpreterEngine struct {
	// ruleSet is the active snapshot
	ruleSet *ast.RuleSet

	// ruleSetMu protects the snapshot pointer; the snapshot itself is never mutated
	ruleSetMu sync.RWMutex

	config   *EngineConfig
	source   PolicySource
	verifier TokenVerifier
	metrics  MetricsRecorder
	logger   *slog.Logger

	// stopCh signals shutdown
	stopCh chan struct{}

	// wg tracks background goroutines
	wg sync.WaitGroup
}

// NewInterpreterEngine creates an engine and loads the initial snapshot.
// A failed initial load is fatal: the engine never runs without rules.
func NewInterpreterEngine(config *EngineConfig, source PolicySource, verifier TokenVerifier, logger *slog.Logger) (*InterpreterEngine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if source == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	e := &InterpreterEngine{
		config:   config,
		source:   source,
		verifier: verifier,
		logger:   logger.With("component", "policy.engine"),
		stopCh:   make(chan struct{}),
	}

	if err := e.ReloadPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load initial policies: %w", err)
	}

	if config.WatchPolicies {
		e.startWatching()
	}

	return e, nil
}

// SetMetrics attaches a metrics recorder. Call before serving traffic.
func (e *InterpreterEngine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// Evaluate evaluates record against every rule bound to tool.
func (e *InterpreterEngine) Evaluate(ctx context.Context, tool string, record value.Record) (*Report, error) {
	start := time.Now()
	snapshot := e.RuleSet()
	if snapshot == nil {
		return nil, ErrNoRuleSet
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.config.EvaluationTimeout)
	defer cancel()

	rules := snapshot.ForTool(tool)
	report := &Report{
		Tool:           tool,
		RuleSetVersion: snapshot.Version,
		Checks:         make([]Check, 0, len(rules)),
	}

	for _, rule := range rules {
		fired, expl, err := EvaluateTree(evalCtx, rule.Condition, record)
		if err != nil {
			if isCancellation(err) && ctx.Err() == nil {
				err = fmt.Errorf("evaluation exceeded %v: %w", e.config.EvaluationTimeout, err)
			}
			e.logger.Error("rule evaluation failed",
				"tool", tool,
				"rule", rule.Name,
				"error", err,
			)
			return nil, &EvaluationError{Tool: tool, Rule: rule.Name, Cause: err}
		}
		report.Checks = append(report.Checks, newCheck(rule, fired, expl))
	}

	classify(report, rules)
	e.observe(report, rules, time.Since(start))
	return report, nil
}

// EvaluateToken verifies the token before trusting any of its fields.
// Verification failures are returned unchanged (*intent.TokenTamperedError or
// *intent.TokenExpiredError).
func (e *InterpreterEngine) EvaluateToken(ctx context.Context, tool string, token *intent.Token) (*Report, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}
	if e.verifier == nil {
		return nil, fmt.Errorf("engine has no token verifier")
	}
	if err := e.verifier.Verify(token); err != nil {
		e.logger.Warn("intent token rejected",
			"tool", tool,
			"action", token.Action,
			"error", err,
		)
		return nil, err
	}
	return e.Evaluate(ctx, tool, token.Record())
}

func (e *InterpreterEngine) observe(report *Report, rules []*ast.PolicyRule, d time.Duration) {
	logged := false
	for i, c := range report.Checks {
		if !c.fired || !rules[i].IsDeny() {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordRuleFired(c.RuleRef, string(rules[i].Severity))
		}
		if rules[i].Severity == ast.SeverityBlockAndLog && e.config.LogBlockAndLog && !logged {
			logged = true
			e.logger.Warn("block-and-log rule fired",
				"tool", report.Tool,
				"rule", c.RuleRef,
				"report", report,
			)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordEvaluation(report.Tool, string(report.Verdict), d)
	}

	e.logger.Debug("policy evaluated",
		"tool", report.Tool,
		"verdict", report.Verdict,
		"reason", report.Reason,
		"triggered_rules", report.TriggeredRules,
		"rule_count", len(rules),
	)
}

// ReloadPolicies loads a fresh snapshot and swaps it in atomically.
// On failure the previous snapshot stays active.
func (e *InterpreterEngine) ReloadPolicies(ctx context.Context) error {
	e.logger.Info("reloading policies")

	set, err := e.source.LoadRuleSet(ctx)
	if err != nil {
		e.recordReload(false, 0)
		return &ReloadError{Source: "source", Cause: err}
	}

	if len(set.Rules) > e.config.MaxRules {
		e.recordReload(false, 0)
		return &ValidationError{
			Errors: []string{fmt.Sprintf("too many rules: %d (max: %d)", len(set.Rules), e.config.MaxRules)},
		}
	}

	e.ruleSetMu.Lock()
	e.ruleSet = set
	e.ruleSetMu.Unlock()

	e.recordReload(true, len(set.Rules))
	e.logger.Info("policies reloaded successfully",
		"version", set.Version,
		"source", set.Source,
		"rule_count", len(set.Rules),
		"tools", set.Tools(),
	)
	return nil
}

func (e *InterpreterEngine) recordReload(success bool, n int) {
	if e.metrics != nil {
		e.metrics.RecordReload(success, n)
	}
}

// RuleSet returns the active snapshot. Callers must not modify it.
func (e *InterpreterEngine) RuleSet() *ast.RuleSet {
	e.ruleSetMu.RLock()
	defer e.ruleSetMu.RUnlock()
	return e.ruleSet
}

// startWatching reloads the snapshot whenever the source reports a change.
func (e *InterpreterEngine) startWatching() {
	ctx, cancel := context.WithCancel(context.Background())
	eventCh, err := e.source.Watch(ctx)
	if err != nil {
		cancel()
		e.logger.Error("failed to start policy watcher", "error", err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		for {
			select {
			case <-e.stopCh:
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				e.handlePolicyEvent(event)
			}
		}
	}()
}

func (e *InterpreterEngine) handlePolicyEvent(event PolicyEvent) {
	if event.Error != nil {
		e.logger.Error("policy watcher error", "error", event.Error, "path", event.Path)
		return
	}
	e.logger.Info("policy file changed",
		"type", event.Type,
		"path", event.Path,
	)

	if err := e.ReloadPolicies(context.Background()); err != nil {
		e.logger.Error("failed to reload policies after file change, keeping previous snapshot",
			"error", err,
			"path", event.Path,
		)
	}
}

// Close shuts down the engine and releases resources.
func (e *InterpreterEngine) Close() error {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.wg.Wait()
	return nil
}
