package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "armour.*" namespace.
const (
	AttrExecutionID   = "armour.execution_id"
	AttrRequestID     = "armour.request_id"
	AttrAction        = "armour.action"
	AttrTool          = "armour.tool"
	AttrRound         = "armour.round"
	AttrNeedsQuestion = "armour.needs_questions"
	AttrOutcome       = "armour.outcome"
	AttrReason        = "armour.reason"
	AttrRuleSet       = "armour.rule_set_version"
	AttrApprovalID    = "armour.approval_id"
	AttrDecision      = "armour.decision"
)

// SetOutcomeAttributes records a trace's final status and reason.
func SetOutcomeAttributes(span trace.Span, status, reason string) {
	span.SetAttributes(
		attribute.String(AttrOutcome, status),
		attribute.String(AttrReason, reason),
	)
}

// SetPolicyAttributes records which rule set judged which tool.
func SetPolicyAttributes(span trace.Span, tool, ruleSetVersion string) {
	span.SetAttributes(
		attribute.String(AttrTool, tool),
		attribute.String(AttrRuleSet, ruleSetVersion),
	)
}

// AddEvent adds a named event with attributes to the span.
func AddEvent(span trace.Span, name string, kv ...attribute.KeyValue) {
	span.AddEvent(name, attrs(kv...))
}
