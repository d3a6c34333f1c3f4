package engine

import (
	"fmt"
	"strings"

	"armouriq/armour/pkg/policy/ast"
)

// Verdict is the engine's classification of a transaction.
type Verdict string

const (
	VerdictExecuted         Verdict = "EXECUTED"
	VerdictBlocked          Verdict = "BLOCKED"
	VerdictRequiresApproval Verdict = "REQUIRES_APPROVAL"
)

// Reason codes attached to a report.
const (
	ReasonAllowed             = "ALLOWED"
	ReasonPolicyViolation     = "POLICY_VIOLATION"
	ReasonApprovalRequired    = "APPROVAL_REQUIRED"
	ReasonNoMatchingAllowRule = "NO_MATCHING_ALLOW_RULE"
)

// CheckResult is the per-rule outcome.
type CheckResult string

const (
	CheckPass CheckResult = "PASS"
	CheckFail CheckResult = "FAIL"
)

// Check is the diagnostic record for one evaluated rule.
//
// For an ALLOW rule PASS means the rule matched. For a DENY rule PASS means it
// did not fire. Expected and Actual repeat the last entry of Failures, the
// leaf that decided the outcome.
type Check struct {
	RuleRef     string         `json:"rule_ref"`
	Action      ast.RuleAction `json:"action"`
	Severity    ast.Severity   `json:"severity,omitempty"`
	Result      CheckResult    `json:"result"`
	Expected    string         `json:"expected,omitempty"`
	Actual      string         `json:"actual,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Failures    []LeafFailure  `json:"failures,omitempty"`
	Explanation *Explanation   `json:"explanation"`

	fired bool
}

// Fired reports whether the rule's tree evaluated true.
func (c *Check) Fired() bool {
	return c.fired
}

// Report is the full result of evaluating one transaction against one tool's
// rules. It holds no timings, so equal inputs give byte-identical JSON.
type Report struct {
	Tool           string   `json:"tool"`
	RuleSetVersion string   `json:"rule_set_version"`
	Verdict        Verdict  `json:"verdict"`
	Reason         string   `json:"reason"`
	TriggeredRules []string `json:"triggered_rules"`
	Reasons        []string `json:"reasons,omitempty"`
	Checks         []Check  `json:"checks"`
}

// IsBlocked returns true when the verdict is BLOCKED.
func (r *Report) IsBlocked() bool {
	return r.Verdict == VerdictBlocked
}

// FailedChecks returns the checks with result FAIL, in rule order.
func (r *Report) FailedChecks() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Result == CheckFail {
			out = append(out, c)
		}
	}
	return out
}

// newCheck builds the diagnostic for one rule from its evaluated tree.
func newCheck(rule *ast.PolicyRule, fired bool, expl *Explanation) Check {
	c := Check{
		RuleRef:     rule.Name,
		Action:      rule.Action,
		Explanation: expl,
		fired:       fired,
	}
	if rule.IsDeny() {
		c.Severity = rule.Severity
	}

	var failed bool
	switch {
	case rule.IsAllow() && !fired:
		failed = true
		c.Failures = collectLeaves(expl, false)
		c.Reason = "conditions not met"
	case rule.IsDeny() && fired:
		failed = true
		c.Failures = collectLeaves(expl, true)
		c.Reason = rule.Description
		if c.Reason == "" {
			c.Reason = fmt.Sprintf("rule %s fired", rule.Name)
		}
	case rule.IsDeny() && expl != nil && expl.Indeterminate:
		// Did not fire, but only because data was missing.
		c.Failures = collectLeaves(expl, true)
		c.Reason = "not fired: " + firstError(c.Failures)
	}

	c.Result = CheckPass
	if failed {
		c.Result = CheckFail
		if expl != nil && expl.Indeterminate {
			c.Reason = firstError(c.Failures)
		}
	}
	if n := len(c.Failures); n > 0 {
		c.Expected = c.Failures[n-1].Expected
		c.Actual = c.Failures[n-1].Actual
	}
	return c
}

func firstError(failures []LeafFailure) string {
	for _, f := range failures {
		if f.Error != "" {
			return f.Error
		}
	}
	return "indeterminate"
}

// classify applies the fixed precedence:
// blocking DENY > approval DENY > matching ALLOW > default deny.
// Declaration order only decides the order of TriggeredRules.
func classify(report *Report, rules []*ast.PolicyRule) {
	var blocking, blockReasons, approval, approvalReasons []string
	allowed := false

	for i, c := range report.Checks {
		rule := rules[i]
		if !c.fired {
			continue
		}
		switch {
		case rule.IsDeny() && rule.Severity.Blocks():
			blocking = append(blocking, rule.Name)
			blockReasons = append(blockReasons, describe(c))
		case rule.IsDeny() && rule.Severity == ast.SeverityRequireHumanApproval:
			approval = append(approval, rule.Name)
			approvalReasons = append(approvalReasons, describe(c))
		case rule.IsAllow():
			allowed = true
		}
	}

	switch {
	case len(blocking) > 0:
		report.Verdict = VerdictBlocked
		report.Reason = ReasonPolicyViolation
		report.TriggeredRules = blocking
		report.Reasons = blockReasons
	case len(approval) > 0:
		report.Verdict = VerdictRequiresApproval
		report.Reason = ReasonApprovalRequired
		report.TriggeredRules = approval
		report.Reasons = approvalReasons
	case allowed:
		report.Verdict = VerdictExecuted
		report.Reason = ReasonAllowed
		report.TriggeredRules = []string{}
	default:
		report.Verdict = VerdictBlocked
		report.Reason = ReasonNoMatchingAllowRule
		report.TriggeredRules = []string{}
		report.Reasons = []string{fmt.Sprintf("no ALLOW rule for tool %q matched", report.Tool)}
	}
}

// describe renders a fired rule as "NAME: reason (expected <= 5000, got 6200)".
func describe(c Check) string {
	var sb strings.Builder
	sb.WriteString(c.RuleRef)
	if c.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(c.Reason)
	}
	if c.Expected != "" {
		sb.WriteString(fmt.Sprintf(" (expected %s, got %s)", c.Expected, c.Actual))
	}
	return sb.String()
}
