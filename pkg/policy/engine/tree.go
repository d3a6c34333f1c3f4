package engine

import (
	"context"
	"errors"
	"fmt"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/value"
)

// Explanation mirrors the evaluated part of a condition tree.
// Children that were skipped by short-circuiting are not present.
type Explanation struct {
	Kind      ast.NodeKind   `json:"kind"`
	Result    bool           `json:"result"`
	Condition *ast.Condition `json:"condition,omitempty"`
	Actual    *value.Scalar  `json:"actual,omitempty"`
	Error     string         `json:"error,omitempty"`
	Children  []*Explanation `json:"children,omitempty"`

	// Indeterminate is set when the result was decided by a missing field or
	// a type mismatch rather than by data.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

// EvaluateTree evaluates a rule tree against record.
//
// all_of stops at the first false child and any_of at the first true child.
// An empty all_of is true and an empty any_of is false. A not whose child is
// indeterminate stays false, so absent data can never flip into a pass.
//
// Local condition errors are folded into the explanation. The returned error
// is non-nil only for cancellation or a malformed tree.
func EvaluateTree(ctx context.Context, node *ast.RuleNode, record value.Record) (bool, *Explanation, error) {
	if node == nil {
		return false, nil, fmt.Errorf("%w: nil node", ErrMalformedTree)
	}

	switch node.Kind {
	case ast.NodeLeaf:
		return evaluateLeaf(node, record)
	case ast.NodeAllOf:
		return evaluateAllOf(ctx, node, record)
	case ast.NodeAnyOf:
		return evaluateAnyOf(ctx, node, record)
	case ast.NodeNot:
		return evaluateNot(ctx, node, record)
	default:
		return false, nil, fmt.Errorf("%w: unknown node kind %q", ErrMalformedTree, node.Kind)
	}
}

func evaluateLeaf(node *ast.RuleNode, record value.Record) (bool, *Explanation, error) {
	expl := &Explanation{Kind: ast.NodeLeaf, Condition: node.Condition}
	if node.Condition == nil {
		return false, nil, fmt.Errorf("%w: leaf without condition", ErrMalformedTree)
	}
	if actual, ok := record.Get(node.Condition.Field); ok {
		expl.Actual = &actual
	}

	matched, err := EvaluateCondition(node.Condition, record)
	if err != nil {
		if !IsLocal(err) {
			return false, nil, err
		}
		expl.Error = err.Error()
		expl.Indeterminate = true
		return false, expl, nil
	}
	expl.Result = matched
	return matched, expl, nil
}

func evaluateAllOf(ctx context.Context, node *ast.RuleNode, record value.Record) (bool, *Explanation, error) {
	expl := &Explanation{Kind: ast.NodeAllOf, Result: true}
	for _, child := range node.Children {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		matched, childExpl, err := EvaluateTree(ctx, child, record)
		if err != nil {
			return false, nil, err
		}
		expl.Children = append(expl.Children, childExpl)

		if !matched {
			expl.Result = false
			expl.Indeterminate = childExpl.Indeterminate
			return false, expl, nil
		}
	}
	return true, expl, nil
}

func evaluateAnyOf(ctx context.Context, node *ast.RuleNode, record value.Record) (bool, *Explanation, error) {
	expl := &Explanation{Kind: ast.NodeAnyOf}
	for _, child := range node.Children {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		matched, childExpl, err := EvaluateTree(ctx, child, record)
		if err != nil {
			return false, nil, err
		}
		expl.Children = append(expl.Children, childExpl)

		if matched {
			expl.Result = true
			expl.Indeterminate = false
			return true, expl, nil
		}
		if childExpl.Indeterminate {
			expl.Indeterminate = true
		}
	}
	return false, expl, nil
}

func evaluateNot(ctx context.Context, node *ast.RuleNode, record value.Record) (bool, *Explanation, error) {
	if len(node.Children) != 1 {
		return false, nil, fmt.Errorf("%w: not must have exactly one child, got %d", ErrMalformedTree, len(node.Children))
	}

	matched, childExpl, err := EvaluateTree(ctx, node.Children[0], record)
	if err != nil {
		return false, nil, err
	}

	expl := &Explanation{Kind: ast.NodeNot, Children: []*Explanation{childExpl}}
	if childExpl.Indeterminate {
		expl.Indeterminate = true
		return false, expl, nil
	}
	expl.Result = !matched
	return expl.Result, expl, nil
}

// LeafFailure is one leaf responsible for a check's outcome, flattened for display.
type LeafFailure struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Error    string `json:"error,omitempty"`
}

// collectLeaves walks an explanation and returns the leaves whose result
// equals target, plus every leaf that could not be evaluated. Under a not the
// target flips. When the target is true the expectation is rendered negated:
// that is what would have made the leaf, and so the check, come out the other
// way.
func collectLeaves(expl *Explanation, target bool) []LeafFailure {
	if expl == nil {
		return nil
	}
	switch expl.Kind {
	case ast.NodeLeaf:
		if expl.Condition == nil || (expl.Error == "" && expl.Result != target) {
			return nil
		}
		cond := *expl.Condition
		if target {
			cond = cond.Negated()
		}
		f := LeafFailure{Field: cond.Field, Expected: cond.Expectation(), Error: expl.Error}
		if expl.Actual != nil {
			f.Actual = expl.Actual.String()
		} else {
			f.Actual = "<missing>"
		}
		return []LeafFailure{f}
	case ast.NodeNot:
		var out []LeafFailure
		for _, c := range expl.Children {
			out = append(out, collectLeaves(c, !target)...)
		}
		return out
	default:
		var out []LeafFailure
		for _, c := range expl.Children {
			out = append(out, collectLeaves(c, target)...)
		}
		return out
	}
}

// isCancellation reports whether err came from the caller's context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
