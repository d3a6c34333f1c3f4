package parser

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"armouriq/armour/pkg/policy/ast"
)

// groupKeys are the mapping keys that introduce a condition group.
var groupKeys = map[string]ast.NodeKind{
	"allOf": ast.NodeAllOf,
	"anyOf": ast.NodeAnyOf,
	"not":   ast.NodeNot,
}

// operatorAliases maps the symbolic forms authors tend to write.
var operatorAliases = map[string]ast.Operator{
	"==":     ast.OperatorEquals,
	"EQ":     ast.OperatorEquals,
	"!=":     ast.OperatorNotEquals,
	"NE":     ast.OperatorNotEquals,
	"<":      ast.OperatorLessThan,
	"LT":     ast.OperatorLessThan,
	"<=":     ast.OperatorLessThanOrEqual,
	"LTE":    ast.OperatorLessThanOrEqual,
	">":      ast.OperatorGreaterThan,
	"GT":     ast.OperatorGreaterThan,
	">=":     ast.OperatorGreaterThanOrEqual,
	"GTE":    ast.OperatorGreaterThanOrEqual,
	"NOT IN": ast.OperatorNotIn,
}

func parseYAML(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	return doc.Content[0], nil
}

// builder turns YAML nodes into AST nodes, collecting every error it meets.
type builder struct {
	sourcePath string
	errors     *ErrorList
}

func newBuilder(sourcePath string) *builder {
	return &builder{sourcePath: sourcePath, errors: &ErrorList{}}
}

func (b *builder) loc(node *yaml.Node) ast.Location {
	return ast.Location{File: b.sourcePath, Line: node.Line}
}

// buildRules accepts either a bare sequence of rules or a mapping with a
// "policies" (or "rules") sequence.
func (b *builder) buildRules(root *yaml.Node) []*ast.PolicyRule {
	list := root
	if root.Kind == yaml.MappingNode {
		list = mappingValue(root, "policies")
		if list == nil {
			list = mappingValue(root, "rules")
		}
		if list == nil {
			b.errors.Addf(b.loc(root), "expected a top-level \"policies\" list")
			return nil
		}
	}
	if list.Kind != yaml.SequenceNode {
		b.errors.Addf(b.loc(list), "policies must be a list")
		return nil
	}

	rules := make([]*ast.PolicyRule, 0, len(list.Content))
	names := make(map[string]int)
	for i, item := range list.Content {
		rule := b.buildRule(item, i)
		if rule == nil {
			continue
		}
		if prev, dup := names[rule.Name]; dup {
			b.errors.Addf(rule.Location, "duplicate rule name %q (first defined at index %d)", rule.Name, prev)
			continue
		}
		names[rule.Name] = i
		rules = append(rules, rule)
	}
	return rules
}

func (b *builder) buildRule(node *yaml.Node, index int) *ast.PolicyRule {
	if node.Kind != yaml.MappingNode {
		b.errors.Addf(b.loc(node), "rule at index %d must be a mapping", index)
		return nil
	}

	rule := &ast.PolicyRule{Location: b.loc(node)}
	var tree *ast.RuleNode
	ok := true

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			rule.Name = strings.TrimSpace(val.Value)
		case "tool":
			rule.Tool = strings.TrimSpace(val.Value)
		case "description":
			rule.Description = val.Value
		case "action":
			rule.Action = ast.RuleAction(strings.ToUpper(strings.TrimSpace(val.Value)))
		case "severity":
			rule.Severity = ast.Severity(strings.ToUpper(strings.TrimSpace(val.Value)))
		case "allOf", "anyOf", "not", "condition":
			if tree != nil {
				b.errors.Addf(b.loc(key), "rule at index %d has more than one condition tree", index)
				ok = false
				continue
			}
			var n *ast.RuleNode
			if key.Value == "condition" {
				n = b.buildNode(val)
			} else {
				n = b.buildGroup(groupKeys[key.Value], val)
			}
			if n == nil {
				ok = false
				continue
			}
			tree = n
		default:
			b.errors.Addf(b.loc(key), "unknown rule field %q", key.Value)
			ok = false
		}
	}

	if rule.Name == "" {
		rule.Name = fmt.Sprintf("rule_%d", index)
	}
	if rule.Tool == "" {
		b.errors.Addf(rule.Location, "rule %q: tool is required", rule.Name)
		ok = false
	}
	switch rule.Action {
	case ast.ActionAllow, ast.ActionDeny:
	case "":
		b.errors.Addf(rule.Location, "rule %q: action is required (ALLOW or DENY)", rule.Name)
		ok = false
	default:
		b.errors.Addf(rule.Location, "rule %q: unknown action %q", rule.Name, rule.Action)
		ok = false
	}
	if rule.Severity == "" {
		if rule.Action == ast.ActionDeny {
			rule.Severity = ast.SeverityBlock
		}
	} else if !rule.Severity.Valid() {
		b.errors.Addf(rule.Location, "rule %q: unknown severity %q", rule.Name, rule.Severity)
		ok = false
	}
	if tree == nil {
		// A rule without conditions always applies.
		tree = ast.AllOf()
		tree.Location = rule.Location
	}
	rule.Condition = tree

	if !ok {
		return nil
	}
	return rule
}

// buildNode handles one element of a group: a leaf condition mapping or a
// single-key group mapping.
func (b *builder) buildNode(node *yaml.Node) *ast.RuleNode {
	if node.Kind != yaml.MappingNode {
		b.errors.Addf(b.loc(node), "condition must be a mapping")
		return nil
	}
	if len(node.Content) == 2 {
		if kind, isGroup := groupKeys[node.Content[0].Value]; isGroup {
			return b.buildGroup(kind, node.Content[1])
		}
	}
	return b.buildLeaf(node)
}

func (b *builder) buildGroup(kind ast.NodeKind, node *yaml.Node) *ast.RuleNode {
	if kind == ast.NodeNot {
		if node.Kind == yaml.SequenceNode {
			if len(node.Content) != 1 {
				b.errors.Addf(b.loc(node), "not takes exactly one condition, got %d", len(node.Content))
				return nil
			}
			node = node.Content[0]
		}
		child := b.buildNode(node)
		if child == nil {
			return nil
		}
		n := ast.Not(child)
		n.Location = b.loc(node)
		return n
	}

	if node.Kind != yaml.SequenceNode {
		b.errors.Addf(b.loc(node), "%s must be a list of conditions", kind)
		return nil
	}
	children := make([]*ast.RuleNode, 0, len(node.Content))
	ok := true
	for _, item := range node.Content {
		child := b.buildNode(item)
		if child == nil {
			ok = false
			continue
		}
		children = append(children, child)
	}
	if !ok {
		return nil
	}
	return &ast.RuleNode{Kind: kind, Children: children, Location: b.loc(node)}
}

func (b *builder) buildLeaf(node *yaml.Node) *ast.RuleNode {
	var raw struct {
		Field    string      `yaml:"field"`
		Operator string      `yaml:"operator"`
		Value    ast.Operand `yaml:"value"`
	}
	if err := node.Decode(&raw); err != nil {
		b.errors.Add(&Error{Type: ErrorTypeStructural, Message: err.Error(), Location: b.loc(node), Cause: err})
		return nil
	}
	if raw.Field == "" {
		b.errors.Addf(b.loc(node), "condition field is required")
		return nil
	}
	op, err := normalizeOperator(raw.Operator)
	if err != nil {
		b.errors.Add(&Error{
			Type:       ErrorTypeStructural,
			Message:    err.Error(),
			Location:   b.loc(node),
			Suggestion: "use one of EQUALS, NOT_EQUALS, LESS_THAN, LESS_THAN_OR_EQUAL, GREATER_THAN, GREATER_THAN_OR_EQUAL, IN, NOT_IN",
		})
		return nil
	}
	if op.IsSet() != raw.Value.IsList {
		if op.IsSet() {
			b.errors.Addf(b.loc(node), "operator %s requires a list value", op)
		} else {
			b.errors.Addf(b.loc(node), "operator %s requires a scalar value", op)
		}
		return nil
	}
	if op.IsNumeric() {
		if _, isNum := raw.Value.Scalar.AsNumber(); !isNum {
			b.errors.Addf(b.loc(node), "operator %s requires a numeric value, got %q", op, raw.Value.Scalar.String())
			return nil
		}
	}
	n := ast.Leaf(raw.Field, op, raw.Value)
	n.Location = b.loc(node)
	return n
}

func normalizeOperator(s string) (ast.Operator, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	op := ast.Operator(strings.ReplaceAll(key, " ", "_"))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
