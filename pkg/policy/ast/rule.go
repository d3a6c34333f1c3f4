package ast

// NodeKind represents the variant held by a RuleNode.
type NodeKind string

const (
	NodeLeaf  NodeKind = "leaf"   // single condition
	NodeAllOf NodeKind = "all_of" // AND of children
	NodeAnyOf NodeKind = "any_of" // OR of children
	NodeNot   NodeKind = "not"    // negation of exactly one child
)

// RuleNode is a node in a rule's boolean condition tree.
// Exactly one of Condition (leaf) or Children (groups) is populated.
type RuleNode struct {
	Kind      NodeKind    `json:"kind"`
	Condition *Condition  `json:"condition,omitempty"` // Leaf only
	Children  []*RuleNode `json:"children,omitempty"`  // AllOf, AnyOf, Not
	Location  Location    `json:"-"`
}

// Leaf returns a leaf node for the given condition.
func Leaf(field string, op Operator, v Operand) *RuleNode {
	return &RuleNode{Kind: NodeLeaf, Condition: &Condition{Field: field, Operator: op, Value: v}}
}

// AllOf returns a conjunction of children.
func AllOf(children ...*RuleNode) *RuleNode {
	return &RuleNode{Kind: NodeAllOf, Children: children}
}

// AnyOf returns a disjunction of children.
func AnyOf(children ...*RuleNode) *RuleNode {
	return &RuleNode{Kind: NodeAnyOf, Children: children}
}

// Not returns the negation of child.
func Not(child *RuleNode) *RuleNode {
	return &RuleNode{Kind: NodeNot, Children: []*RuleNode{child}}
}

// IsLeaf returns true if the node is a single condition.
func (n *RuleNode) IsLeaf() bool {
	return n.Kind == NodeLeaf
}

// IsGroup returns true if the node combines children.
func (n *RuleNode) IsGroup() bool {
	return n.Kind == NodeAllOf || n.Kind == NodeAnyOf || n.Kind == NodeNot
}

// Depth returns the height of the tree rooted at n. A single leaf has depth 1.
func (n *RuleNode) Depth() int {
	if n == nil {
		return 0
	}
	max := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// MaxBreadth returns the largest child count of any group in the tree.
func (n *RuleNode) MaxBreadth() int {
	if n == nil {
		return 0
	}
	max := len(n.Children)
	for _, c := range n.Children {
		if b := c.MaxBreadth(); b > max {
			max = b
		}
	}
	return max
}

// Leaves returns the tree's leaf conditions in declaration order.
func (n *RuleNode) Leaves() []*Condition {
	var out []*Condition
	n.walk(func(node *RuleNode) {
		if node.IsLeaf() && node.Condition != nil {
			out = append(out, node.Condition)
		}
	})
	return out
}

func (n *RuleNode) walk(fn func(*RuleNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// RuleAction is what a rule does when its tree evaluates true.
type RuleAction string

const (
	ActionAllow RuleAction = "ALLOW"
	ActionDeny  RuleAction = "DENY"
)

// Severity ranks the consequence of a fired DENY rule.
type Severity string

const (
	SeverityBlock                Severity = "BLOCK"
	SeverityBlockAndLog          Severity = "BLOCK_AND_LOG"
	SeverityRequireHumanApproval Severity = "REQUIRE_HUMAN_APPROVAL"
)

// Valid returns true if s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityBlock, SeverityBlockAndLog, SeverityRequireHumanApproval:
		return true
	}
	return false
}

// Blocks returns true for severities that block outright.
func (s Severity) Blocks() bool {
	return s == SeverityBlock || s == SeverityBlockAndLog
}

// PolicyRule is a named governance constraint bound to one tool.
type PolicyRule struct {
	Name        string     `json:"name"`
	Tool        string     `json:"tool"`
	Action      RuleAction `json:"action"`
	Condition   *RuleNode  `json:"condition"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description,omitempty"`
	Location    Location   `json:"-"`
}

// IsAllow returns true for ALLOW rules.
func (r *PolicyRule) IsAllow() bool {
	return r.Action == ActionAllow
}

// IsDeny returns true for DENY rules.
func (r *PolicyRule) IsDeny() bool {
	return r.Action == ActionDeny
}

// RuleSet is an ordered, immutable collection of rules.
type RuleSet struct {
	Version string        `json:"version"` // content hash of the source
	Source  string        `json:"source,omitempty"`
	Rules   []*PolicyRule `json:"rules"`
}

// ForTool returns the rules bound to tool, in declaration order.
func (s *RuleSet) ForTool(tool string) []*PolicyRule {
	if s == nil {
		return nil
	}
	var out []*PolicyRule
	for _, r := range s.Rules {
		if r.Tool == tool {
			out = append(out, r)
		}
	}
	return out
}

// Tools returns the distinct tool names in first-seen order.
func (s *RuleSet) Tools() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Rules {
		if !seen[r.Tool] {
			seen[r.Tool] = true
			out = append(out, r.Tool)
		}
	}
	return out
}
