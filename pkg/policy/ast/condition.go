package ast

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"armouriq/armour/pkg/value"
)

// Operator represents a comparison operator in a leaf condition.
type Operator string

const (
	OperatorEquals             Operator = "EQUALS"
	OperatorNotEquals          Operator = "NOT_EQUALS"
	OperatorLessThan           Operator = "LESS_THAN"
	OperatorLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OperatorGreaterThan        Operator = "GREATER_THAN"
	OperatorGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OperatorIn                 Operator = "IN"
	OperatorNotIn              Operator = "NOT_IN"
)

// operatorSymbols are used when rendering expectations for humans.
var operatorSymbols = map[Operator]string{
	OperatorEquals:             "==",
	OperatorNotEquals:          "!=",
	OperatorLessThan:           "<",
	OperatorLessThanOrEqual:    "<=",
	OperatorGreaterThan:        ">",
	OperatorGreaterThanOrEqual: ">=",
	OperatorIn:                 "in",
	OperatorNotIn:              "not in",
}

// Valid returns true if op is a known operator.
func (op Operator) Valid() bool {
	_, ok := operatorSymbols[op]
	return ok
}

// Symbol returns the short human form of the operator ("<=", "in", ...).
func (op Operator) Symbol() string {
	if s, ok := operatorSymbols[op]; ok {
		return s
	}
	return string(op)
}

// IsNumeric returns true for ordering operators that require numbers.
func (op Operator) IsNumeric() bool {
	switch op {
	case OperatorLessThan, OperatorLessThanOrEqual, OperatorGreaterThan, OperatorGreaterThanOrEqual:
		return true
	}
	return false
}

// IsSet returns true for membership operators that take a list operand.
func (op Operator) IsSet() bool {
	return op == OperatorIn || op == OperatorNotIn
}

// Negate returns the complementary operator.
func (op Operator) Negate() Operator {
	switch op {
	case OperatorEquals:
		return OperatorNotEquals
	case OperatorNotEquals:
		return OperatorEquals
	case OperatorLessThan:
		return OperatorGreaterThanOrEqual
	case OperatorLessThanOrEqual:
		return OperatorGreaterThan
	case OperatorGreaterThan:
		return OperatorLessThanOrEqual
	case OperatorGreaterThanOrEqual:
		return OperatorLessThan
	case OperatorIn:
		return OperatorNotIn
	case OperatorNotIn:
		return OperatorIn
	}
	return op
}

// Operand is the right-hand side of a condition: one scalar or a finite list.
type Operand struct {
	Scalar value.Scalar   `json:"scalar,omitempty"`
	List   []value.Scalar `json:"list,omitempty"`
	IsList bool           `json:"is_list,omitempty"`
}

// ScalarOperand wraps a single value.
func ScalarOperand(v value.Scalar) Operand {
	return Operand{Scalar: v}
}

// ListOperand wraps a list of values.
func ListOperand(vs ...value.Scalar) Operand {
	return Operand{List: vs, IsList: true}
}

// String renders the operand for diagnostics.
func (o Operand) String() string {
	if !o.IsList {
		return o.Scalar.String()
	}
	parts := make([]string, len(o.List))
	for i, v := range o.List {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON renders the operand as a plain scalar or array.
func (o Operand) MarshalJSON() ([]byte, error) {
	if o.IsList {
		list := o.List
		if list == nil {
			list = []value.Scalar{}
		}
		return json.Marshal(list)
	}
	return json.Marshal(o.Scalar)
}

// UnmarshalJSON accepts either a scalar or an array of scalars.
func (o *Operand) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []value.Scalar
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = ListOperand(list...)
		return nil
	}
	var v value.Scalar
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = ScalarOperand(v)
	return nil
}

// UnmarshalYAML accepts either a scalar node or a sequence of scalars.
func (o *Operand) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v value.Scalar
		if err := node.Decode(&v); err != nil {
			return err
		}
		*o = ScalarOperand(v)
		return nil
	case yaml.SequenceNode:
		list := make([]value.Scalar, 0, len(node.Content))
		for _, item := range node.Content {
			var v value.Scalar
			if err := item.Decode(&v); err != nil {
				return err
			}
			list = append(list, v)
		}
		*o = ListOperand(list...)
		return nil
	default:
		return fmt.Errorf("line %d: condition value must be a scalar or a list", node.Line)
	}
}

// Condition is a single leaf predicate: field operator value.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Operand  `json:"value"`
}

// Expectation renders the condition as "<op> <value>", e.g. "<= 5000".
func (c Condition) Expectation() string {
	return c.Operator.Symbol() + " " + c.Value.String()
}

// Negated returns the condition with its operator complemented.
func (c Condition) Negated() Condition {
	c.Operator = c.Operator.Negate()
	return c
}
