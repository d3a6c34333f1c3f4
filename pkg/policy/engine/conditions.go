package engine

import (
	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/value"
)

// EvaluateCondition evaluates one leaf predicate against a flat record.
//
// A missing field evaluates false with a *FieldMissingError, whatever the
// operator: NOT_EQUALS and NOT_IN never pass on absent data. Kind disagreements
// evaluate false with a *TypeMismatchError. Both are local errors; any other
// error means the condition itself is malformed.
func EvaluateCondition(cond *ast.Condition, record value.Record) (bool, error) {
	if cond == nil {
		return false, ErrMalformedTree
	}
	actual, ok := record.Get(cond.Field)
	if !ok {
		return false, &FieldMissingError{FieldName: cond.Field}
	}
	return evaluateOperator(cond.Field, cond.Operator, actual, cond.Value)
}
