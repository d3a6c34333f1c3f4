package engine

import (
	"fmt"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/value"
)

// evaluateOperator compares actual against the condition operand.
// The returned error is always a *TypeMismatchError or a plain error for
// malformed conditions.
func evaluateOperator(field string, op ast.Operator, actual value.Scalar, expected ast.Operand) (bool, error) {
	if op.IsSet() {
		if !expected.IsList {
			return false, fmt.Errorf("%w: operator %s requires a list operand", ErrMalformedTree, op)
		}
		in, err := evaluateIn(field, actual, expected.List)
		if err != nil {
			return false, err
		}
		if op == ast.OperatorNotIn {
			return !in, nil
		}
		return in, nil
	}
	if expected.IsList {
		return false, fmt.Errorf("%w: operator %s requires a scalar operand", ErrMalformedTree, op)
	}

	switch op {
	case ast.OperatorEquals:
		return evaluateEqual(field, actual, expected.Scalar)

	case ast.OperatorNotEquals:
		equal, err := evaluateEqual(field, actual, expected.Scalar)
		if err != nil {
			return false, err
		}
		return !equal, nil

	case ast.OperatorLessThan, ast.OperatorLessThanOrEqual, ast.OperatorGreaterThan, ast.OperatorGreaterThanOrEqual:
		a, e, err := toNumeric(field, actual, expected.Scalar)
		if err != nil {
			return false, err
		}
		switch op {
		case ast.OperatorLessThan:
			return a < e, nil
		case ast.OperatorLessThanOrEqual:
			return a <= e, nil
		case ast.OperatorGreaterThan:
			return a > e, nil
		default:
			return a >= e, nil
		}

	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrMalformedTree, op)
	}
}

// evaluateEqual requires both sides to share a kind. Comparing a number with a
// string is a type mismatch, never a silent false.
func evaluateEqual(field string, actual, expected value.Scalar) (bool, error) {
	if actual.Kind() != expected.Kind() {
		return false, &TypeMismatchError{
			FieldName:    field,
			ExpectedType: string(expected.Kind()),
			ActualType:   string(actual.Kind()),
		}
	}
	return actual.Equal(expected), nil
}

// evaluateIn checks membership. Elements of a different kind never match; the
// comparison is a mismatch only when no element shares the value's kind.
func evaluateIn(field string, actual value.Scalar, list []value.Scalar) (bool, error) {
	sameKind := len(list) == 0
	for _, elem := range list {
		if elem.Kind() != actual.Kind() {
			continue
		}
		sameKind = true
		if elem.Equal(actual) {
			return true, nil
		}
	}
	if !sameKind {
		return false, &TypeMismatchError{
			FieldName:    field,
			ExpectedType: string(list[0].Kind()),
			ActualType:   string(actual.Kind()),
		}
	}
	return false, nil
}

// toNumeric converts both sides for an ordering comparison.
func toNumeric(field string, actual, expected value.Scalar) (float64, float64, error) {
	e, ok := expected.AsNumber()
	if !ok {
		return 0, 0, fmt.Errorf("%w: ordering operand for %q is not a number", ErrMalformedTree, field)
	}
	a, ok := actual.AsNumber()
	if !ok {
		return 0, 0, &TypeMismatchError{
			FieldName:    field,
			ExpectedType: string(value.KindNumber),
			ActualType:   string(actual.Kind()),
		}
	}
	return a, e, nil
}
