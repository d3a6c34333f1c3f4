package engine

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrNoRuleSet indicates the engine has no snapshot loaded.
	ErrNoRuleSet = errors.New("no rule set loaded")

	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrMalformedTree indicates a condition tree that cannot be evaluated.
	ErrMalformedTree = errors.New("malformed condition tree")
)

// FieldMissingError indicates a condition references a field the record lacks.
// It is local to the condition: the leaf evaluates false and is reported as FAIL.
type FieldMissingError struct {
	FieldName string
}

// Error returns the error message.
func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("field missing: %q", e.FieldName)
}

// TypeMismatchError indicates the record value cannot be compared with the
// condition operand.
type TypeMismatchError struct {
	FieldName    string
	ExpectedType string
	ActualType   string
}

// Error returns the error message.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch for field %q: expected %s, got %s", e.FieldName, e.ExpectedType, e.ActualType)
}

// IsLocal reports whether err is a per-condition error that reduces to FAIL
// instead of aborting evaluation.
func IsLocal(err error) bool {
	var missing *FieldMissingError
	var mismatch *TypeMismatchError
	return errors.As(err, &missing) || errors.As(err, &mismatch)
}

// EvaluationError indicates a rule could not be evaluated at all.
type EvaluationError struct {
	Tool  string
	Rule  string
	Cause error
}

// Error returns the error message.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("tool %s rule %s: evaluation failed: %v", e.Tool, e.Rule, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// ValidationError indicates a loaded rule set violates engine limits.
type ValidationError struct {
	Errors []string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("rule set validation error: %s", e.Errors[0])
	}
	return fmt.Sprintf("%d rule set validation errors: %v", len(e.Errors), e.Errors)
}

// ReloadError indicates a policy reload failure. The previous snapshot stays active.
type ReloadError struct {
	Source string
	Cause  error
}

// Error returns the error message.
func (e *ReloadError) Error() string {
	return fmt.Sprintf("policy reload failed for %q: %v", e.Source, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ReloadError) Unwrap() error {
	return e.Cause
}
