package parser

import (
	"fmt"
	"strings"

	"armouriq/armour/pkg/policy/ast"
)

// ErrorType categorizes the type of error encountered while loading rules.
type ErrorType string

const (
	ErrorTypeSyntax     ErrorType = "syntax"     // YAML syntax error
	ErrorTypeStructural ErrorType = "structural" // Missing or invalid fields
	ErrorTypeLimit      ErrorType = "limit"      // Tree too deep or too wide
	ErrorTypeIO         ErrorType = "io"         // File I/O error
)

// Error is a single load error with its source location.
type Error struct {
	Type       ErrorType
	Message    string
	Location   ast.Location
	Suggestion string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Type, e.Message))
	if e.Location.IsValid() {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Location.String()))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("; suggestion: %s", e.Suggestion))
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorList accumulates every error found in a policy file so authors can fix
// them in one pass.
type ErrorList struct {
	Errors []*Error
}

// Add appends an error to the list.
func (el *ErrorList) Add(err *Error) {
	el.Errors = append(el.Errors, err)
}

// Addf creates and appends a structural error.
func (el *ErrorList) Addf(loc ast.Location, format string, args ...interface{}) {
	el.Add(&Error{Type: ErrorTypeStructural, Message: fmt.Sprintf(format, args...), Location: loc})
}

// HasErrors returns true if the list is non-empty.
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// Error implements the error interface.
func (el *ErrorList) Error() string {
	if len(el.Errors) == 1 {
		return el.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("found %d error(s):", len(el.Errors)))
	for _, err := range el.Errors {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (el *ErrorList) Unwrap() []error {
	out := make([]error, len(el.Errors))
	for i, e := range el.Errors {
		out[i] = e
	}
	return out
}

// PolicyTreeTooComplexError reports a rule whose condition tree exceeds the
// configured depth or breadth. The whole file is rejected.
type PolicyTreeTooComplexError struct {
	Rule        string
	Depth       int
	Breadth     int
	MaxDepth    int
	MaxChildren int
}

// Error implements the error interface.
func (e *PolicyTreeTooComplexError) Error() string {
	return fmt.Sprintf("rule %q condition tree too complex: depth %d (max %d), breadth %d (max %d)",
		e.Rule, e.Depth, e.MaxDepth, e.Breadth, e.MaxChildren)
}
