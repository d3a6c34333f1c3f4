package approval

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown approval id.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when a decision was already recorded.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// StorageError wraps a backend failure.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("approval storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: op, Cause: cause}
}
