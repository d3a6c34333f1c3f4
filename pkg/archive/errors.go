package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown execution id.
	ErrNotFound = errors.New("trace not found")

	// ErrImmutable is returned when saving over a terminal trace.
	ErrImmutable = errors.New("terminal trace cannot be modified")
)

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // "sqlite", "memory"
	Operation string // "save", "get", "list", "delete", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("archive storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
