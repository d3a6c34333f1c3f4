package intent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptySecret is returned when a signer is built without a key.
	ErrEmptySecret = errors.New("signing secret must not be empty")

	// ErrUnknownAction is returned when the action has no schema.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidConfidence is returned for a confidence outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be within [0, 1]")
)

// TokenTamperedError means a token's signature does not match its contents.
type TokenTamperedError struct {
	Action string
	Reason string
}

func (e *TokenTamperedError) Error() string {
	return fmt.Sprintf("intent token for %s failed verification: %s", e.Action, e.Reason)
}

// TokenExpiredError means a token is older than the signer's TTL.
type TokenExpiredError struct {
	Action   string
	IssuedAt time.Time
	TTL      time.Duration
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("intent token for %s issued at %s exceeded ttl %v",
		e.Action, e.IssuedAt.Format(time.RFC3339), e.TTL)
}

// CoercionError means a free-text answer could not be converted to the
// field's type.
type CoercionError struct {
	Field    string
	Input    string
	Expected string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot read %q as a %s for %s", e.Input, e.Expected, e.Field)
}

// IsTampered reports whether err is a TokenTamperedError.
func IsTampered(err error) bool {
	var t *TokenTamperedError
	return errors.As(err, &t)
}

// IsExpired reports whether err is a TokenExpiredError.
func IsExpired(err error) bool {
	var t *TokenExpiredError
	return errors.As(err, &t)
}
