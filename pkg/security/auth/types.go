package auth

import (
	"errors"
	"fmt"
)

// Role is a permission granted to an API key.
type Role string

const (
	// RoleExecute allows submitting requests to the pipeline.
	RoleExecute Role = "execute"

	// RoleRead allows reading policies, traces and approvals.
	RoleRead Role = "read"

	// RoleApprove allows resolving queued approvals.
	RoleApprove Role = "approve"
)

// ParseRole returns the role named by s.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleExecute, RoleRead, RoleApprove:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Authentication failures. The middleware passes them to its error handler.
var (
	ErrMissingKey  = errors.New("missing API key")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrKeyDisabled = errors.New("API key disabled")
	ErrForbidden   = errors.New("API key lacks the required role")
)

// APIKeyInfo is a configured API key and the principal it authenticates.
type APIKeyInfo struct {
	Key       string
	Principal string
	Roles     []Role
	Enabled   bool
}

// Has reports whether the key was granted role.
func (k *APIKeyInfo) Has(role Role) bool {
	for _, r := range k.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// APIKeyStore validates API keys.
type APIKeyStore interface {
	Validate(key string) (*APIKeyInfo, error)
}
