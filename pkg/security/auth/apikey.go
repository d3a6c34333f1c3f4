package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sort"
	"sync"
)

// APIKeyValidator validates API keys against a configured set of keys.
// Keys are indexed by digest so the raw key never sits in a map.
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]*APIKeyInfo
}

// NewAPIKeyValidator creates a new API key validator with the given keys.
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	v := &APIKeyValidator{keys: make(map[[sha256.Size]byte]*APIKeyInfo, len(keys))}
	for _, key := range keys {
		v.keys[sha256.Sum256([]byte(key.Key))] = key
	}
	return v
}

// Validate checks if the given API key is valid and returns its info.
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	info, ok := v.keys[digest]
	v.mu.RUnlock()

	if !ok || subtle.ConstantTimeCompare([]byte(info.Key), []byte(key)) != 1 {
		return nil, ErrInvalidKey
	}
	if !info.Enabled {
		return nil, ErrKeyDisabled
	}
	return info, nil
}

// Principals returns the principal of every configured key, sorted.
func (v *APIKeyValidator) Principals() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, 0, len(v.keys))
	for _, key := range v.keys {
		out = append(out, key.Principal)
	}
	sort.Strings(out)
	return out
}

// Add adds or replaces a key.
func (v *APIKeyValidator) Add(info *APIKeyInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[sha256.Sum256([]byte(info.Key))] = info
}

// Remove removes a key.
func (v *APIKeyValidator) Remove(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, sha256.Sum256([]byte(key)))
}
