package intent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// DefaultTTL is how long a signed token stays valid.
const DefaultTTL = 10 * time.Minute

// Signer signs and verifies tokens with HMAC-SHA256 over the RFC 8785
// canonical JSON of {action, fields, nonce, issued_at}.
type Signer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithTTL sets the token lifetime. Zero disables expiry.
func WithTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) { s.ttl = ttl }
}

// WithSignerClock replaces the clock used for expiry checks.
func WithSignerClock(clock func() time.Time) SignerOption {
	return func(s *Signer) { s.clock = clock }
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret []byte, opts ...SignerOption) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	s := &Signer{
		key:   append([]byte(nil), secret...),
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign sets the token's signature.
func (s *Signer) Sign(t *Token) error {
	mac, err := s.mac(t)
	if err != nil {
		return err
	}
	t.Signature = mac
	return nil
}

// Verify checks the signature, then the token's age.
func (s *Signer) Verify(t *Token) error {
	if len(t.Signature) == 0 {
		return &TokenTamperedError{Action: t.Action, Reason: "missing signature"}
	}
	if len(t.Nonce) != NonceSize {
		return &TokenTamperedError{Action: t.Action, Reason: "invalid nonce"}
	}
	want, err := s.mac(t)
	if err != nil {
		return &TokenTamperedError{Action: t.Action, Reason: err.Error()}
	}
	if !hmac.Equal(want, t.Signature) {
		return &TokenTamperedError{Action: t.Action, Reason: "signature mismatch"}
	}

	if s.ttl > 0 && s.clock().Sub(t.IssuedAt) > s.ttl {
		return &TokenExpiredError{Action: t.Action, IssuedAt: t.IssuedAt, TTL: s.ttl}
	}
	return nil
}

// Canonical returns the bytes the signature is computed over.
func Canonical(t *Token) ([]byte, error) {
	fields := make(map[string]interface{}, len(t.Fields))
	for k, v := range t.Fields {
		fields[k] = v.Interface()
	}
	raw, err := json.Marshal(map[string]interface{}{
		"action":    t.Action,
		"fields":    fields,
		"nonce":     hex.EncodeToString(t.Nonce),
		"issued_at": t.IssuedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize token: %w", err)
	}
	return out, nil
}

func (s *Signer) mac(t *Token) ([]byte, error) {
	payload, err := Canonical(t)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil), nil
}
