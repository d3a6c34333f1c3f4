package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/value"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 123456000, time.UTC)

func newTestToken() *Token {
	return &Token{
		Action: "PAY_BILL",
		Fields: value.Record{
			"amount":   value.Number(6200),
			"merchant": value.String("ELECTRICITY_BOARD"),
		},
		Confidence: 0.9,
		IssuedAt:   testNow,
		Nonce:      []byte("0123456789abcdef"),
	}
}

func newTestSigner(t *testing.T, opts ...SignerOption) *Signer {
	t.Helper()
	opts = append([]SignerOption{WithSignerClock(func() time.Time { return testNow.Add(time.Minute) })}, opts...)
	s, err := NewSigner([]byte("test-secret"), opts...)
	require.NoError(t, err)
	return s
}

func TestSigner_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	tok := newTestToken()

	require.NoError(t, s.Sign(tok))
	assert.Len(t, tok.Signature, 32)
	assert.NoError(t, s.Verify(tok))
}

func TestSigner_Deterministic(t *testing.T) {
	s := newTestSigner(t)
	a, b := newTestToken(), newTestToken()

	require.NoError(t, s.Sign(a))
	require.NoError(t, s.Sign(b))
	assert.Equal(t, a.Signature, b.Signature)
}

func TestSigner_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Token)
	}{
		{"amount", func(tk *Token) { tk.Fields["amount"] = value.Number(3000) }},
		{"amount type", func(tk *Token) { tk.Fields["amount"] = value.String("6200") }},
		{"merchant", func(tk *Token) { tk.Fields["merchant"] = value.String("WATER_UTILITY") }},
		{"added field", func(tk *Token) { tk.Fields["note"] = value.String("x") }},
		{"removed field", func(tk *Token) { delete(tk.Fields, "merchant") }},
		{"action", func(tk *Token) { tk.Action = "MAKE_PAYMENT" }},
		{"nonce", func(tk *Token) { tk.Nonce[0] ^= 0xff }},
		{"issued_at", func(tk *Token) { tk.IssuedAt = tk.IssuedAt.Add(time.Microsecond) }},
		{"signature", func(tk *Token) { tk.Signature[0] ^= 0xff }},
		{"no signature", func(tk *Token) { tk.Signature = nil }},
	}

	s := newTestSigner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := newTestToken()
			require.NoError(t, s.Sign(tok))
			tt.mutate(tok)

			err := s.Verify(tok)
			require.Error(t, err)
			assert.True(t, IsTampered(err), "got %v", err)
		})
	}
}

func TestSigner_DifferentKey(t *testing.T) {
	tok := newTestToken()
	require.NoError(t, newTestSigner(t).Sign(tok))

	other, err := NewSigner([]byte("rotated"), WithSignerClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	assert.True(t, IsTampered(other.Verify(tok)))
}

func TestSigner_Expired(t *testing.T) {
	s := newTestSigner(t, WithTTL(30*time.Second))
	tok := newTestToken()
	require.NoError(t, s.Sign(tok))

	err := s.Verify(tok)
	assert.True(t, IsExpired(err), "got %v", err)
	assert.False(t, IsTampered(err))
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner(nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestCanonical_OrderIndependent(t *testing.T) {
	a := newTestToken()
	b := newTestToken()
	b.Fields = value.Record{}
	b.Fields["merchant"] = value.String("ELECTRICITY_BOARD")
	b.Fields["amount"] = value.Number(6200)

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t,
		`{"action":"PAY_BILL","fields":{"amount":6200,"merchant":"ELECTRICITY_BOARD"},"issued_at":"2025-03-14T09:30:00.123456Z","nonce":"30313233343536373839616263646566"}`,
		string(ca))
}

func TestToken_RecordAndClone(t *testing.T) {
	tok := newTestToken()
	rec := tok.Record()
	assert.Equal(t, value.String("PAY_BILL"), rec["action"])
	assert.Equal(t, value.Number(6200), rec["amount"])
	_, hasAction := tok.Fields["action"]
	assert.False(t, hasAction)

	c := tok.Clone()
	c.Fields["amount"] = value.Number(1)
	c.Nonce[0] = 'x'
	assert.Equal(t, value.Number(6200), tok.Fields["amount"])
	assert.Equal(t, byte('0'), tok.Nonce[0])
}
