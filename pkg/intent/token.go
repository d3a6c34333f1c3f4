package intent

import (
	"encoding/hex"
	"time"

	"armouriq/armour/pkg/value"
)

// NonceSize is the length in bytes of a token nonce.
const NonceSize = 16

// Step places a token inside a multi-step plan.
type Step struct {
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Description string `json:"description,omitempty"`
}

// Token is a signed, minimal proposal for one side-effecting action.
//
// The signature covers Action, Fields, Nonce and IssuedAt. Confidence and Step
// are advisory and are not part of what policies see.
type Token struct {
	Action     string       `json:"action"`
	Fields     value.Record `json:"fields"`
	Confidence float64      `json:"confidence"`
	IssuedAt   time.Time    `json:"issued_at"`
	Nonce      []byte       `json:"nonce"`
	Signature  []byte       `json:"signature"`
	Step       *Step        `json:"step,omitempty"`
}

// Record returns the signed fields plus "action" as a flat record for policy
// evaluation. A field named "action" is overridden by the token's action.
func (t *Token) Record() value.Record {
	rec := t.Fields.Clone()
	rec["action"] = value.String(t.Action)
	return rec
}

// NonceHex returns the nonce as lowercase hex.
func (t *Token) NonceHex() string {
	return hex.EncodeToString(t.Nonce)
}

// Clone returns a deep copy.
func (t *Token) Clone() *Token {
	c := *t
	c.Fields = t.Fields.Clone()
	c.Nonce = append([]byte(nil), t.Nonce...)
	c.Signature = append([]byte(nil), t.Signature...)
	if t.Step != nil {
		s := *t.Step
		c.Step = &s
	}
	return &c
}
