package reasoning

import (
	"context"

	"armouriq/armour/pkg/value"
)

// Analysis is what the reasoning step hands to the rest of the pipeline: free
// text for the trace, a step list, and the slots it could extract.
type Analysis struct {
	Text   string       `json:"text"`
	Steps  []string     `json:"steps"`
	Action string       `json:"action"`
	Slots  value.Record `json:"slots"`

	// Confidence is an opaque signal from the reasoner. Nil lets the intent
	// builder score completeness instead.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Reasoner turns a natural-language request into an Analysis. It may block
// for a long time; implementations must honour ctx.
type Reasoner interface {
	Reason(ctx context.Context, text string) (*Analysis, error)
}

// Func adapts a function to the Reasoner interface.
type Func func(ctx context.Context, text string) (*Analysis, error)

// Reason calls f.
func (f Func) Reason(ctx context.Context, text string) (*Analysis, error) {
	return f(ctx, text)
}
