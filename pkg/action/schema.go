package action

import (
	"math"

	"armouriq/armour/pkg/value"
)

// Field describes one slot of an action.
type Field struct {
	Name      string     `json:"name"`
	Type      value.Kind `json:"type"`
	Question  string     `json:"question"`
	WhyAsking string     `json:"why_asking"`

	// Priority orders questions; lower is asked first.
	Priority int `json:"priority"`
}

// BudgetRange is the typical spend for an action, shown alongside questions.
type BudgetRange struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Currency string  `json:"currency"`
}

// Schema declares the fields an action needs before it can be signed and the
// tool its policies are bound to.
type Schema struct {
	Action   string      `json:"action"`
	Tool     string      `json:"tool"`
	Required []Field     `json:"required"`
	Optional []Field     `json:"optional,omitempty"`
	Budget   BudgetRange `json:"budget"`
}

// Field returns the named field, required or optional.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Required {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range s.Optional {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Position returns the 1-based declared position of name across required
// then optional fields, or 0 if the field is unknown.
func (s *Schema) Position(name string) int {
	for i, f := range s.Required {
		if f.Name == name {
			return i + 1
		}
	}
	for i, f := range s.Optional {
		if f.Name == name {
			return len(s.Required) + i + 1
		}
	}
	return 0
}

// Missing returns the required fields absent from rec, or present but blank,
// in declaration order.
func (s *Schema) Missing(rec value.Record) []Field {
	var out []Field
	for _, f := range s.Required {
		v, ok := rec.Get(f.Name)
		if !ok || v.IsZero() {
			out = append(out, f)
		}
	}
	return out
}

// IsComplete reports whether every required field is present.
func (s *Schema) IsComplete(rec value.Record) bool {
	return len(s.Missing(rec)) == 0
}

// Completeness scores how fully rec populates the schema. An incomplete record
// scores up to 0.6 in proportion to the required fields present; a complete
// one scores 0.85 plus up to 0.15 for optional fields. Rounded to 2 places.
func (s *Schema) Completeness(rec value.Record) float64 {
	if len(s.Required) == 0 {
		return 0.5
	}
	present := len(s.Required) - len(s.Missing(rec))
	if present < len(s.Required) {
		return round2(float64(present) / float64(len(s.Required)) * 0.6)
	}

	optional := 0
	for _, f := range s.Optional {
		if v, ok := rec.Get(f.Name); ok && !v.IsZero() {
			optional++
		}
	}
	denom := len(s.Optional)
	if denom == 0 {
		denom = 1
	}
	return round2(math.Min(0.85+float64(optional)/float64(denom)*0.15, 1.0))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
