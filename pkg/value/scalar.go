package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies the dynamic type carried by a Scalar.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Scalar is a single string, number or boolean value.
// The zero value is the empty string.
type Scalar struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String returns a string scalar.
func String(s string) Scalar {
	return Scalar{kind: KindString, str: s}
}

// Number returns a numeric scalar.
func Number(n float64) Scalar {
	return Scalar{kind: KindNumber, num: n}
}

// Bool returns a boolean scalar.
func Bool(b bool) Scalar {
	return Scalar{kind: KindBool, b: b}
}

// Kind returns the scalar's kind.
func (s Scalar) Kind() Kind {
	if s.kind == "" {
		return KindString
	}
	return s.kind
}

// AsString returns the string payload and whether the scalar is a string.
func (s Scalar) AsString() (string, bool) {
	return s.str, s.Kind() == KindString
}

// AsNumber returns the numeric payload and whether the scalar is a number.
func (s Scalar) AsNumber() (float64, bool) {
	return s.num, s.kind == KindNumber
}

// AsBool returns the boolean payload and whether the scalar is a bool.
func (s Scalar) AsBool() (bool, bool) {
	return s.b, s.kind == KindBool
}

// IsZero reports whether the scalar carries no usable value: an empty
// string. Numbers and booleans are never zero in this sense.
func (s Scalar) IsZero() bool {
	return s.Kind() == KindString && s.str == ""
}

// Equal compares kind and payload exactly. Strings are case-sensitive.
func (s Scalar) Equal(other Scalar) bool {
	if s.Kind() != other.Kind() {
		return false
	}
	switch s.Kind() {
	case KindNumber:
		return s.num == other.num
	case KindBool:
		return s.b == other.b
	default:
		return s.str == other.str
	}
}

// String renders the scalar for diagnostics.
func (s Scalar) String() string {
	switch s.Kind() {
	case KindNumber:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(s.b)
	default:
		return s.str
	}
}

// Interface returns the payload as a plain Go value.
func (s Scalar) Interface() interface{} {
	switch s.Kind() {
	case KindNumber:
		return s.num
	case KindBool:
		return s.b
	default:
		return s.str
	}
}

// MarshalJSON encodes the scalar as its native JSON type.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Interface())
}

// UnmarshalJSON decodes a JSON string, number or boolean.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalYAML decodes a YAML scalar node.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar value", node.Line)
	}
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := FromInterface(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = v
	return nil
}

// FromInterface converts a decoded JSON/YAML value into a Scalar.
func FromInterface(v interface{}) (Scalar, error) {
	switch val := v.(type) {
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Scalar{}, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Number(f), nil
	case Scalar:
		return val, nil
	default:
		return Scalar{}, fmt.Errorf("unsupported scalar type %T", v)
	}
}

// Record is a flat key/value view of a transaction.
type Record map[string]Scalar

// Get returns the value for key and whether it is present.
func (r Record) Get(key string) (Scalar, bool) {
	v, ok := r[key]
	return v, ok
}

// Clone returns a shallow copy. Scalars are values, so the copy is independent.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
