package intent

import (
	"regexp"
	"strconv"
	"strings"

	"armouriq/armour/pkg/value"
)

var (
	currencyCodes = regexp.MustCompile(`(?i)\b(rs|inr|usd|eur|jpy|gbp|yen|rupees?|dollars?|euros?)\b\.?`)
	numberPattern = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)
)

// Coerce converts v to kind. Strings are trimmed; free text is read as a
// number (currency symbols, codes and thousands separators removed) or as a
// yes/no boolean.
func Coerce(field string, v value.Scalar, kind value.Kind) (value.Scalar, error) {
	if v.Kind() == kind {
		if s, ok := v.AsString(); ok {
			return value.String(strings.TrimSpace(s)), nil
		}
		return v, nil
	}

	text := strings.TrimSpace(v.String())
	switch kind {
	case value.KindNumber:
		n, ok := parseNumber(text)
		if !ok {
			return value.Scalar{}, &CoercionError{Field: field, Input: text, Expected: "number"}
		}
		return value.Number(n), nil
	case value.KindBool:
		b, ok := parseBool(text)
		if !ok {
			return value.Scalar{}, &CoercionError{Field: field, Input: text, Expected: "yes/no answer"}
		}
		return value.Bool(b), nil
	default:
		return value.String(text), nil
	}
}

func parseNumber(text string) (float64, bool) {
	s := currencyCodes.ReplaceAllString(text, "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '₹', '$', '€', '¥', '£', ',', ' ', '_':
			return -1
		}
		return r
	}, s)
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(text string) (bool, bool) {
	switch strings.ToLower(text) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}
