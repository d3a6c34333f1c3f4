package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"armouriq/armour/pkg/config"
)

// Redactor redacts secrets and PII from log fields.
type Redactor struct {
	patterns map[string]*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternEmail       = "email"
	PatternCreditCard  = "credit_card"
	PatternBearerToken = "bearer_token"
	PatternPassword    = "password"
	PatternHMAC        = "hmac_sha256"
)

// sensitiveKeys are field names whose values are always masked. A key
// matches if it equals one of these or ends with "_" and one of these.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "signing_secret",
	"signature", "authorization", "api_key", "private_key",
	"token_secret", "bearer",
}

// NewRedactor creates a Redactor with the built-in patterns plus custom.
// Invalid custom patterns are skipped.
func NewRedactor(custom []config.RedactPattern) *Redactor {
	r := &Redactor{patterns: make(map[string]*redactPattern)}

	defaults := map[string]config.RedactPattern{
		PatternEmail:       {Pattern: `([a-zA-Z0-9._%+-])[a-zA-Z0-9._%+-]*@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, Replacement: "$1***@$2"},
		PatternCreditCard:  {Pattern: `\b(?:\d[ -]?){12,15}(\d{4})\b`, Replacement: "****-****-****-$1"},
		PatternBearerToken: {Pattern: `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, Replacement: "Bearer ***"},
		PatternPassword:    {Pattern: `(password|passwd|pwd)[:=]\s*[^\s]+`, Replacement: "$1: ***"},
		// 32-byte signatures rendered as hex.
		PatternHMAC: {Pattern: `\b[0-9a-f]{64}\b`, Replacement: "<hmac>"},
	}
	for name, p := range defaults {
		r.patterns[name] = &redactPattern{regex: regexp.MustCompile(p.Pattern), replacement: p.Replacement}
	}

	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns[p.Name] = &redactPattern{regex: regex, replacement: p.Replacement}
	}
	return r
}

// RedactString applies every value pattern to s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactAttr masks a sensitive attribute entirely and applies the value
// patterns to string attributes. Groups are redacted recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, mask(v))
	}

	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]slog.Attr, len(group))
		for i, g := range group {
			out[i] = r.RedactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// IsSensitiveKey reports whether values logged under key must be masked.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s || strings.HasSuffix(lower, "_"+s) {
			return true
		}
	}
	return false
}

func mask(v slog.Value) string {
	if v.Kind() == slog.KindString && v.String() == "" {
		return ""
	}
	return "***"
}
