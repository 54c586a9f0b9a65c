package logger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultSensitiveFields are the names a Sanitizer masks when none are given.
var DefaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey", "secret",
	"auth", "authorization",
	"credit_card", "card_number", "cvv",
	"ssn", "private_key",
}

const redacted = "***REDACTED***"

// maxValueLen bounds a formatted argument.
const maxValueLen = 100

// Sanitizer hides argument values that may be secrets before they are
// logged. Positional arguments are masked when the statement mentions a
// sensitive column; named parameters are masked by their own name.
type Sanitizer struct {
	fields   []string
	patterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer for fields, or DefaultSensitiveFields
// when fields is empty.
func NewSanitizer(fields []string) *Sanitizer {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	s := &Sanitizer{fields: fields, patterns: make([]*regexp.Regexp, 0, len(fields))}
	for _, f := range fields {
		s.patterns = append(s.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(f)+`\b`))
	}
	return s
}

// Sensitive reports whether text mentions one of the sensitive fields.
func (s *Sanitizer) Sensitive(text string) bool {
	for _, p := range s.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// MaskParams returns params with every value masked if sql mentions a
// sensitive field. params is never modified.
func (s *Sanitizer) MaskParams(sql string, params []any) []any {
	if len(params) == 0 || !s.Sensitive(sql) {
		return params
	}
	masked := make([]any, len(params))
	for i := range masked {
		masked[i] = redacted
	}
	return masked
}

// MaskNamed returns a copy of params whose sensitive names are masked.
func (s *Sanitizer) MaskNamed(params map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s.Sensitive(k) {
			v = redacted
		}
		out[k] = v
	}
	return out
}

// FormatParams renders params for a log line, truncating long values.
func (s *Sanitizer) FormatParams(params []any) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = formatValue(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatNamed renders named params sorted by name.
func (s *Sanitizer) FormatNamed(params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + formatValue(params[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxValueLen {
		return str[:maxValueLen] + "..."
	}
	return str
}
