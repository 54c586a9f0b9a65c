// Package security vets raw SQL fragments before they are embedded as table
// sources, screens bound parameter values and audits query executions.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRejected is wrapped by every validation failure.
var ErrRejected = errors.New("rejected by validator")

// Validator checks raw SQL fragments and parameter values against patterns
// of injected or destructive SQL.
type Validator struct {
	patterns []*regexp.Regexp
	strict   bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithStrict also rejects fragments using UNION, OR or EXEC anywhere. It
// catches more and rejects some legitimate fragments.
func WithStrict(strict bool) ValidatorOption {
	return func(v *Validator) { v.strict = strict }
}

// fragmentPatterns are matched against the upper-cased fragment.
var fragmentPatterns = []string{
	`--\s`,
	`/\*`,
	`#\s`,
	`;\s*\S`,
	`\bUNION\s+(ALL\s+)?SELECT\b`,
	`\bINTO\s+(OUTFILE|DUMPFILE)\b`,
	`XP_CMDSHELL`,
	`SP_EXECUTESQL`,
	`\bEXEC(UTE)?\s*\(`,
	`INFORMATION_SCHEMA`,
	`PG_SLEEP\s*\(`,
	`BENCHMARK\s*\(`,
	`WAITFOR\s+DELAY`,
	`\sOR\s+'?1'?\s*=\s*'?1'?`,
}

var strictPatterns = []string{
	`\bUNION\b`,
	`\bOR\b`,
	`\bEXEC(UTE)?\b`,
}

// paramIndicators mark parameter values that look like injection attempts.
var paramIndicators = []string{"'--", "';", "' OR ", "' AND ", "/*", "*/", "' UNION ", "' DROP ", "XP_"}

// NewValidator creates a validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	v.patterns = compilePatterns(fragmentPatterns)
	if v.strict {
		v.patterns = append(v.patterns, compilePatterns(strictPatterns)...)
	}
	return v
}

// ValidateQuery accepts a single read-only SELECT (or WITH) statement with
// no comments or stacked statements. A trailing semicolon is allowed.
func (v *Validator) ValidateQuery(query string) error {
	normalized := strings.ToUpper(strings.TrimSpace(query))
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	if normalized == "" {
		return fmt.Errorf("%w: empty fragment", ErrRejected)
	}
	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return fmt.Errorf("%w: fragment is not a SELECT", ErrRejected)
	}
	for _, p := range v.patterns {
		if p.MatchString(normalized) {
			return fmt.Errorf("%w: fragment matches %s", ErrRejected, p)
		}
	}
	return nil
}

// ValidateParams screens string values of named parameters.
func (v *Validator) ValidateParams(params map[string]any) error {
	for name, p := range params {
		s, ok := p.(string)
		if !ok {
			continue
		}
		upper := strings.ToUpper(s)
		for _, ind := range paramIndicators {
			if strings.Contains(upper, ind) {
				return fmt.Errorf("%w: parameter %q contains %q", ErrRejected, name, ind)
			}
		}
	}
	return nil
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
