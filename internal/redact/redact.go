// Package redact replaces regulated PII patterns in free text with typed
// placeholders. Detection is pattern based and best effort: values that do
// not match one of the configured shapes pass through untouched.
package redact

import (
	"regexp"
	"strings"
)

const (
	EmailPlaceholder = "[EMAIL_REDACTED]"
	PhonePlaceholder = "[PHONE_REDACTED]"
	SSNPlaceholder   = "[SSN_REDACTED]"
)

// Pattern is one PII class. Patterns are applied in slice order.
type Pattern struct {
	Name        string
	Expr        *regexp.Regexp
	Placeholder string
}

var (
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	// RE2 has no backreferences, so "same separator" is spelled out per separator.
	phoneRegex = regexp.MustCompile(`\b(?:\d{3}-\d{3}-\d{4}|\d{3}\.\d{3}\.\d{4}|\d{10})\b`)
	ssnRegex   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// DefaultPatterns returns email, phone and SSN in that order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "email", Expr: emailRegex, Placeholder: EmailPlaceholder},
		{Name: "phone", Expr: phoneRegex, Placeholder: PhonePlaceholder},
		{Name: "ssn", Expr: ssnRegex, Placeholder: SSNPlaceholder},
	}
}

type Redactor struct {
	patterns []Pattern
}

// New builds a Redactor over patterns, or over DefaultPatterns when none are given.
func New(patterns ...Pattern) *Redactor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Redactor{patterns: patterns}
}

// Result is the outcome of redacting a prompt/response pair.
type Result struct {
	Prompt   string
	Response string
	Count    int
	ByClass  map[string]int
}

// Count returns the per-class match counts in text without modifying it.
func (r *Redactor) Count(text string) map[string]int {
	counts := make(map[string]int, len(r.patterns))
	for _, p := range r.patterns {
		if n := len(p.Expr.FindAllStringIndex(text, -1)); n > 0 {
			counts[p.Name] += n
		}
	}
	return counts
}

// Redact counts matches in text, then substitutes every pattern in order.
func (r *Redactor) Redact(text string) (string, int) {
	return r.replace(text), total(r.Count(text))
}

// RedactFields counts matches over prompt and response joined together, then
// substitutes each field independently. The count is taken before any
// substitution since placeholders no longer match.
func (r *Redactor) RedactFields(prompt, response string) Result {
	byClass := r.Count(strings.Join([]string{prompt, response}, "\n"))
	return Result{
		Prompt:   r.replace(prompt),
		Response: r.replace(response),
		Count:    total(byClass),
		ByClass:  byClass,
	}
}

func (r *Redactor) replace(text string) string {
	if text == "" {
		return text
	}
	for _, p := range r.patterns {
		text = p.Expr.ReplaceAllLiteralString(text, p.Placeholder)
	}
	return text
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
