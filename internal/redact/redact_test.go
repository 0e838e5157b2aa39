package redact

import (
	"regexp"
	"testing"
)

func TestRedact(t *testing.T) {
	r := New()

	tests := []struct {
		name      string
		input     string
		want      string
		wantCount int
	}{
		{name: "no pii", input: "what is a transformer?", want: "what is a transformer?", wantCount: 0},
		{name: "empty", input: "", want: "", wantCount: 0},
		{name: "email", input: "contact me at a@b.com", want: "contact me at [EMAIL_REDACTED]", wantCount: 1},
		{name: "phone dashes", input: "call 555-123-4567", want: "call [PHONE_REDACTED]", wantCount: 1},
		{name: "phone dots", input: "call 555.123.4567", want: "call [PHONE_REDACTED]", wantCount: 1},
		{name: "phone bare", input: "call 5551234567 now", want: "call [PHONE_REDACTED] now", wantCount: 1},
		{name: "phone mixed separators", input: "call 555-123.4567", want: "call 555-123.4567", wantCount: 0},
		{name: "ssn", input: "ssn 123-45-6789", want: "ssn [SSN_REDACTED]", wantCount: 1},
		{
			name:      "one of each",
			input:     "mail jane.doe+x@example.co.uk, phone 555.123.4567, ssn 123-45-6789",
			want:      "mail [EMAIL_REDACTED], phone [PHONE_REDACTED], ssn [SSN_REDACTED]",
			wantCount: 3,
		},
		{name: "short tld not an email", input: "user@host.c", want: "user@host.c", wantCount: 0},
		{name: "repeated email", input: "a@b.com and a@b.com", want: "[EMAIL_REDACTED] and [EMAIL_REDACTED]", wantCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, count := r.Redact(tt.input)
			if got != tt.want {
				t.Errorf("Redact() text = %q, want %q", got, tt.want)
			}
			if count != tt.wantCount {
				t.Errorf("Redact() count = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestRedact_Idempotent(t *testing.T) {
	r := New()

	once, _ := r.Redact("a@b.com 555-123-4567 123-45-6789")
	twice, count := r.Redact(once)

	if twice != once {
		t.Errorf("second pass changed text: %q -> %q", once, twice)
	}
	if count != 0 {
		t.Errorf("second pass count = %d, want 0", count)
	}
}

func TestRedactFields(t *testing.T) {
	r := New()

	res := r.RedactFields("my email is a@b.com", "noted, and my ssn is 123-45-6789 and phone 555-123-4567")

	if res.Prompt != "my email is [EMAIL_REDACTED]" {
		t.Errorf("Prompt = %q", res.Prompt)
	}
	if res.Response != "noted, and my ssn is [SSN_REDACTED] and phone [PHONE_REDACTED]" {
		t.Errorf("Response = %q", res.Response)
	}
	if res.Count != 3 {
		t.Errorf("Count = %d, want 3", res.Count)
	}
	for _, class := range []string{"email", "phone", "ssn"} {
		if res.ByClass[class] != 1 {
			t.Errorf("ByClass[%s] = %d, want 1", class, res.ByClass[class])
		}
	}
}

func TestRedactFields_NoMatchAcrossFieldBoundary(t *testing.T) {
	r := New()

	res := r.RedactFields("ends with 123-45", "-6789 starts here")
	if res.Count != 0 {
		t.Errorf("Count = %d, want 0", res.Count)
	}
}

func TestNew_CustomPatterns(t *testing.T) {
	r := New(Pattern{
		Name:        "card",
		Expr:        regexp.MustCompile(`\b\d{4}(?: \d{4}){3}\b`),
		Placeholder: "[CARD_REDACTED]",
	})

	got, count := r.Redact("card 4111 1111 1111 1111, mail a@b.com")
	if got != "card [CARD_REDACTED], mail a@b.com" {
		t.Errorf("Redact() = %q", got)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
