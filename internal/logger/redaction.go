package logger

import (
	"fmt"
	"io"
	"regexp"
)

// Mask replaces every redacted value.
const Mask = "[REDACTED]"

// redactionRule rewrites matches of pattern with repl. Rules that keep a field
// name or URL user capture it in group 1.
type redactionRule struct {
	name    string
	pattern *regexp.Regexp
	repl    []byte
}

// defaultRules cover secrets that reach warden logs: tool arguments, storage
// addresses and upstream auth headers.
var defaultRules = []struct {
	name, expr, repl string
}{
	{"bearer", `(Bearer\s+)[A-Za-z0-9._~+/=-]+`, "${1}" + Mask},
	{"url_credentials", `(\b[a-zA-Z][a-zA-Z0-9+.-]*://[^:/\s@"]*:)[^@\s"]+@`, "${1}" + Mask + "@"},
	{"secret_field", `(?i)("?[a-z_]*(?:api[_-]?key|password|passwd|secret|token)"?\s*[:=]\s*"?)[^\s",}]+`, "${1}" + Mask},
	{"provider_key", `\bsk-[A-Za-z0-9_-]{20,}`, Mask},
	{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`, Mask},
}

// Redactor masks secrets in log output.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a redactor with the default rules.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, d := range defaultRules {
		r.rules = append(r.rules, redactionRule{
			name:    d.name,
			pattern: regexp.MustCompile(d.expr),
			repl:    []byte(d.repl),
		})
	}
	return r
}

// AddPattern masks every match of expr as a whole.
func (r *Redactor) AddPattern(name, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern %s: %w", name, err)
	}
	r.rules = append(r.rules, redactionRule{name: name, pattern: re, repl: []byte(Mask)})
	return nil
}

// Rules returns the rule names in evaluation order.
func (r *Redactor) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.name
	}
	return names
}

// Redact masks s.
func (r *Redactor) Redact(s string) string {
	return string(r.redact([]byte(s)))
}

func (r *Redactor) redact(p []byte) []byte {
	for _, rule := range r.rules {
		if rule.pattern.Match(p) {
			p = rule.pattern.ReplaceAll(p, rule.repl)
		}
	}
	return p
}

// Wrap returns a writer that masks each write before passing it to w. zerolog
// writes one event per call, so a secret never spans two writes.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; callers count their own bytes, not the
// masked ones.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.next.Write(w.redactor.redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
