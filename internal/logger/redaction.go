package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks personal data and credentials in log output. Session
// attributes carry client addresses and user identifiers, so those are
// masked alongside secrets.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rules.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`), "Bearer " + redacted},

			// Credentials embedded in endpoint URLs, keeping scheme and host
			{regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^/\s:@"]+(:[^/\s@"]*)?@`), "${1}" + redacted + "@"},

			// Token, password and secret key/value pairs, quoted or not
			{regexp.MustCompile(`((?:auth_token|token|password|secret)"?\s*[:=]\s*"?)[^\s",}]+`), "${1}" + redacted},

			// Email addresses
			{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), redacted},

			// IPv4 addresses
			{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), redacted},
		},
	}
}

// AddPattern adds a custom pattern whose matches are fully replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact applies every rule to s in order.
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.replacement)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat a shortened,
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
