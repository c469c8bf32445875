package intake

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/harun/pulse/pkg/envelope"
	"github.com/harun/pulse/pkg/session"
)

// MaxLineBytes bounds a single input line.
const MaxLineBytes = 1024 * 1024

// Record is the wire form of one incoming session update. Empty fields keep
// the defaults supplied by the receiver.
//
// Both the flat input shape (release, environment, ip_address, user_agent,
// mode) and the session wire shape produced by Session.Serialize (nested
// attrs, session_mode) are accepted. A flat field wins over its nested
// counterpart.
type Record struct {
	SID               string        `json:"sid"`
	DID               string        `json:"did"`
	Started           string        `json:"started"`
	Timestamp         string        `json:"timestamp"`
	Duration          *float64      `json:"duration"` // seconds
	Status            string        `json:"status"`
	Errors            *int          `json:"errors"`
	Release           string        `json:"release"`
	Environment       string        `json:"environment"`
	User              *session.User `json:"user"`
	IPAddress         string        `json:"ip_address"`
	UserAgent         string        `json:"user_agent"`
	Mode              string        `json:"mode"`
	SessionMode       string        `json:"session_mode"`
	AbnormalMechanism string        `json:"abnormal_mechanism"`

	Attrs *envelope.Attrs `json:"attrs"`
}

// flat folds the nested wire fields into their flat counterparts.
func (r Record) flat() Record {
	if r.Mode == "" {
		r.Mode = r.SessionMode
	}
	if r.Attrs == nil {
		return r
	}
	if r.Release == "" {
		r.Release = r.Attrs.Release
	}
	if r.Environment == "" {
		r.Environment = r.Attrs.Environment
	}
	if r.IPAddress == "" {
		r.IPAddress = r.Attrs.IPAddress
	}
	if r.UserAgent == "" {
		r.UserAgent = r.Attrs.UserAgent
	}
	return r
}

// Context overlays the record onto base and returns the merged update.
func (r Record) Context(base session.Context) (session.Context, error) {
	r = r.flat()
	c := base
	if r.User != nil {
		c.User = r.User
	}

	if r.SID != "" {
		c.SID = session.Ptr(r.SID)
	}
	if r.DID != "" {
		c.DID = session.Ptr(r.DID)
	}
	if r.Started != "" {
		t, err := envelope.ParseTime(r.Started)
		if err != nil {
			return c, fmt.Errorf("invalid started: %w", err)
		}
		c.Started = &t
	}
	if r.Timestamp != "" {
		t, err := envelope.ParseTime(r.Timestamp)
		if err != nil {
			return c, fmt.Errorf("invalid timestamp: %w", err)
		}
		c.Timestamp = &t
	}
	if r.Duration != nil {
		if *r.Duration < 0 {
			return c, fmt.Errorf("invalid duration: %v", *r.Duration)
		}
		c.Duration = session.Ptr(time.Duration(*r.Duration * float64(time.Second)))
	}
	if r.Status != "" {
		st := session.Status(r.Status)
		if !st.Valid() {
			return c, fmt.Errorf("unknown status: %s", r.Status)
		}
		c.Status = &st
	}
	if r.Errors != nil {
		if *r.Errors < 0 {
			return c, fmt.Errorf("invalid errors: %d", *r.Errors)
		}
		c.Errors = r.Errors
	}
	if r.Release != "" {
		c.Release = session.Ptr(r.Release)
	}
	if r.Environment != "" {
		c.Environment = session.Ptr(r.Environment)
	}
	if r.IPAddress != "" {
		c.IPAddress = session.Ptr(r.IPAddress)
	}
	if r.UserAgent != "" {
		c.UserAgent = session.Ptr(r.UserAgent)
	}
	if r.Mode != "" {
		m := session.Mode(r.Mode)
		if !m.Valid() {
			return c, fmt.Errorf("unknown mode: %s", r.Mode)
		}
		c.Mode = &m
	}
	if r.AbnormalMechanism != "" {
		c.AbnormalMechanism = session.Ptr(r.AbnormalMechanism)
	}
	return c, nil
}

// LineError reports an input line that did not yield a session.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// ReadSessions decodes newline-delimited records from r and calls fn with
// each resulting session. Sessions still in the ok status are closed first.
// Blank lines are ignored. Bad lines are collected and returned; the error
// return is reserved for failures reading r itself.
func ReadSessions(r io.Reader, base session.Context, fn func(*session.Session)) ([]LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)

	var bad []LineError
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			bad = append(bad, LineError{Line: lineNo, Err: fmt.Errorf("malformed record: %w", err)})
			continue
		}
		c, err := rec.Context(base)
		if err != nil {
			bad = append(bad, LineError{Line: lineNo, Err: err})
			continue
		}

		s := session.New(c)
		if !s.Status().Terminal() {
			s.Close()
		}
		fn(s)
	}
	if err := scanner.Err(); err != nil {
		return bad, fmt.Errorf("failed to read input: %w", err)
	}
	return bad, nil
}
