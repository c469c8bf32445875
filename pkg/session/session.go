package session

import (
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/harun/pulse/pkg/envelope"
)

// SIDLength is the only accepted length for an externally supplied session id.
const SIDLength = 32

// Session is a mutable record of one activity period. It is owned by its
// creator and is not safe for concurrent mutation.
type Session struct {
	clock quartz.Clock

	sid               string
	did               string
	didExplicit       bool
	init              bool
	timestamp         time.Time
	started           time.Time
	duration          time.Duration
	ignoreDuration    bool
	status            Status
	errors            int
	release           string
	environment       string
	userAgent         string
	ipAddress         string
	mode              Mode
	user              *User
	abnormalMechanism string
}

// New creates a session with default values and applies c on top.
func New(c Context) *Session {
	return NewWithClock(quartz.NewReal(), c)
}

// NewWithClock is New with an explicit time source.
func NewWithClock(clock quartz.Clock, c Context) *Session {
	now := clock.Now()
	s := &Session{
		clock:     clock,
		sid:       newSID(),
		init:      true,
		timestamp: now,
		started:   now,
		status:    StatusOk,
		mode:      ModeApplication,
	}
	s.Update(c)
	return s
}

func newSID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Update merges the fields present in c. Absent or malformed fields leave the
// current value untouched; timestamp and duration are always refreshed.
func (s *Session) Update(c Context) {
	if c.DID != nil && *c.DID != "" {
		s.did = *c.DID
		s.didExplicit = true
	}

	if c.User != nil {
		u := *c.User
		s.user = &u
		if u.IPAddress != "" {
			s.ipAddress = u.IPAddress
		}
		if !s.didExplicit {
			if did := u.distinctID(); did != "" {
				s.did = did
			}
		}
	}

	if c.Timestamp != nil {
		s.timestamp = *c.Timestamp
	} else {
		s.timestamp = s.clock.Now()
	}

	if c.AbnormalMechanism != nil {
		s.abnormalMechanism = *c.AbnormalMechanism
	}
	if c.IgnoreDuration != nil {
		s.ignoreDuration = *c.IgnoreDuration
	}
	if c.SID != nil {
		if len(*c.SID) == SIDLength {
			s.sid = *c.SID
		} else {
			s.sid = newSID()
		}
	}
	if c.Init != nil {
		s.init = *c.Init
	}
	if c.Started != nil {
		s.started = *c.Started
	}

	switch {
	case s.ignoreDuration:
		s.duration = 0
	case c.Duration != nil && *c.Duration >= 0:
		s.duration = *c.Duration
	default:
		s.duration = s.timestamp.Sub(s.started)
		if s.duration < 0 {
			s.duration = 0
		}
	}

	if c.Release != nil {
		s.release = *c.Release
	}
	if c.Environment != nil {
		s.environment = *c.Environment
	}
	if c.IPAddress != nil {
		s.ipAddress = *c.IPAddress
	}
	if c.UserAgent != nil {
		s.userAgent = *c.UserAgent
	}
	if c.Errors != nil && *c.Errors >= 0 {
		s.errors = *c.Errors
	}
	if c.Status != nil && c.Status.Valid() {
		s.status = *c.Status
	}
	if c.Mode != nil && c.Mode.Valid() {
		s.mode = *c.Mode
	}
}

// Close ends the session. An Ok session becomes Exited; a session already in
// a terminal status keeps it and only has its timing refreshed.
func (s *Session) Close() {
	if s.status == StatusOk {
		s.Update(Context{Status: Ptr(StatusExited)})
		return
	}
	s.Update(Context{})
}

// CloseWithStatus ends the session with an explicit status.
func (s *Session) CloseWithStatus(status Status) {
	s.Update(Context{Status: &status})
}

// MarkReported clears the init flag once the session's first update has
// been delivered. Timing is left untouched.
func (s *Session) MarkReported() {
	s.init = false
}

// Attributes returns the release and environment of the session, plus the
// ip address and user agent when withUserInfo is set. Aggregation keys must
// be built with withUserInfo false.
func (s *Session) Attributes(withUserInfo bool) envelope.Attrs {
	attrs := envelope.Attrs{
		Release:     s.release,
		Environment: s.environment,
	}
	if withUserInfo {
		attrs.IPAddress = s.ipAddress
		attrs.UserAgent = s.userAgent
	}
	return attrs
}

// Serialize returns the wire record of the session.
func (s *Session) Serialize() envelope.SessionRecord {
	r := envelope.SessionRecord{
		SID:               s.sid,
		Init:              s.init,
		Started:           envelope.FormatTime(s.started),
		Timestamp:         envelope.FormatTime(s.timestamp),
		Status:            string(s.status),
		Mode:              string(s.mode),
		Errors:            s.errors,
		DID:               s.did,
		AbnormalMechanism: s.abnormalMechanism,
	}
	if !s.ignoreDuration {
		seconds := s.duration.Seconds()
		r.Duration = &seconds
	}
	if attrs := s.Attributes(true); !attrs.IsZero() {
		r.Attrs = &attrs
	}
	return r
}

func (s *Session) SID() string { return s.sid }
func (s *Session) DID() string { return s.did }
func (s *Session) Init() bool { return s.init }
func (s *Session) Timestamp() time.Time { return s.timestamp }
func (s *Session) Started() time.Time { return s.started }
func (s *Session) Status() Status { return s.status }
func (s *Session) Errors() int { return s.errors }
func (s *Session) Release() string { return s.release }
func (s *Session) Environment() string { return s.environment }
func (s *Session) UserAgent() string { return s.userAgent }
func (s *Session) IPAddress() string { return s.ipAddress }
func (s *Session) Mode() Mode { return s.mode }
func (s *Session) AbnormalMechanism() string { return s.abnormalMechanism }

// Duration returns the session duration. ok is false when duration tracking
// is disabled for the session.
func (s *Session) Duration() (d time.Duration, ok bool) {
	return s.duration, !s.ignoreDuration
}

// User returns a copy of the last user supplied, or nil.
func (s *Session) User() *User {
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}
