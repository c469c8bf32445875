package session

import "time"

// Status is the outcome state of a session.
type Status string

const (
	StatusOk       Status = "ok"
	StatusExited   Status = "exited"
	StatusCrashed  Status = "crashed"
	StatusAbnormal Status = "abnormal"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOk, StatusExited, StatusCrashed, StatusAbnormal:
		return true
	}
	return false
}

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusOk
}

// Mode distinguishes long-lived application sessions from per-request ones.
type Mode string

const (
	ModeApplication Mode = "application"
	ModeRequest     Mode = "request"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeApplication || m == ModeRequest
}

// User identifies the person behind a session.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// distinctID picks the first non-empty of id, email and username.
func (u User) distinctID() string {
	switch {
	case u.ID != "":
		return u.ID
	case u.Email != "":
		return u.Email
	default:
		return u.Username
	}
}

// Context carries a partial session update. Nil fields are left untouched.
type Context struct {
	User              *User
	SID               *string
	DID               *string
	Init              *bool
	Timestamp         *time.Time
	Started           *time.Time
	Duration          *time.Duration
	IgnoreDuration    *bool
	Status            *Status
	Errors            *int
	Release           *string
	Environment       *string
	IPAddress         *string
	UserAgent         *string
	Mode              *Mode
	AbnormalMechanism *string
}

// Ptr returns a pointer to v. It keeps Context literals short.
func Ptr[T any](v T) *T {
	return &v
}
