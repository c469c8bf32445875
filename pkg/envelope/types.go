package envelope

import (
	"encoding/json"
	"time"
)

// TimeLayout is the ISO-8601 layout used for every timestamp on the wire.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a wire timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Attrs holds the low-cardinality attributes attached to a session or an
// aggregate payload.
type Attrs struct {
	Release     string `json:"release,omitempty"`
	Environment string `json:"environment,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// IsZero reports whether no attribute is set.
func (a Attrs) IsZero() bool {
	return a == Attrs{}
}

// Key returns a deterministic string form of the attributes, suitable as a
// map key. Field order is fixed by the struct definition.
func (a Attrs) Key() string {
	data, _ := json.Marshal(a)
	return string(data)
}

// Outcome is the single classification a session contributes to a bucket.
type Outcome string

const (
	OutcomeExited   Outcome = "exited"
	OutcomeErrored  Outcome = "errored"
	OutcomeCrashed  Outcome = "crashed"
	OutcomeAbnormal Outcome = "abnormal"
)

// Bucket is the counter set for one (attrs, time window) pair.
type Bucket struct {
	Started  string `json:"started"`
	Exited   int    `json:"exited,omitempty"`
	Errored  int    `json:"errored,omitempty"`
	Crashed  int    `json:"crashed,omitempty"`
	Abnormal int    `json:"abnormal,omitempty"`
}

// Add increments the counter matching outcome.
func (b *Bucket) Add(outcome Outcome) {
	switch outcome {
	case OutcomeCrashed:
		b.Crashed++
	case OutcomeAbnormal:
		b.Abnormal++
	case OutcomeErrored:
		b.Errored++
	default:
		b.Exited++
	}
}

// Total returns the number of sessions counted in the bucket.
func (b Bucket) Total() int {
	return b.Exited + b.Errored + b.Crashed + b.Abnormal
}

// Aggregates is one outbound aggregate payload for a single attribute group.
type Aggregates struct {
	Attrs      Attrs    `json:"attrs"`
	Aggregates []Bucket `json:"aggregates"`
}

// Total returns the number of sessions counted across all buckets.
func (a Aggregates) Total() int {
	total := 0
	for _, b := range a.Aggregates {
		total += b.Total()
	}
	return total
}

// SessionRecord is the wire form of a single session update.
type SessionRecord struct {
	SID               string   `json:"sid"`
	Init              bool     `json:"init"`
	Started           string   `json:"started"`
	Timestamp         string   `json:"timestamp"`
	Status            string   `json:"status"`
	Mode              string   `json:"session_mode,omitempty"`
	Errors            int      `json:"errors"`
	DID               string   `json:"did,omitempty"`
	Duration          *float64 `json:"duration,omitempty"`
	AbnormalMechanism string   `json:"abnormal_mechanism,omitempty"`
	Attrs             *Attrs   `json:"attrs,omitempty"`
}
