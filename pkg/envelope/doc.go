// Package envelope defines the wire representation of session health data.
//
// Invariants:
// - Absent values are omitted from JSON, never emitted as null.
// - Timestamps are ISO-8601 in UTC with millisecond precision.
// - An aggregation bucket counts each contributing session in exactly one outcome field.
//
// Usage:
//
//	env := envelope.New(envelope.DefaultSDK(), time.Now())
//	_ = env.AddAggregates(payload)
//	_ = env.Encode(w)
package envelope
