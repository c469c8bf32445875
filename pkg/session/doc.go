// Package session models one tracked period of application or user activity.
//
// Invariants:
// - A session id is always 32 characters; any other supplied value is replaced.
// - Duration is recomputed as timestamp minus started on every update unless supplied.
// - Status only changes when a status is supplied or the session is closed.
// - Aggregation attributes never include user identity or location.
//
// Usage:
//
//	s := session.New(session.Context{Release: session.Ptr("1.0")})
//	s.Update(session.Context{Errors: session.Ptr(1)})
//	s.Close()
//	record := s.Serialize()
//	_ = record
package session
