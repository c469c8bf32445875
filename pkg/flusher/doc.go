// Package flusher aggregates finished sessions into per-minute outcome
// counters and periodically hands them to a transport.
//
// Invariants:
// - Each session added increments exactly one counter of exactly one bucket.
// - Buckets are keyed by release/environment and the session start truncated to the minute.
// - A flush drains the whole buffer at once; sessions added during delivery land in the next flush.
// - An empty flush never reaches the transport.
// - A transport without AggregatesSender leaves the buffer untouched.
// - Failed deliveries are logged and dropped, never requeued.
// - Close stops the ticker once, flushes, and waits for in-flight deliveries.
//
// Usage:
//
//	f := flusher.New(flusher.Options{Transport: transport.NewNoop()})
//	defer f.Close()
//	f.AddSession(s)
package flusher
