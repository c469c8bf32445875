// Package intake receives session updates from remote processes over HTTP
// and hands them to a session sink, normally a *flusher.Flusher.
//
// Input is newline-delimited JSON, one Record per line. Records still in the
// ok status are closed before they reach the sink, so every accepted record
// counts as one finished session.
//
// Invariants:
//   - A request is rejected as a whole (401, 413, 429) before any record is
//     decoded; once decoding starts, valid lines are accepted and invalid lines
//     are reported back without failing the request.
//   - When a shared secret is configured, every request must carry a matching
//     HMAC signature of its raw body.
//   - Stop refuses new requests and waits for in-flight ones before the
//     listener is closed.
//
// Usage:
//
//	srv, err := intake.NewServer(intake.Options{Addr: "127.0.0.1:8610"}, f)
//	if err != nil {
//		return err
//	}
//	go srv.Start()
//	defer srv.Stop(context.Background())
package intake
