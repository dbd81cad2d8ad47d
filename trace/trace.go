// Package trace provides the wire-level subset of HTTP client tracing
// hooks that make sense inside a single connection core: everything
// about DNS, dialing, and TLS stays with whatever external
// collaborator actually performs it, so those hooks are not
// reproduced here.
package trace

// Trace is a set of optional hooks a caller can install on a
// Connection to observe one request/response exchange. Any field may
// be nil; callers check before invoking, the same pattern net/http's
// httptrace.ClientTrace uses.
type Trace struct {
	// GotConn fires once the connection has committed to this
	// exchange, with the connection's identity.
	GotConn func(connID string)

	// WroteHeaders fires right after the request line and header
	// block have been flushed to the transport.
	WroteHeaders func()

	// Wait100Continue fires if the request set Expect: 100-continue
	// and the header block has been sent but the body send is gated
	// on either a "100 Continue" or the configured timeout.
	Wait100Continue func()

	// Got100Continue fires when a "100 Continue" informational
	// response unblocks a gated body send.
	Got100Continue func()

	// GotFirstResponseByte fires once per exchange, when the first
	// bytes of the response have been read off the wire and before the
	// status line is parsed.
	GotFirstResponseByte func()

	// WroteRequest fires once per RoundTrip, after the request has been
	// sent and the response header block read (or after either failed),
	// with RoundTrip's error; nil on success.
	WroteRequest func(err error)

	// PutIdleConn fires when the connection is handed back to the
	// pool for reuse, or when it is invalidated instead - err is nil
	// in the first case.
	PutIdleConn func(err error)
}
