package h1conn

import (
	"io"
	"net"
	"time"
)

// Transport is the opaque byte-oriented stream a Connection drives.
// Any io.Reader/io.Writer/io.Closer satisfies the blocking half; Pollable
// is optional and only consulted by the liveness checks in readahead.go.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Pollable is implemented by transports that can report synchronous
// readability without blocking.
// *net.TCPConn does not implement it; transports that don't simply
// leave it out, and the liveness check falls back to a
// SetReadDeadline plus Read probe (deadlineTransport) when available.
type Pollable interface {
	// PollReadable reports whether a Read would return immediately
	// with data or EOF, without consuming any bytes that aren't
	// already buffered by the OS.
	PollReadable() (readable bool, err error)
}

// PoolSettings is the subset of pool-wide configuration a Connection
// needs to make framing and drain decisions; it mirrors pool.settings().
type PoolSettings struct {
	MaxResponseHeadersLength int64
	MaxResponseDrainSize     int64
	Expect100ContinueTimeout time.Duration
}

// PoolKind identifies what a connection is tunneling through, matching
// pool.kind().
type PoolKind int

const (
	KindDirect PoolKind = iota
	KindProxy
	KindProxyTunnel
)

// Pool is the connection pool that creates connections, hands them
// out, accepts them back, and decides when to scavenge. The core only
// ever calls the five methods below.
type Pool interface {
	// Invalidate tells the pool this connection must never be reused
	// again; the pool is responsible for dropping its bookkeeping.
	Invalidate(c *Connection)

	// ReturnConnection hands an idle, reusable connection back.
	ReturnConnection(c *Connection)

	// Settings returns the pool-wide limits a Connection must respect.
	Settings() PoolSettings

	// HostHeaderBytes returns the Host header value the pool wants
	// written for this connection's target, or nil to let the
	// Connection derive it from the request URL.
	HostHeaderBytes() []byte

	// Kind reports what this connection tunnels through.
	Kind() PoolKind
}

// deadlineTransport is implemented by net.Conn-backed transports so the
// liveness poll (readahead.go) can set a zero-length read deadline
// without the Connection needing to know it's TCP specifically.
type deadlineTransport interface {
	SetReadDeadline(t time.Time) error
}

var _ deadlineTransport = (net.Conn)(nil)
