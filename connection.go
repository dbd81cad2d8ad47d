package h1conn

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/badu/h1conn/hdr"
	"github.com/badu/h1conn/trace"
)

// State names the connection's position in the Idle -> Acquiring ->
// Sending -> AwaitingResponse -> Receiving -> BodyReading -> {Idle,
// Disposed} state machine.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateSending
	StateAwaitingResponse
	StateReceiving
	StateBodyReading
	StateDisposed
)

var connSeq atomic.Uint64

// Connection owns one transport stream, the Buffer wrapping it, and
// the flag set describing whether it can be handed back to the pool
// once the current exchange finishes. The orchestration shape follows
// a persistent-connection state machine rather than a
// goroutine-per-phase pipeline.
type Connection struct {
	id   string
	buf  *Buffer
	tr   Transport
	pool Pool
	cfg  *Config
	ra   *ReadAhead

	mu                 sync.Mutex
	state              State
	inUse              bool
	detachedFromPool   bool
	connectionClose    bool
	startedSendingBody bool
	canRetry           bool
	currentRequest     *Request
	lastIdleAt         time.Time

	pendingGate *expectGate
	pendingSend chan error

	trace *trace.Trace
}

// NewConnection builds a Connection with the production default
// buffer size.
func NewConnection(tr Transport, pool Pool, cfg *Config) *Connection {
	return newConnection(tr, pool, cfg, DefaultBufferSize)
}

// NewConnectionForTest takes an explicit buffer size so tests can
// stress the growth/split paths without adding a knob to the
// production constructor.
func NewConnectionForTest(tr Transport, pool Pool, cfg *Config, bufSize int) *Connection {
	return newConnection(tr, pool, cfg, bufSize)
}

func newConnection(tr Transport, pool Pool, cfg *Config, bufSize int) *Connection {
	if cfg == nil {
		cfg = NewConfig()
	}
	buf := NewBuffer(tr, bufSize)
	c := &Connection{
		id:         connID(),
		buf:        buf,
		tr:         tr,
		pool:       pool,
		cfg:        cfg,
		lastIdleAt: timeNow(),
	}
	c.ra = NewReadAhead(buf, tr)
	return c
}

func connID() string {
	n := connSeq.Add(1)
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if i == len(buf) {
		i--
		buf[i] = '0'
	}
	return string(buf[i:])
}

// timeNow funnels every timestamp read through one place; there is no
// monotonic-clock trickery, just time.Now.
func timeNow() time.Time { return time.Now() }

// SetTrace installs optional hooks (h1conn/trace) for observing one
// request/response exchange.
func (c *Connection) SetTrace(t *trace.Trace) { c.trace = t }

func (c *Connection) ID() string { return c.id }

// --- pool-facing contract ----------------------------------------------

var errAcquireWhileBusy = bodyLengthError("h1conn: acquire called on a connection with a request already in flight")

// Acquire claims exclusive ownership of the connection for one
// exchange. It fails if a request is already in flight, the
// connection has been disposed, or the read buffer still holds
// unconsumed bytes from a previous exchange.
func (c *Connection) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return newError(KindIO, io.ErrClosedPipe, false)
	}
	if c.currentRequest != nil || c.buf.HasUnread() {
		return newError(KindIO, errAcquireWhileBusy, false)
	}
	c.inUse = true
	c.state = StateAcquiring
	return nil
}

// Release hands the connection back to the idle/disposed path once
// the caller no longer needs to hold it directly - most callers don't
// need this, since RoundTrip already releases on completion, but it
// matters for a caller that acquired, then errored out before
// RoundTrip ever started.
func (c *Connection) Release() {
	c.mu.Lock()
	c.inUse = false
	done := c.currentRequest == nil
	c.mu.Unlock()
	if done {
		c.returnOrDispose()
	}
}

// Detach marks the connection as no longer owned by the pool - used
// once BodyReading selects the RawTunnel variant.
func (c *Connection) Detach() {
	c.mu.Lock()
	c.detachedFromPool = true
	c.mu.Unlock()
}

// CheckUsabilityOnScavenge is the pool's periodic liveness check on an
// idle connection, delegated to the read-ahead prober.
func (c *Connection) CheckUsabilityOnScavenge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse || c.currentRequest != nil {
		return true
	}
	return c.ra.CheckOnScavenge()
}

// PrepareForReuse is the pool's pre-acquire fast path: reject a
// connection the peer has already half-closed before handing it to a
// new request.
func (c *Connection) PrepareForReuse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.ra.CheckBeforeAcquire()
	return ok && err == nil
}

// IdleTicks reports how long the connection has sat idle, for the
// pool's own scavenge-interval bookkeeping. Returns 0 while the
// connection is in use.
func (c *Connection) IdleTicks(now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse || c.currentRequest != nil {
		return 0
	}
	return int64(now.Sub(c.lastIdleAt))
}

func (c *Connection) returnOrDispose() {
	c.mu.Lock()
	mustClose := c.connectionClose
	detached := c.detachedFromPool
	c.mu.Unlock()
	if mustClose || detached {
		c.dispose(false)
		return
	}
	c.mu.Lock()
	c.state = StateIdle
	c.lastIdleAt = timeNow()
	c.mu.Unlock()
	if c.trace != nil && c.trace.PutIdleConn != nil {
		c.trace.PutIdleConn(nil)
	}
	if c.pool != nil {
		c.pool.ReturnConnection(c)
	}
}

// dispose closes the transport (unblocking any pending read/write),
// drains the read-ahead slot, and tells the pool this connection is
// gone for good.
func (c *Connection) dispose(_ bool) {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	c.connectionClose = true
	c.mu.Unlock()

	_ = c.tr.Close()
	c.ra.Consume()

	if c.trace != nil && c.trace.PutIdleConn != nil {
		c.trace.PutIdleConn(ErrCancelled)
	}
	if c.pool != nil {
		c.pool.Invalidate(c)
	}
}

// --- the main exchange ---------------------------------------------------

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (b *boolFlag) set()      { b.mu.Lock(); b.v = true; b.mu.Unlock() }
func (b *boolFlag) get() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// remapIfCancelled rewrites err to KindCancelled when the exchange's
// single cancellation source fired, so callers see one coherent
// reason instead of a transport error that happened to result from
// this connection's own Close call.
func remapIfCancelled(err error, cancelled *boolFlag) error {
	if err == nil || !cancelled.get() {
		return err
	}
	if e, ok := err.(*Error); ok {
		if e.Kind == KindCancelled {
			return err
		}
		return newError(KindCancelled, e.Cause, false)
	}
	return newError(KindCancelled, err, false)
}

// RoundTrip drives one request through Send, AwaitingResponse,
// Receiving, and BodyReading, returning a Response whose Body is one
// of the body-read variants. ctx governs cancellation for the
// header-send-through-final-status span; once a body is handed back,
// the body's own Close/Read calls are what matters - this is the
// single cancellation source the body stream inherits, not a second
// independent one.
func (c *Connection) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.currentRequest != nil {
		c.mu.Unlock()
		return nil, newError(KindIO, errAcquireWhileBusy, false)
	}
	c.currentRequest = req
	c.canRetry = true
	c.startedSendingBody = false
	c.state = StateSending
	c.mu.Unlock()

	cancelCh := make(chan struct{})
	var cancelled boolFlag
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelled.set()
			close(cancelCh)
			c.dispose(true)
		case <-watchDone:
		}
	}()

	resp, err := c.roundTripLocked(req, cancelCh)
	close(watchDone)
	err = remapIfCancelled(err, &cancelled)

	if c.trace != nil && c.trace.WroteRequest != nil {
		c.trace.WroteRequest(err)
	}

	if err != nil {
		c.mu.Lock()
		c.currentRequest = nil
		c.mu.Unlock()
		return nil, err
	}
	return resp, nil
}

func (c *Connection) roundTripLocked(req *Request, cancelCh chan struct{}) (*Response, error) {
	if c.trace != nil && c.trace.GotConn != nil {
		c.trace.GotConn(c.id)
	}

	if err := c.send(req, cancelCh); err != nil {
		c.dispose(false)
		return nil, err
	}

	resp, err := c.awaitAndReceive(req)
	if err != nil {
		c.dispose(false)
		return nil, err
	}

	if err := c.attachBody(req, resp); err != nil {
		c.dispose(false)
		return nil, err
	}

	return resp, nil
}

// send writes the request line, Host header, header block, and -
// unless the request declares Expect: 100-continue - the body, onto
// the wire.
func (c *Connection) send(req *Request, cancelCh chan struct{}) error {
	if err := req.serializeHeader(c.buf, c.pool, c.cfg); err != nil {
		return err
	}

	if req.Body == nil {
		if err := c.buf.Flush(); err != nil {
			return err
		}
		if c.trace != nil && c.trace.WroteHeaders != nil {
			c.trace.WroteHeaders()
		}
		return nil
	}

	if err := c.buf.Flush(); err != nil {
		return err
	}
	if c.trace != nil && c.trace.WroteHeaders != nil {
		c.trace.WroteHeaders()
	}

	if !req.expectsContinue() {
		return c.sendBody(req)
	}

	return c.sendBodyGated(req, cancelCh)
}

// sendBodyGated implements the Expect:100-continue one-shot gate: the
// body send task waits on the gate, which is resolved either by the
// receiver seeing a "100 Continue" / final status, or by the timeout
// timer flipping it to "send" first.
func (c *Connection) sendBodyGated(req *Request, cancelCh chan struct{}) error {
	if c.trace != nil && c.trace.Wait100Continue != nil {
		c.trace.Wait100Continue()
	}

	gate := newExpectGate()
	armExpireTimer(gate, c.cfg.expect100Timeout())
	c.pendingGate = gate

	sendDone := make(chan error, 1)
	go func() {
		send, gateCancelled := gate.wait(cancelCh)
		switch {
		case gateCancelled:
			sendDone <- newError(KindCancelled, nil, false)
		case !send:
			sendDone <- nil
		default:
			sendDone <- c.sendBody(req)
		}
	}()
	c.pendingSend = sendDone
	return nil
}

func (c *Connection) sendBody(req *Request) error {
	c.mu.Lock()
	c.startedSendingBody = true
	c.canRetry = false
	c.mu.Unlock()

	var w bodyWriter
	if req.ContentLength >= 0 {
		w = &contentLengthWriter{buf: c.buf, want: req.ContentLength}
	} else {
		w = &chunkedWriter{buf: c.buf}
	}
	if err := copyBody(c.buf, w, req.Body); err != nil {
		return err
	}
	if len(req.Trailer) > 0 {
		if err := writeTrailerBlock(c.buf, req.Trailer, c.cfg); err != nil {
			return err
		}
	}
	return c.buf.Flush()
}

func writeTrailerBlock(buf *Buffer, trailer hdr.Header, cfg *Config) error {
	for key, values := range trailer {
		d := hdr.Lookup(key)
		if err := writeHeaderLine(buf, key, d.JoinValues(values), cfg); err != nil {
			return err
		}
	}
	return buf.WriteBytes(crlf)
}

// awaitAndReceive consumes any pending read-ahead result before
// issuing a fresh read, then hands off to receive once at least one
// byte of the response is known to be available.
func (c *Connection) awaitAndReceive(req *Request) (*Response, error) {
	c.mu.Lock()
	c.state = StateAwaitingResponse
	c.mu.Unlock()

	if pending, ok := c.ra.Consume(); ok {
		if pending.err != nil || pending.n == 0 {
			c.canRetryOnPremature()
			return nil, newError(KindPrematureEOF, pending.err, c.canRetry)
		}
	} else {
		n, err := c.buf.InitialFill()
		if err != nil {
			c.canRetryOnPremature()
			return nil, err
		}
		if n == 0 {
			c.canRetryOnPremature()
			return nil, newError(KindPrematureEOF, io.EOF, c.canRetry)
		}
	}

	c.mu.Lock()
	c.state = StateReceiving
	c.mu.Unlock()

	return c.receive(req)
}

func (c *Connection) canRetryOnPremature() {
	c.mu.Lock()
	c.canRetry = !c.startedSendingBody
	c.mu.Unlock()
}

// receive reads the status line, any 1xx informational responses
// (resolving the Expect:100-continue gate as soon as one arrives),
// and the final header block.
func (c *Connection) receive(req *Request) (*Response, error) {
	var scanned int64
	var major, minor, status int
	var reason string

	if c.trace != nil && c.trace.GotFirstResponseByte != nil {
		c.trace.GotFirstResponseByte()
	}

	for {
		line, err := c.buf.ReadLine(int(c.cfg.maxHeadersLength()), true, KindHeadersTooLarge)
		if err != nil {
			return nil, err
		}
		scanned += int64(len(line)) + 2
		major, minor, status, reason, err = parseStatusLine(line, c.cfg)
		if err != nil {
			return nil, err
		}

		if status < 100 || status > 199 {
			break
		}
		if status == 101 {
			break
		}

		if status == 100 && c.pendingGate != nil {
			c.pendingGate.resolve(true)
			if c.trace != nil && c.trace.Got100Continue != nil {
				c.trace.Got100Continue()
			}
		}

		if _, _, err := parseHeaderBlock(c.buf, c.cfg, &scanned); err != nil {
			return nil, err
		}
	}

	headers, content, err := parseHeaderBlock(c.buf, c.cfg, &scanned)
	if err != nil {
		return nil, err
	}

	if c.pendingGate != nil {
		c.finalizeExpectGate(status, req)
		if err := c.waitSendCompletion(); err != nil {
			return nil, err
		}
	}

	applySuppressedHeaders(headers, status)

	resp := &Response{
		StatusCode:              status,
		Reason:                  reason,
		ProtoMajor:              major,
		ProtoMinor:              minor,
		Header:                  headers,
		AddedAcceptEncodingGzip: req.addedGzipHint,
	}

	cl, clErr := fixContentLength(content[hdr.ContentLength])
	if clErr != nil {
		return nil, clErr
	}
	resp.ContentLength = cl
	resp.Chunked = isChunked(headers[hdr.TransferEncoding])

	if req.Close || shouldCloseAfterResponse(major, minor, headers[hdr.Connection]) {
		c.mu.Lock()
		c.connectionClose = true
		c.mu.Unlock()
	}

	if c.cfg.UseCookies && c.cfg.CookieJar != nil && req.URL != nil {
		if sc := headers[hdr.SetCookieHeader]; len(sc) > 0 {
			c.cfg.CookieJar.SetCookies(req.URL, sc)
		}
	}

	return resp, nil
}

// finalizeExpectGate decides whether a body send gated on Expect:
// 100-continue should still go out, once the final status is known: a
// final status of 300 or above with an unknown or large declared body
// means the caller almost certainly doesn't want the body sent at all
// (RFC 7231 §5.1.1), except for an auth challenge, which legitimately
// expects the client to retry with the same body.
func (c *Connection) finalizeExpectGate(status int, req *Request) {
	if c.pendingGate.resolved.Load() {
		return
	}
	unknownOrLarge := req.ContentLength < 0 || req.ContentLength > expect100Threshold
	isAuthChallenge := status == 401 || status == 407
	if status >= 300 && unknownOrLarge && !isAuthChallenge {
		c.pendingGate.resolve(false)
		c.mu.Lock()
		c.connectionClose = true
		c.mu.Unlock()
		return
	}
	c.pendingGate.resolve(true)
}

func (c *Connection) waitSendCompletion() error {
	if c.pendingSend == nil {
		return nil
	}
	err := <-c.pendingSend
	c.pendingGate = nil
	c.pendingSend = nil
	if err != nil {
		c.cfg.logger().Printf("h1conn: %s: body send task error: %v", c.id, err)
	}
	return nil
}

// attachBody selects one of the body-read variants for resp and wires
// its completion callback back into connection-reuse bookkeeping.
func (c *Connection) attachBody(req *Request, resp *Response) error {
	c.mu.Lock()
	c.state = StateBodyReading
	c.mu.Unlock()

	variant, consultHeaders := resolveBodyVariant(req.Method, resp.StatusCode)
	if consultHeaders {
		switch {
		case resp.Chunked:
			variant = VariantChunked
		case resp.ContentLength > 0:
			variant = VariantContentLength
		case resp.ContentLength == 0:
			variant = VariantEmpty
		default:
			variant = VariantUntilClose
		}
	}

	switch variant {
	case VariantEmpty:
		resp.Body = emptyBody{}
		c.completeResponse(true)

	case VariantContentLength:
		var swap *bufferSwap
		if resp.ContentLength >= largeBufThreshold {
			swap = c.buf.borrowLarger()
		}
		resp.Body = &contentLengthBody{
			buf:       c.buf,
			remaining: resp.ContentLength,
			onDone: func(fullyDrained bool, _ error) {
				if swap != nil {
					c.buf.restore(swap)
				}
				c.completeResponse(fullyDrained)
			},
		}

	case VariantChunked:
		resp.Body = newChunkedBody(c.buf, c.cfg, func(trailer hdr.Header, err error) {
			resp.Trailer = trailer
			c.completeResponse(err == nil)
		})

	case VariantUntilClose:
		resp.Body = &untilCloseBody{buf: c.buf, onDone: func(error) {
			c.mu.Lock()
			c.connectionClose = true
			c.mu.Unlock()
			c.completeResponse(true)
		}}

	case VariantRawTunnel:
		c.Detach()
		c.mu.Lock()
		c.connectionClose = true
		c.mu.Unlock()
		resp.Body = &RawTunnel{buf: c.buf, tr: c.tr, onClose: func() { c.completeResponse(true) }}
	}

	return nil
}

// completeResponse runs once a body stream reports it is done (fully
// drained or not): a partially-drained body or leftover unread bytes
// force connection_close, since the stream framing boundary can no
// longer be trusted for a next request.
func (c *Connection) completeResponse(fullyDrained bool) {
	c.mu.Lock()
	if !fullyDrained || c.buf.HasUnread() {
		c.connectionClose = true
	}
	c.currentRequest = nil
	inUse := c.inUse
	c.mu.Unlock()

	if !inUse {
		c.returnOrDispose()
	}
}

// Drain consumes up to the configured drain limit from an abandoned
// response body so the connection can be salvaged for reuse; exceeding
// the limit or hitting a read error forces connection_close instead.
func (c *Connection) Drain(body io.Reader) error {
	limit := c.cfg.maxDrainSize()
	var copied int64
	tmp := make([]byte, DefaultBufferSize)
	for copied < limit {
		n, err := body.Read(tmp)
		copied += int64(n)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			c.mu.Lock()
			c.connectionClose = true
			c.mu.Unlock()
			return newError(KindIO, err, false)
		}
	}
	c.mu.Lock()
	c.connectionClose = true
	c.mu.Unlock()
	return newError(KindAuthConnectionFailure, nil, false)
}

// CanRetry reports whether the most recent exchange may safely be
// retried against a fresh connection - true only while no request
// body byte has reached the transport.
func (c *Connection) CanRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRetry
}

// ConnectionClose reports the sticky connection_close flag.
func (c *Connection) ConnectionClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionClose
}
