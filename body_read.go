package h1conn

import (
	"io"

	"github.com/indigo-web/chunkedbody"

	"github.com/badu/h1conn/hdr"
)

// emptyBody never touches the wire: EOF on the first Read.
type emptyBody struct{}

func (emptyBody) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyBody) Close() error             { return nil }

// contentLengthBody reads exactly n bytes; a short read is
// premature-eof. onDone reports whether the stream was drained to
// completion, which the state machine needs to decide reuse-safety:
// the caller must fully drain the body or the connection becomes
// non-reusable.
type contentLengthBody struct {
	buf       *Buffer
	remaining int64
	onDone    func(fullyDrained bool, err error)
	closed    bool
}

func (b *contentLengthBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.buf.ReadInto(p)
	b.remaining -= int64(n)
	if err == io.EOF {
		if b.remaining > 0 {
			return n, newError(KindPrematureEOF, io.ErrUnexpectedEOF, false)
		}
		err = nil
	}
	if b.remaining == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

func (b *contentLengthBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.onDone != nil {
		b.onDone(b.remaining == 0, nil)
	}
	return nil
}

// untilCloseBody reads until transport EOF, which is success, and
// sets connection_close via onDone.
type untilCloseBody struct {
	buf    *Buffer
	onDone func(err error)
	closed bool
}

func (b *untilCloseBody) Read(p []byte) (int, error) {
	n, err := b.buf.ReadInto(p)
	if err == io.EOF {
		if b.onDone != nil && !b.closed {
			b.closed = true
			b.onDone(nil)
		}
		return n, io.EOF
	}
	return n, err
}

func (b *untilCloseBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.onDone != nil {
		b.onDone(nil)
	}
	return nil
}

// RawTunnel carries opaque bidirectional bytes, terminating only on
// Close. Selecting this variant always implies connection_close - the
// pool never sees this connection again, so onClose is the
// detach-from-pool hook.
type RawTunnel struct {
	buf     *Buffer
	tr      Transport
	onClose func()
	closed  bool
}

func (t *RawTunnel) Read(p []byte) (int, error)  { return t.buf.ReadInto(p) }
func (t *RawTunnel) Write(p []byte) (int, error) { return t.tr.Write(p) }

func (t *RawTunnel) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.onClose != nil {
		t.onClose()
	}
	return t.tr.Close()
}

// chunkedBody reads a chunked-encoded body on top of
// github.com/indigo-web/chunkedbody: the hex-length/CRLF chunk framing
// state machine is the library's job. hasTrailer is always passed as
// true so the library stops right after the terminal "0\r\n" instead
// of guessing at trailer syntax itself; the trailer header block (zero
// or more lines, NonTrailing-filtered) is then parsed by this core's
// own header-block logic, which already knows how to apply descriptor
// categories.
type chunkedBody struct {
	buf     *Buffer
	cfg     *Config
	parser  *chunkedbody.Parser
	pending []byte
	done    bool
	scanned int64
	trailer hdr.Header
	onDone  func(trailer hdr.Header, err error)
	closed  bool
}

func newChunkedBody(buf *Buffer, cfg *Config, onDone func(hdr.Header, error)) *chunkedBody {
	return &chunkedBody{
		buf:    buf,
		cfg:    cfg,
		parser: chunkedbody.NewParser(chunkedbody.DefaultSettings()),
		onDone: onDone,
	}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	for len(c.pending) == 0 && !c.done {
		if err := c.advance(); err != nil {
			return 0, err
		}
	}
	if len(c.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *chunkedBody) advance() error {
	data := c.buf.Buffered()
	if len(data) == 0 {
		if err := c.buf.Fill(); err != nil {
			c.fail(err)
			return err
		}
		data = c.buf.Buffered()
	}

	chunk, extra, err := c.parser.Parse(data, true)
	c.buf.Discard(len(data))
	if len(extra) > 0 {
		c.buf.Unread(extra)
	}

	switch err {
	case nil:
		c.pending = append(c.pending, chunk...)
		return nil
	case io.EOF:
		c.pending = append(c.pending, chunk...)
		trailer, terr := parseTrailerBlock(c.buf, c.cfg, &c.scanned)
		c.done = true
		if terr != nil {
			c.fail(terr)
			return terr
		}
		c.trailer = trailer
		if c.onDone != nil {
			c.onDone(trailer, nil)
		}
		return nil
	default:
		wrapped := newError(KindChunkTooLarge, err, false)
		c.fail(wrapped)
		return wrapped
	}
}

func (c *chunkedBody) fail(err error) {
	c.done = true
	if c.onDone != nil && !c.closed {
		c.closed = true
		c.onDone(nil, err)
	}
}

func (c *chunkedBody) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.onDone != nil {
		var err error
		if !c.done {
			err = newError(KindPrematureEOF, io.ErrUnexpectedEOF, false)
		}
		c.onDone(c.trailer, err)
	}
	return nil
}
