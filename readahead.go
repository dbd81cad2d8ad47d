package h1conn

import (
	"io"
	"sync/atomic"
	"time"
)

// aLongTimeAgo is a non-zero time far in the past: setting a read
// deadline to this value forces an in-flight or future Read to return
// immediately, the same "probe without blocking" trick net/http's
// persistConn relies on for idle liveness checks.
var aLongTimeAgo = time.Unix(1, 0)

// pendingRead is the outcome of a read-ahead probe: how many bytes (0
// or 1) landed in the read buffer, and whether the probe observed an
// error (including a timeout, which is not itself fatal).
type pendingRead struct {
	n   int
	err error
}

// ReadAhead holds at most one pending read operation, stored in a
// slot guarded by a single-writer CAS flag instead of a mutex and
// condition variable.
type ReadAhead struct {
	buf  *Buffer
	tr   Transport
	slot atomic.Bool // true while a result is stored and unconsumed
	res  pendingRead
}

func NewReadAhead(buf *Buffer, tr Transport) *ReadAhead {
	return &ReadAhead{buf: buf, tr: tr}
}

// store publishes a probe result into the slot. Only meaningful to
// call when nothing is already stored (callers own that invariant -
// there is exactly one producer per idle period).
func (r *ReadAhead) store(res pendingRead) {
	r.res = res
	r.slot.Store(true)
}

// Consume atomically takes and clears the slot. A consumer that loses
// a race to another (concurrent) caller simply sees ok=false and falls
// back to its own fresh read; the slot is already-consumed as far as
// it's concerned.
func (r *ReadAhead) Consume() (pendingRead, bool) {
	if !r.slot.CompareAndSwap(true, false) {
		return pendingRead{}, false
	}
	return r.res, true
}

// probeDeadline issues a non-blocking read into dst by setting the
// transport's read deadline to a moment in the past, then restores no
// deadline. Transports that don't support deadlines (no
// deadlineTransport) always report "nothing read, no error" - callers
// fall back to treating the connection as live and let the real
// request's AwaitingResponse step surface any problem.
func probeDeadline(tr Transport, dst []byte) pendingRead {
	dl, ok := tr.(deadlineTransport)
	if !ok {
		return pendingRead{}
	}
	_ = dl.SetReadDeadline(aLongTimeAgo)
	n, err := tr.Read(dst)
	_ = dl.SetReadDeadline(time.Time{})
	if err != nil && isTimeout(err) {
		err = nil
	}
	return pendingRead{n: n, err: err}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

// CheckBeforeAcquire runs before handing an idle connection to a new
// request: it fast-path rejects the connection if the transport
// already has unsolicited data buffered or is closed. ok is false when
// the connection must be rejected (and, per the pool contract,
// invalidated rather than reused).
func (r *ReadAhead) CheckBeforeAcquire() (ok bool, err error) {
	if p, supports := r.tr.(Pollable); supports {
		readable, perr := p.PollReadable()
		if perr != nil {
			return false, newError(KindIO, perr, false)
		}
		if readable {
			return false, nil
		}
		return true, nil
	}

	var one [1]byte
	res := probeDeadline(r.tr, one[:])
	if res.err != nil && res.err != io.EOF {
		return false, newError(KindIO, res.err, false)
	}
	if res.n > 0 || res.err == io.EOF {
		return false, nil
	}
	return true, nil
}

// CheckOnScavenge probes an idle connection with a zero-byte write
// followed by a one-byte read into the read buffer. A read that
// returns zero bytes and no error is fine (still idle); a write or
// read error, or EOF, means the connection is dead. A genuinely read
// byte does not mark the connection dead: it is stashed in the slot
// for the next request's AwaitingResponse step to consume as its
// initial fill.
func (r *ReadAhead) CheckOnScavenge() (alive bool) {
	if _, err := r.tr.Write(nil); err != nil {
		return false
	}

	var one [1]byte
	res := probeDeadline(r.tr, one[:])
	if res.err != nil && res.err != io.EOF {
		return false
	}
	if res.err == io.EOF {
		return false
	}
	if res.n == 0 {
		return true
	}

	copy(r.buf.read[:1], one[:1])
	if r.buf.readOff != r.buf.readLen {
		// buffer wasn't actually empty as the scavenge contract
		// requires; fold the byte onto the front defensively.
		r.buf.Unread(one[:1])
	} else {
		r.buf.readOff = 0
		r.buf.readLen = 1
	}
	r.store(pendingRead{n: 1})
	return true
}
