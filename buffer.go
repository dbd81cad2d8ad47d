package h1conn

import (
	"io"
	"strconv"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/indigo-web/utils/uf"
)

// largeBufPool backs the read-buffer swap "Buffer growth vs.
// pooling" describes: a pool-rented larger buffer is borrowed for a
// large Content-Length body copy and unconditionally restored.
var largeBufPool = sync.Pool{
	New: func() any { return make([]byte, 64*1024) },
}

const largeBufThreshold = 64 * 1024

// bufferSwap is the restore token returned by Buffer.borrowLarger; its
// only job is to let Connection unconditionally (defer) undo the swap
// regardless of how the body copy ended.
type bufferSwap struct {
	orig []byte
}

// Buffer owns the read and write byte buffers for exactly one
// Connection and is never shared. It follows a single-pending-read
// discipline and line-oriented reading over an explicit, growable
// byte slice.
type Buffer struct {
	tr Transport

	read    []byte
	readOff int
	readLen int

	write    []byte
	writeOff int
}

// NewBuffer allocates a Buffer with size-byte read and write halves.
func NewBuffer(tr Transport, size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{
		tr:    tr,
		read:  make([]byte, size),
		write: make([]byte, size),
	}
}

// HasUnread reports whether the read buffer still holds unconsumed
// bytes - used by the state machine to decide reuse-safety.
func (b *Buffer) HasUnread() bool { return b.readOff < b.readLen }

// ResetWrite truncates the write buffer back to empty without flushing
// - used after a flush error to avoid re-sending stale bytes.
func (b *Buffer) ResetWrite() { b.writeOff = 0 }

// --- write side -------------------------------------------------------

// Flush writes [0, writeOff) to the transport and resets the offset.
func (b *Buffer) Flush() error {
	if b.writeOff == 0 {
		return nil
	}
	_, err := b.tr.Write(b.write[:b.writeOff])
	b.writeOff = 0
	if err != nil {
		return newError(KindIO, err, false)
	}
	return nil
}

// WriteBytes appends bs to the write buffer if it fits; otherwise it
// flushes first, then either writes bs straight to the transport (when
// bs alone is at least as large as the buffer) or copies it into the
// now-empty buffer.
func (b *Buffer) WriteBytes(bs []byte) error {
	if b.writeOff+len(bs) <= len(b.write) {
		copy(b.write[b.writeOff:], bs)
		b.writeOff += len(bs)
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	if len(bs) >= len(b.write) {
		if _, err := b.tr.Write(bs); err != nil {
			return newError(KindIO, err, false)
		}
		return nil
	}
	copy(b.write, bs)
	b.writeOff = len(bs)
	return nil
}

func (b *Buffer) WriteByte(c byte) error {
	var tmp [1]byte
	tmp[0] = c
	return b.WriteBytes(tmp[:])
}

func (b *Buffer) WriteTwoBytes(c1, c2 byte) error {
	var tmp [2]byte
	tmp[0], tmp[1] = c1, c2
	return b.WriteBytes(tmp[:])
}

// WriteASCII rejects any byte ≥ 0x80 with invalid-request-char.
func (b *Buffer) WriteASCII(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return newError(KindInvalidRequestChar, nil, false)
		}
	}
	return b.WriteBytes(uf.S2B(s))
}

// WriteStringEncoded writes s using enc when non-nil, falling back to
// the ASCII-only rule otherwise. enc is the caller-configurable
// per-header value encoder allows.
func (b *Buffer) WriteStringEncoded(s string, enc encoding.Encoding) error {
	if enc == nil {
		return b.WriteASCII(s)
	}
	encoded, err := enc.NewEncoder().Bytes(uf.S2B(s))
	if err != nil {
		return newError(KindInvalidRequestChar, err, false)
	}
	return b.WriteBytes(encoded)
}

// WriteDecimal appends the base-10 digits of i.
func (b *Buffer) WriteDecimal(i int64) error {
	var tmp [20]byte
	return b.WriteBytes(strconv.AppendInt(tmp[:0], i, 10))
}

// WriteHex appends the lowercase base-16 digits of i, with no leading
// zeroes - the chunk-size line format requires.
func (b *Buffer) WriteHex(i int64) error {
	var tmp [16]byte
	return b.WriteBytes(strconv.AppendInt(tmp[:0], i, 16))
}

// --- read side --------------------------------------------------------

func (b *Buffer) shift() {
	if b.readOff == 0 {
		return
	}
	n := copy(b.read, b.read[b.readOff:b.readLen])
	b.readLen = n
	b.readOff = 0
}

func (b *Buffer) growIfFull() {
	if b.readLen < len(b.read) {
		return
	}
	grown := make([]byte, len(b.read)*2)
	copy(grown, b.read[:b.readLen])
	b.read = grown
}

// Fill appends more bytes into the read buffer, growing it (doubling)
// if full, and shifting any unread residual to offset 0 first. A
// zero-byte result is a fatal premature-eof - the caller always wants
// strictly more data when it calls Fill.
func (b *Buffer) Fill() error {
	b.shift()
	b.growIfFull()
	n, err := b.tr.Read(b.read[b.readLen:])
	b.readLen += n
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return newError(KindPrematureEOF, err, false)
	}
	if err != nil && err != io.EOF {
		return newError(KindIO, err, false)
	}
	return nil
}

// InitialFill is like Fill but tolerates a zero-byte result - it is the
// caller's job to decide
// whether an empty read is fatal.
func (b *Buffer) InitialFill() (int, error) {
	b.shift()
	b.growIfFull()
	n, err := b.tr.Read(b.read[b.readLen:])
	b.readLen += n
	if err != nil && err != io.EOF {
		return n, newError(KindIO, err, false)
	}
	return n, nil
}

// ReadLine scans forward for LF and returns the bytes preceding it,
// stripping an optional trailing CR. When allowFolded is true and the
// byte following LF is SP or HT (RFC 7230 §3.2.4 obsolete folding),
// the CR/LF and the whitespace that starts the continuation line are
// rewritten in place to a single space and scanning continues for
// the real terminator instead of returning. maxBytes bounds the total
// scan distance from the start of the line; exceeding it raises
// tooLarge.
func (b *Buffer) ReadLine(maxBytes int, allowFolded bool, tooLarge Kind) ([]byte, error) {
	start := b.readOff
	scan := start
	for {
		for scan < b.readLen {
			if b.read[scan] != '\n' {
				scan++
				continue
			}
			if allowFolded && scan+1 < b.readLen && isFoldContinuation(b.read[scan+1]) {
				foldStart := scan
				if foldStart > start && b.read[foldStart-1] == '\r' {
					foldStart--
				}
				wsEnd := scan + 1
				for wsEnd < b.readLen && isFoldContinuation(b.read[wsEnd]) {
					wsEnd++
				}
				b.read[foldStart] = ' '
				n := copy(b.read[foldStart+1:], b.read[wsEnd:b.readLen])
				b.readLen = foldStart + 1 + n
				scan = foldStart + 1
				continue
			}
			end := scan
			if end > start && b.read[end-1] == '\r' {
				end--
			}
			line := b.read[start:end]
			b.readOff = scan + 1
			return line, nil
		}
		if scan-start >= maxBytes {
			return nil, newError(tooLarge, nil, false)
		}
		before := start
		if err := b.Fill(); err != nil {
			return nil, err
		}
		// Fill may have shifted the buffer (readOff reset to 0);
		// rebase our in-progress cursor by the same delta.
		delta := before - b.readOff
		start -= delta
		scan -= delta
	}
}

func isFoldContinuation(b byte) bool { return b == ' ' || b == '\t' }

// ReadInto copies up to len(dst) already-buffered bytes; if the read
// buffer is empty it reads directly from the transport instead of
// forcing a Fill.
func (b *Buffer) ReadInto(dst []byte) (int, error) {
	if b.readOff < b.readLen {
		n := copy(dst, b.read[b.readOff:b.readLen])
		b.readOff += n
		return n, nil
	}
	n, err := b.tr.Read(dst)
	if err != nil && err != io.EOF {
		return n, newError(KindIO, err, false)
	}
	return n, err
}

// Buffered returns the currently unread portion of the read buffer
// without consuming it.
func (b *Buffer) Buffered() []byte { return b.read[b.readOff:b.readLen] }

// Discard consumes n already-buffered bytes (n must not exceed
// len(Buffered())).
func (b *Buffer) Discard(n int) { b.readOff += n }

// Unread pushes data back in front of the unread region, so the next
// ReadLine/ReadInto/Buffered sees it before any new transport read -
// used by the chunked body reader to hand back bytes the chunk parser
// didn't consume (its "extra" return value).
func (b *Buffer) Unread(data []byte) {
	if len(data) == 0 {
		return
	}
	if b.readOff >= len(data) {
		copy(b.read[b.readOff-len(data):b.readOff], data)
		b.readOff -= len(data)
		return
	}
	total := len(data) + (b.readLen - b.readOff)
	merged := make([]byte, total, total*2)
	n := copy(merged, data)
	copy(merged[n:], b.read[b.readOff:b.readLen])
	b.read = merged
	b.readOff = 0
	b.readLen = total
}

// borrowLarger swaps the read buffer for a pool-rented one large
// enough for a bulk body copy, carrying over any unread residual.
// restore must be called on every exit path (defer).
func (b *Buffer) borrowLarger() *bufferSwap {
	swap := &bufferSwap{orig: b.read}
	large := largeBufPool.Get().([]byte)
	large = large[:cap(large)]
	n := copy(large, b.read[b.readOff:b.readLen])
	b.read = large
	b.readOff = 0
	b.readLen = n
	return swap
}

func (b *Buffer) restore(swap *bufferSwap) {
	if len(b.read) >= largeBufThreshold {
		largeBufPool.Put(b.read[:0:cap(b.read)])
	}
	b.read = swap.orig
}
