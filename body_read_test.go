package h1conn

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/h1conn/hdr"
)

func TestEmptyBody_AlwaysEOF(t *testing.T) {
	var b emptyBody
	n, err := b.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, b.Close())
}

func TestContentLengthBody_ReadsExactlyDeclaredLength(t *testing.T) {
	buf := NewBuffer(newMemTransport("hello"), 16)
	var drained bool
	body := &contentLengthBody{buf: buf, remaining: 5, onDone: func(fullyDrained bool, _ error) { drained = fullyDrained }}

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, body.Close())
	assert.True(t, drained)
}

func TestContentLengthBody_ShortReadIsPrematureEOF(t *testing.T) {
	buf := NewBuffer(newMemTransport("hi"), 16)
	body := &contentLengthBody{buf: buf, remaining: 5}

	_, err := io.ReadAll(body)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindPrematureEOF, e.Kind)
}

func TestContentLengthBody_CloseBeforeFullyDrainedReportsNotDrained(t *testing.T) {
	buf := NewBuffer(newMemTransport("hello"), 16)
	var drained bool
	var called bool
	body := &contentLengthBody{buf: buf, remaining: 5, onDone: func(fullyDrained bool, _ error) {
		called = true
		drained = fullyDrained
	}}

	one := make([]byte, 1)
	_, err := body.Read(one)
	require.NoError(t, err)

	require.NoError(t, body.Close())
	assert.True(t, called)
	assert.False(t, drained)
}

func TestUntilCloseBody_EOFTriggersOnDoneOnce(t *testing.T) {
	buf := NewBuffer(newMemTransport("abc"), 16)
	calls := 0
	body := &untilCloseBody{buf: buf, onDone: func(error) { calls++ }}

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, 1, calls)

	require.NoError(t, body.Close())
	assert.Equal(t, 1, calls) // Close after EOF must not double-fire onDone
}

func TestRawTunnel_ReadWriteAndClose(t *testing.T) {
	tr := newMemTransport("payload")
	buf := NewBuffer(tr, 16)
	var closed bool
	tunnel := &RawTunnel{buf: buf, tr: tr, onClose: func() { closed = true }}

	got := make([]byte, len("payload"))
	_, err := io.ReadFull(tunnel, got)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = tunnel.Write([]byte("reply"))
	require.NoError(t, err)
	assert.Equal(t, "reply", tr.w.String())

	require.NoError(t, tunnel.Close())
	assert.True(t, closed)
}

func TestChunkedBody_ReadsAllChunksAndTrailer(t *testing.T) {
	data := "5\r\nhello\r\n0\r\nX-Trailer: ok\r\n\r\n"
	buf := NewBuffer(newMemTransport(data), 64)
	var trailer hdr.Header
	body := newChunkedBody(buf, NewConfig(), func(tr hdr.Header, _ error) { trailer = tr })

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, []string{"ok"}, trailer["X-Trailer"])
}
