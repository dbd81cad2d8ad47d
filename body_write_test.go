package h1conn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentLengthWriter_FinishFailsOnUnderrun(t *testing.T) {
	buf := NewBuffer(newMemTransport(""), 64)
	w := &contentLengthWriter{buf: buf, want: 5}

	_, err := w.Write([]byte("ab"))
	require.NoError(t, err)

	err = w.Finish()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errBodyUnderrun, e.Cause)
}

func TestContentLengthWriter_OverrunIsRejected(t *testing.T) {
	buf := NewBuffer(newMemTransport(""), 64)
	w := &contentLengthWriter{buf: buf, want: 1}

	_, err := w.Write([]byte("ab"))
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidRequestChar, e.Kind)
}

func TestChunkedWriter_WriteAndFinishProduceValidFraming(t *testing.T) {
	tr := newMemTransport("")
	buf := NewBuffer(tr, 64)
	w := &chunkedWriter{buf: buf}

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())
	require.NoError(t, buf.Flush())

	assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", tr.w.String())
}

func TestChunkedWriter_EmptyWriteIsNoOp(t *testing.T) {
	buf := NewBuffer(newMemTransport(""), 64)
	w := &chunkedWriter{buf: buf}

	n, err := w.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, buf.writeOff)
}

func TestCopyBody_ContentLengthVariant(t *testing.T) {
	tr := newMemTransport("")
	buf := NewBuffer(tr, 64)
	w := &contentLengthWriter{buf: buf, want: 5}

	require.NoError(t, copyBody(buf, w, strings.NewReader("hello")))
	require.NoError(t, buf.Flush())

	assert.Equal(t, "hello", tr.w.String())
}

func TestCopyBody_ChunkedVariant(t *testing.T) {
	tr := newMemTransport("")
	buf := NewBuffer(tr, 64)
	w := &chunkedWriter{buf: buf}

	require.NoError(t, copyBody(buf, w, strings.NewReader("hi")))
	require.NoError(t, buf.Flush())

	assert.Equal(t, "2\r\nhi\r\n0\r\n\r\n", tr.w.String())
}
