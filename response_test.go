package h1conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusLine_CanonicalReasonSkipsDecode(t *testing.T) {
	major, minor, status, reason, err := parseStatusLine([]byte("HTTP/1.1 200 OK"), NewConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 1, minor)
	assert.Equal(t, 200, status)
	assert.Equal(t, "OK", reason)
}

func TestParseStatusLine_NoReasonPhrase(t *testing.T) {
	_, _, status, reason, err := parseStatusLine([]byte("HTTP/1.0 204"), NewConfig())
	require.NoError(t, err)
	assert.Equal(t, 204, status)
	assert.Equal(t, "", reason)
}

func TestParseStatusLine_CustomReasonPhrase(t *testing.T) {
	_, _, status, reason, err := parseStatusLine([]byte("HTTP/1.1 200 Everything Is Fine"), NewConfig())
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "Everything Is Fine", reason)
}

func TestParseStatusLine_RejectsBadPrefix(t *testing.T) {
	_, _, _, _, err := parseStatusLine([]byte("NOTHTTP 200 OK"), NewConfig())
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidStatusLine, e.Kind)
}

func TestParseStatusLine_RejectsNonDigitStatus(t *testing.T) {
	_, _, _, _, err := parseStatusLine([]byte("HTTP/1.1 2XX OK"), NewConfig())
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidStatusCode, e.Kind)
}

func TestParseHeaderBlock_ParsesUntilEmptyLine(t *testing.T) {
	data := "Content-Type: text/plain\r\nX-Custom: v1\r\nX-Custom: v2\r\n\r\nbody-follows"
	buf := NewBuffer(newMemTransport(data), 256)
	var scanned int64

	headers, content, err := parseHeaderBlock(buf, NewConfig(), &scanned)
	require.NoError(t, err)
	assert.Equal(t, []string{"text/plain"}, headers["Content-Type"])
	assert.Equal(t, []string{"v1", "v2"}, headers["X-Custom"])
	assert.Equal(t, []string{"text/plain"}, content["Content-Type"])
	assert.NotContains(t, content, "X-Custom")

	assert.Equal(t, "body-follows", string(buf.Buffered()))
}

func TestParseHeaderBlock_RequestOnlyHeaderIsDemotedToCustom(t *testing.T) {
	data := "Host: evil.example\r\n\r\n"
	buf := NewBuffer(newMemTransport(data), 256)
	var scanned int64

	headers, content, err := parseHeaderBlock(buf, NewConfig(), &scanned)
	require.NoError(t, err)
	assert.Equal(t, []string{"evil.example"}, headers["Host"])
	assert.NotContains(t, content, "Host")
}

func TestParseTrailerBlock_DropsNonTrailingHeaders(t *testing.T) {
	data := "Content-Length: 10\r\nX-Meta: ok\r\n\r\n"
	buf := NewBuffer(newMemTransport(data), 256)
	var scanned int64

	trailer, err := parseTrailerBlock(buf, NewConfig(), &scanned)
	require.NoError(t, err)
	assert.NotContains(t, trailer, "Content-Length")
	assert.Equal(t, []string{"ok"}, trailer["X-Meta"])
}

func TestResponse_ProtoAtLeast(t *testing.T) {
	r := &Response{ProtoMajor: 1, ProtoMinor: 1}
	assert.True(t, r.ProtoAtLeast(1, 0))
	assert.True(t, r.ProtoAtLeast(1, 1))
	assert.False(t, r.ProtoAtLeast(1, 2))
	assert.False(t, r.ProtoAtLeast(2, 0))
}
