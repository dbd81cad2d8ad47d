package h1conn

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/h1conn/hdr"
)

func TestRoundTrip_PlainGET(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		want := "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"
		if got := string(buf[:n]); got != want {
			serverErr <- errors.New("unexpected request: " + got)
			return
		}
		_, err = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/hello"}, Host: "x"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	require.NoError(t, resp.Body.Close())

	assert.True(t, pool.wasReturned())
	assert.False(t, pool.wasInvalidated())
	assert.False(t, conn.ConnectionClose())

	// reuse-safety: a connection handed back to the pool must have its
	// read buffer fully drained, write buffer empty, and no request in
	// flight.
	assert.False(t, conn.buf.HasUnread())
	assert.Equal(t, 0, conn.buf.writeOff)
	assert.Nil(t, conn.currentRequest)
}

func TestRoundTrip_ChunkedBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		_, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		_, err = server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/stream"}, Host: "x"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	assert.True(t, pool.wasReturned())
	assert.False(t, pool.wasInvalidated())
}

func TestRoundTrip_Expect100ContinueAccepted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		if !strings.Contains(string(buf[:n]), "Expect: 100-continue") {
			serverErr <- errors.New("request missing Expect header")
			return
		}
		if _, err := server.Write([]byte("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")); err != nil {
			serverErr <- err
			return
		}
		body := make([]byte, 1)
		if _, err := server.Read(body); err != nil {
			serverErr <- err
			return
		}
		if body[0] != 'A' {
			serverErr <- errors.New("unexpected body byte")
			return
		}
		serverErr <- nil
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{
		Method:        MethodPost,
		URL:           &url.URL{Path: "/upload"},
		Host:          "x",
		Header:        hdr.Header{hdr.Expect: []string{"100-continue"}},
		Body:          nopBody{strings.NewReader("A")},
		ContentLength: 1,
	}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRoundTrip_Expect100ContinueRejectedForLargeBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		if _, err := server.Read(buf); err != nil {
			serverErr <- err
			return
		}
		_, err := server.Write([]byte("HTTP/1.1 413 Request Entity Too Large\r\nContent-Length: 0\r\n\r\n"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{
		Method:        MethodPost,
		URL:           &url.URL{Path: "/upload"},
		Host:          "x",
		Header:        hdr.Header{hdr.Expect: []string{"100-continue"}},
		Body:          neverReadBody{},
		ContentLength: 4096,
	}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, 413, resp.StatusCode)
	assert.True(t, conn.ConnectionClose())

	require.NoError(t, resp.Body.Close())
	assert.True(t, pool.wasInvalidated())
}

func TestReceive_FoldedHeaderLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		if _, err := server.Read(buf); err != nil {
			serverErr <- err
			return
		}
		_, err := server.Write([]byte("HTTP/1.1 200 OK\r\nX-Foo: a\r\n bc\r\nContent-Length: 0\r\n\r\n"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/"}, Host: "x"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, "a bc", resp.Header.Get("X-Foo"))
}

func TestRoundTrip_UnexpectedBytesAfterBodylessResponseForceClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		if _, err := server.Read(buf); err != nil {
			serverErr <- err
			return
		}
		// A misbehaving server sends bytes after a status that must
		// not carry a body; those bytes must never be silently
		// swallowed into a connection handed back to the pool.
		_, err := server.Write([]byte("HTTP/1.1 204 No Content\r\n\r\nUNEXPECTED"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/"}, Host: "x"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, 204, resp.StatusCode)

	assert.True(t, conn.ConnectionClose())
	assert.True(t, pool.wasInvalidated())
	assert.False(t, pool.wasReturned())
}

func TestRoundTrip_PrematureEOFBeforeResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Close()
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/"}, Host: "x"}

	_, err := conn.RoundTrip(context.Background(), req)
	require.Error(t, err)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindPrematureEOF, e.Kind)
	assert.True(t, e.Retryable())
	assert.True(t, pool.wasInvalidated())
}

func TestRoundTrip_ConnectTunnel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		want := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
		if got := string(buf[:n]); got != want {
			serverErr <- errors.New("unexpected request: " + got)
			return
		}
		_, err = server.Write([]byte("HTTP/1.1 200 OK\r\n\r\ntunneldata"))
		serverErr <- err
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodConnect, Host: "example.com:443"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, 200, resp.StatusCode)

	tunnel, ok := resp.Body.(*RawTunnel)
	require.True(t, ok)
	assert.True(t, conn.detachedFromPool)
	assert.True(t, conn.ConnectionClose())

	got := make([]byte, len("tunneldata"))
	_, err = io.ReadFull(tunnel, got)
	require.NoError(t, err)
	assert.Equal(t, "tunneldata", string(got))

	require.NoError(t, tunnel.Close())
	assert.True(t, pool.wasInvalidated())
}

func TestReceive_OversizeHeadersAreRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		if _, err := server.Read(buf); err != nil {
			serverErr <- err
			return
		}
		// No CRLF at all within the first maxHeadersLength bytes: ReadLine
		// must reject it as too large rather than keep scanning forever.
		_, err := server.Write([]byte("HTTP/1.1 200 OK"))
		serverErr <- err
	}()

	pool := &fakePool{}
	cfg := NewConfig()
	cfg.MaxResponseHeadersLength = 5
	conn := NewConnection(client, pool, cfg)
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/"}, Host: "x"}

	_, err := conn.RoundTrip(context.Background(), req)
	require.Error(t, err)
	<-serverErr

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindHeadersTooLarge, e.Kind)
	assert.True(t, pool.wasInvalidated())
}

func TestRoundTrip_RejectsSecondCallWhileFirstInFlight(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf) // drain the request; never respond
	}()

	pool := &fakePool{}
	conn := NewConnection(client, pool, NewConfig())
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/a"}, Host: "x"}

	go conn.RoundTrip(context.Background(), req)
	time.Sleep(50 * time.Millisecond) // let the first call claim currentRequest

	_, err := conn.RoundTrip(context.Background(), req)
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindIO, e.Kind)
	assert.Equal(t, errAcquireWhileBusy, e.Cause)
}

func TestRoundTrip_TransparentGzipHintIsReportedOnResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		if !strings.Contains(string(buf[:n]), "Accept-Encoding: gzip") {
			serverErr <- errors.New("request missing synthesized Accept-Encoding")
			return
		}
		_, err = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		serverErr <- err
	}()

	pool := &fakePool{}
	cfg := NewConfig()
	cfg.TransparentGzip = true
	conn := NewConnection(client, pool, cfg)
	req := &Request{Method: MethodGet, URL: &url.URL{Path: "/"}, Host: "x"}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.True(t, resp.AddedAcceptEncodingGzip)
}

func TestRoundTrip_ExplicitAcceptEncodingIsNotOverridden(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		if !strings.Contains(string(buf[:n]), "Accept-Encoding: identity") {
			serverErr <- errors.New("explicit Accept-Encoding was overridden")
			return
		}
		_, err = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		serverErr <- err
	}()

	pool := &fakePool{}
	cfg := NewConfig()
	cfg.TransparentGzip = true
	conn := NewConnection(client, pool, cfg)
	req := &Request{
		Method: MethodGet,
		URL:    &url.URL{Path: "/"},
		Host:   "x",
		Header: hdr.Header{hdr.AcceptEncoding: []string{"identity"}},
	}

	resp, err := conn.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.False(t, resp.AddedAcceptEncodingGzip)
}

func TestCanRetry_FalseOnceBodySendStarted(t *testing.T) {
	tr := newMemTransport("")
	conn := NewConnectionForTest(tr, nil, NewConfig(), DefaultBufferSize)
	conn.mu.Lock()
	conn.canRetry = true
	conn.mu.Unlock()

	req := &Request{Body: nopBody{strings.NewReader("x")}, ContentLength: 1}
	require.NoError(t, conn.sendBody(req))

	assert.False(t, conn.CanRetry())
}

type neverReadBody struct{}

func (neverReadBody) Read([]byte) (int, error) { panic("body must not be read") }
func (neverReadBody) Close() error             { return nil }
