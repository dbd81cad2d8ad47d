package h1conn

import (
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"

	"github.com/badu/h1conn/hdr"
)

// BodyVariant names which of five read framings applies
// to a response.
type BodyVariant int

const (
	VariantEmpty BodyVariant = iota
	VariantContentLength
	VariantChunked
	VariantUntilClose
	VariantRawTunnel
)

// fixContentLength collapses duplicate, identical Content-Length
// values into one; duplicate, differing values are a
// smuggling-hardening error (RFC 7230 §3.3.2).
func fixContentLength(values []string) (int64, error) {
	if len(values) == 0 {
		return -1, nil
	}
	first := strings.TrimSpace(values[0])
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return -1, newError(KindInvalidHeaderLine, err, false)
	}
	for _, v := range values[1:] {
		if strings.TrimSpace(v) != first {
			return -1, newError(KindInvalidHeaderLine, nil, false)
		}
	}
	return n, nil
}

// isChunked reports whether the Transfer-Encoding header names
// "chunked" as its final (innermost) coding, the only coding this core
// understands; anything else naming chunked non-last is malformed and
// treated as not-chunked, so the caller frames the body by
// Content-Length or reads it until close.
func isChunked(values []string) bool {
	if len(values) == 0 {
		return false
	}
	last := values[len(values)-1]
	for _, tok := range strings.Split(last, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			last = tok
		}
	}
	return strcomp.EqualFold(strings.TrimSpace(last), "chunked")
}

// noResponseBodyExpected reports whether method forbids a response
// body regardless of what the headers claim (HEAD). A successful
// CONNECT is handled separately by resolveBodyVariant as a raw tunnel.
func noResponseBodyExpected(method string) bool {
	return method == MethodHead
}

// resolveBodyVariant picks a response body framing from the method
// and status alone; consultHeaders tells the caller it must still
// inspect Transfer-Encoding/Content-Length to pick among the
// remaining variants.
func resolveBodyVariant(reqMethod string, status int) (variant BodyVariant, consultHeaders bool) {
	switch {
	case noResponseBodyExpected(reqMethod):
		return VariantEmpty, false
	case status == 204 || status == 304:
		return VariantEmpty, false
	case reqMethod == MethodConnect && status >= 200 && status < 300:
		return VariantRawTunnel, false
	case status == 101:
		return VariantRawTunnel, false
	default:
		return VariantEmpty, true // caller inspects Transfer-Encoding/Content-Length
	}
}

// applySuppressedHeaders drops headers meaningless for status.
func applySuppressedHeaders(h hdr.Header, status int) {
	if !bodyAllowedForStatus(status) {
		for _, k := range suppressedHeadersNoBody {
			delete(h, k)
		}
	}
	if status == 304 {
		for _, k := range suppressedHeaders304 {
			delete(h, k)
		}
	}
}

// shouldCloseAfterResponse implements the "Connection: close" /
// HTTP/1.0-without-keep-alive sticky rule that feeds connection_close.
func shouldCloseAfterResponse(major, minor int, connectionValues []string) bool {
	for _, v := range connectionValues {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if strcomp.EqualFold(tok, "close") {
				return true
			}
		}
	}
	if major == 1 && minor == 0 {
		for _, v := range connectionValues {
			if strcomp.EqualFold(strings.TrimSpace(v), "keep-alive") {
				return false
			}
		}
		return true
	}
	return false
}
