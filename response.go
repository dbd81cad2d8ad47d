package h1conn

import (
	"io"

	"github.com/indigo-web/utils/uf"

	"github.com/badu/h1conn/hdr"
)

// Response is the parsed status line plus header block handed back to
// the state machine before a body stream is attached. Pared down to
// client-read fields only - a connection core never writes a Response
// to the wire, it only parses one.
type Response struct {
	StatusCode int
	Reason     string
	ProtoMajor int
	ProtoMinor int

	Header  hdr.Header
	Trailer hdr.Header

	// Body is set once BodyReading selects a
	// variant; nil beforehand.
	Body io.ReadCloser

	// ContentLength as resolved by transfer.go; -1 means unknown
	// (chunked or until-close).
	ContentLength int64

	// Chunked reports whether Transfer-Encoding: chunked applies.
	Chunked bool

	// AddedAcceptEncodingGzip reports whether RoundTrip synthesized an
	// implicit Accept-Encoding: gzip for the request (Config.
	// TransparentGzip), since this core never decodes the body itself
	// and a higher layer needs to know to undo the encoding.
	AddedAcceptEncodingGzip bool
}

// ProtoAtLeast reports whether the response uses HTTP ≥ major.minor.
func (r *Response) ProtoAtLeast(major, minor int) bool {
	return r.ProtoMajor > major || (r.ProtoMajor == major && r.ProtoMinor >= minor)
}

// CloseBody closes the body if present, ignoring the error.
func (r *Response) CloseBody() {
	if r.Body != nil {
		r.Body.Close()
	}
}

// parseStatusLine parses "HTTP/1.x SP status SP reason". line must
// not include the terminating CRLF/LF (ReadLine strips it).
func parseStatusLine(line []byte, cfg *Config) (major, minor, status int, reason string, err error) {
	if len(line) < statusLineMinLen {
		return 0, 0, 0, "", newError(KindInvalidStatusLine, nil, false)
	}
	if !bytesHasPrefix(line, []byte("HTTP/1.")) {
		return 0, 0, 0, "", newError(KindInvalidStatusLine, nil, false)
	}
	minorDigit := line[7]
	if minorDigit < '0' || minorDigit > '9' {
		return 0, 0, 0, "", newError(KindInvalidStatusLine, nil, false)
	}
	if line[8] != ' ' {
		return 0, 0, 0, "", newError(KindInvalidStatusLine, nil, false)
	}
	d1, d2, d3 := line[9], line[10], line[11]
	if !isDigit(d1) || !isDigit(d2) || !isDigit(d3) {
		return 0, 0, 0, "", newError(KindInvalidStatusCode, nil, false)
	}
	status = int(d1-'0')*100 + int(d2-'0')*10 + int(d3-'0')

	if len(line) == statusLineMinLen {
		return 1, int(minorDigit - '0'), status, "", nil
	}
	if line[12] != ' ' {
		return 0, 0, 0, "", newError(KindInvalidStatusReason, nil, false)
	}
	rawReason := line[13:]
	if canonical := StatusText(status); canonical != "" && bytesEqualString(rawReason, canonical) {
		return 1, int(minorDigit - '0'), status, canonical, nil
	}
	decoded, derr := decodeReasonPhrase(rawReason, cfg)
	if derr != nil {
		return 0, 0, 0, "", newError(KindInvalidStatusReason, derr, false)
	}
	return 1, int(minorDigit - '0'), status, decoded, nil
}

func decodeReasonPhrase(raw []byte, cfg *Config) (string, error) {
	enc := cfg.responseEncoding("")
	if enc == nil {
		return uf.B2S(raw), nil
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func bytesEqualString(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		if b[i] != s[i] {
			return false
		}
	}
	return true
}

// parseHeaderBlock reads header lines until the terminating empty
// line, applying hdr.ParseLine and hdr.Lookup to each. A
// Request-category header appearing here (this is a response's own
// block) is demoted to Custom.
func parseHeaderBlock(buf *Buffer, cfg *Config, scanned *int64) (hdr.Header, hdr.Header, error) {
	headers := make(hdr.Header)
	content := make(hdr.Header)
	limit := cfg.maxHeadersLength()

	for {
		if *scanned > limit {
			return nil, nil, newError(KindHeadersTooLarge, nil, false)
		}
		line, err := buf.ReadLine(int(limit-*scanned), true, KindHeadersTooLarge)
		if err != nil {
			return nil, nil, err
		}
		*scanned += int64(len(line)) + 2
		if len(line) == 0 {
			return headers, content, nil
		}
		name, value, perr := hdr.ParseLine(line)
		if perr != nil {
			kind := KindInvalidHeaderName
			if perr == hdr.ErrInvalidHeaderLine {
				kind = KindInvalidHeaderLine
			}
			return nil, nil, newError(kind, perr, false)
		}
		d := hdr.Lookup(name)
		category := d.Category
		if category.Is(hdr.Request) {
			category = hdr.Custom
		}
		decodedValue, derr := decodeHeaderValue(name, value, cfg)
		if derr != nil {
			return nil, nil, newError(KindInvalidHeaderLine, derr, false)
		}
		if category.Is(hdr.Content) {
			content[name] = append(content[name], decodedValue)
		}
		headers[name] = append(headers[name], decodedValue)
	}
}

func decodeHeaderValue(name, value string, cfg *Config) (string, error) {
	enc := cfg.responseEncoding(name)
	if enc == nil {
		return value, nil
	}
	decoded, err := enc.NewDecoder().String(value)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// parseTrailerBlock is parseHeaderBlock's chunked-trailer counterpart:
// headers whose descriptor is NonTrailing are silently discarded, per
// RFC 7230 §4.1.2's list of headers that must never appear in a
// trailer.
func parseTrailerBlock(buf *Buffer, cfg *Config, scanned *int64) (hdr.Header, error) {
	trailer := make(hdr.Header)
	limit := cfg.maxHeadersLength()
	for {
		if *scanned > limit {
			return nil, newError(KindHeadersTooLarge, nil, false)
		}
		line, err := buf.ReadLine(int(limit-*scanned), true, KindHeadersTooLarge)
		if err != nil {
			return nil, err
		}
		*scanned += int64(len(line)) + 2
		if len(line) == 0 {
			return trailer, nil
		}
		name, value, perr := hdr.ParseLine(line)
		if perr != nil {
			kind := KindInvalidHeaderName
			if perr == hdr.ErrInvalidHeaderLine {
				kind = KindInvalidHeaderLine
			}
			return nil, newError(kind, perr, false)
		}
		if hdr.Lookup(name).Category.Is(hdr.NonTrailing) {
			continue
		}
		trailer[name] = append(trailer[name], value)
	}
}
