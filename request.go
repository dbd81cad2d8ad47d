package h1conn

import (
	"io"
	"net"
	"net/url"
	"strconv"

	"golang.org/x/net/idna"

	"github.com/indigo-web/utils/strcomp"

	"github.com/badu/h1conn/hdr"
)

// Request is the caller-facing request description. Body content
// representation above raw bytes is the higher layer's concern; this
// core only needs a ReadCloser and a declared length.
type Request struct {
	Method string
	URL    *url.URL
	Host   string // overrides URL.Host for the Host header when set

	ProtoMajor int
	ProtoMinor int

	Header hdr.Header
	Body   io.ReadCloser

	// ContentLength >= 0 selects the Content-Length(n) write variant.
	// -1 with a non-nil Body selects the Chunked write variant.
	ContentLength int64

	Trailer hdr.Header

	// Close, if set, marks the connection non-reusable once this
	// exchange completes.
	Close bool

	// addedGzipHint records whether writeHeaderBlock synthesized an
	// implicit Accept-Encoding: gzip, so receive() can surface it on
	// the Response for a higher layer to undo.
	addedGzipHint bool
}

func (r *Request) httpVersion() string {
	if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
		return httpVersion10
	}
	return httpVersion11
}

func (r *Request) expectsContinue() bool {
	return strcomp.EqualFold(r.Header.Get(hdr.Expect), "100-continue")
}

// target computes the request-line target.
func (r *Request) target(kind PoolKind) (string, error) {
	if r.Method == MethodConnect {
		host := r.Host
		if host == "" && r.URL != nil {
			host = r.URL.Host
		}
		if host == "" {
			return "", newError(KindMissingHost, nil, false)
		}
		return host, nil
	}

	if kind == KindProxy {
		return r.absoluteForm()
	}

	if r.URL == nil {
		return "/", nil
	}
	p := r.URL.EscapedPath()
	if p == "" {
		p = "/"
	}
	if r.URL.RawQuery != "" {
		p += "?" + r.URL.RawQuery
	}
	return p, nil
}

// absoluteForm builds "http://[ipv6|idn-host][:port]<path-and-query>",
// proxy-kind target.
func (r *Request) absoluteForm() (string, error) {
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host, port := splitHostPort(r.URL.Host)
	encodedHost, err := encodeIDNHost(host)
	if err != nil {
		return "", newError(KindInvalidRequestChar, err, false)
	}
	hostport := bracketIfIPv6(encodedHost)
	if port != "" && !isDefaultPort(scheme, port) {
		hostport += ":" + port
	}
	p := r.URL.EscapedPath()
	if p == "" {
		p = "/"
	}
	if r.URL.RawQuery != "" {
		p += "?" + r.URL.RawQuery
	}
	return scheme + "://" + hostport + p, nil
}

func splitHostPort(hostport string) (host, port string) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, ""
	}
	return h, p
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}

func bracketIfIPv6(host string) string {
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}

// encodeIDNHost punycode-encodes an international domain name for the
// request line and Host header.
func encodeIDNHost(host string) (string, error) {
	if host == "" || isASCIIHost(host) {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}

func isASCIIHost(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// hostHeaderValue synthesizes the Host header value: the pool-provided
// bytes win when present, else derive from the URL, bracketing IPv6
// and appending ":port" only for a non-default port.
func (r *Request) hostHeaderValue(pool Pool) (string, error) {
	if pool != nil {
		if hb := pool.HostHeaderBytes(); len(hb) > 0 {
			return string(hb), nil
		}
	}
	if r.Host != "" {
		return r.Host, nil
	}
	if r.URL == nil {
		return "", newError(KindMissingHost, nil, false)
	}
	host, port := splitHostPort(r.URL.Host)
	encoded, err := encodeIDNHost(host)
	if err != nil {
		return "", newError(KindInvalidRequestChar, err, false)
	}
	hostport := bracketIfIPv6(encoded)
	scheme := r.URL.Scheme
	if port != "" && !isDefaultPort(scheme, port) {
		hostport += ":" + port
	}
	return hostport, nil
}

// serializeHeader writes the request line, Host header, header block,
// the Content-Length:0 special case, and the terminating CRLF into
// buf. Body bytes are written separately by whichever write variant
// the caller selects.
func (r *Request) serializeHeader(buf *Buffer, pool Pool, cfg *Config) error {
	target, err := r.target(poolKindOf(pool))
	if err != nil {
		return err
	}

	if err := buf.WriteASCII(r.Method); err != nil {
		return err
	}
	if err := buf.WriteByte(' '); err != nil {
		return err
	}
	if err := buf.WriteASCII(target); err != nil {
		return err
	}
	if err := buf.WriteByte(' '); err != nil {
		return err
	}
	if err := buf.WriteASCII(r.httpVersion()); err != nil {
		return err
	}
	if err := buf.WriteBytes(crlf); err != nil {
		return err
	}

	if r.Method != MethodConnect {
		host, err := r.hostHeaderValue(pool)
		if err != nil {
			return err
		}
		if err := writeHeaderLine(buf, hdr.Host, host, cfg); err != nil {
			return err
		}
	} else {
		host := target
		if err := writeHeaderLine(buf, hdr.Host, host, cfg); err != nil {
			return err
		}
	}

	if err := r.writeHeaderBlock(buf, cfg); err != nil {
		return err
	}

	if r.Body == nil && requestMethodUsuallyHasBody(r.Method) {
		if err := writeHeaderLine(buf, hdr.ContentLength, "0", cfg); err != nil {
			return err
		}
	}

	return buf.WriteBytes(crlf)
}

func (r *Request) writeHeaderBlock(buf *Buffer, cfg *Config) error {
	for key, values := range r.Header {
		if key == hdr.Host || key == hdr.ContentLength || key == hdr.TransferEncoding {
			continue
		}
		d := hdr.Lookup(key)
		value := d.JoinValues(values)
		if key == hdr.CookieHeader {
			if extra := r.cookieJarValue(cfg); extra != "" {
				if value == "" {
					value = extra
				} else {
					value += "; " + extra
				}
			}
		}
		if err := writeHeaderLine(buf, key, value, cfg); err != nil {
			return err
		}
	}
	if _, explicit := r.Header[hdr.CookieHeader]; !explicit {
		if extra := r.cookieJarValue(cfg); extra != "" {
			if err := writeHeaderLine(buf, hdr.CookieHeader, extra, cfg); err != nil {
				return err
			}
		}
	}
	if cfg.transparentGzip() {
		if _, explicit := r.Header[hdr.AcceptEncoding]; !explicit {
			if err := writeHeaderLine(buf, hdr.AcceptEncoding, "gzip", cfg); err != nil {
				return err
			}
			r.addedGzipHint = true
		}
	}
	if r.ContentLength > 0 {
		if err := writeHeaderLine(buf, hdr.ContentLength, strconv.FormatInt(r.ContentLength, 10), cfg); err != nil {
			return err
		}
	} else if r.Body != nil && r.ContentLength < 0 {
		if err := writeHeaderLine(buf, hdr.TransferEncoding, "chunked", cfg); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaderLine(buf *Buffer, key, value string, cfg *Config) error {
	if err := buf.WriteASCII(key); err != nil {
		return err
	}
	if err := buf.WriteTwoBytes(':', ' '); err != nil {
		return err
	}
	if err := buf.WriteStringEncoded(value, cfg.requestEncoding(key)); err != nil {
		return err
	}
	return buf.WriteBytes(crlf)
}

func poolKindOf(pool Pool) PoolKind {
	if pool == nil {
		return KindDirect
	}
	return pool.Kind()
}

