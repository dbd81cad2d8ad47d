package h1conn

import (
	"log"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Default sizing constants.
const (
	DefaultBufferSize = 4096
	// testBufferSize records the debug-only small-buffer
	// boundary-condition stress value. No constructor uses it:
	// NewConnection uses DefaultBufferSize and NewConnectionForTest
	// takes its buffer size as an argument.
	testBufferSize = 10

	maxChunkLineLength = 16 * 1024
	expect100Threshold = 1024
	statusLineMinLen   = 12
)

// EncodingSelector picks a byte encoding for a given header name. A nil
// selector means ASCII only on the write side and ISO-8859-1 on the
// read side by default.
type EncodingSelector func(headerName string) encoding.Encoding

// Config collects every tunable knob as flat fields rather than nested
// sub-structs, mirroring net/http's Transport.
type Config struct {
	// MaxResponseHeadersLength caps total status+header bytes scanned
	// while parsing a response.
	// Expressed in bytes here (not KiB) to avoid a unit footgun at call
	// sites; NewConfig applies the KiB default.
	MaxResponseHeadersLength int64

	// MaxResponseDrainSize caps bytes drained to salvage a connection
	// for reuse after the caller abandoned the body early.
	MaxResponseDrainSize int64

	// Expect100ContinueTimeout bounds how long the sender waits for a
	// "100 Continue" before sending the body anyway.
	Expect100ContinueTimeout time.Duration

	// RequestHeaderEncoding, if set, overrides the ASCII-only default
	// when serializing outbound header values.
	RequestHeaderEncoding EncodingSelector

	// ResponseHeaderEncoding, if set, overrides the ISO-8859-1 default
	// used to decode the status line's reason phrase and header values.
	ResponseHeaderEncoding EncodingSelector

	// UseCookies turns on Cookie header synthesis from CookieJar and
	// Set-Cookie capture into it. CookieJar is an external collaborator
	// - this core only reads a header string from it and
	// hands it raw Set-Cookie values, never owns storage itself.
	UseCookies bool
	CookieJar  CookieJar

	// Logger receives diagnostics such as unsolicited bytes observed on
	// an idle connection, and swallowed body-send-task errors during
	// Expect:100-continue. Defaults to log.Default() when nil.
	Logger *log.Logger

	// TransparentGzip makes serializeHeader add Accept-Encoding: gzip
	// to requests that don't already set one. This core never decodes
	// the response body itself; RoundTrip reports the addition on the
	// Response so a higher layer can decide whether to undo it.
	TransparentGzip bool
}

// NewConfig returns a Config with every default filled in.
func NewConfig() *Config {
	return &Config{
		MaxResponseHeadersLength: 1 << 20, // 1 MiB, generous ceiling
		MaxResponseDrainSize:     2 << 20,
		Expect100ContinueTimeout: time.Second,
		Logger:                   log.Default(),
	}
}

func (c *Config) logger() *log.Logger {
	if c == nil || c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func (c *Config) requestEncoding(name string) encoding.Encoding {
	if c == nil || c.RequestHeaderEncoding == nil {
		return nil
	}
	return c.RequestHeaderEncoding(name)
}

func (c *Config) transparentGzip() bool {
	return c != nil && c.TransparentGzip
}

func (c *Config) responseEncoding(name string) encoding.Encoding {
	if c == nil || c.ResponseHeaderEncoding == nil {
		return charmap.ISO8859_1
	}
	if enc := c.ResponseHeaderEncoding(name); enc != nil {
		return enc
	}
	return charmap.ISO8859_1
}

func (c *Config) maxHeadersLength() int64 {
	if c == nil || c.MaxResponseHeadersLength <= 0 {
		return 1 << 20
	}
	return c.MaxResponseHeadersLength
}

func (c *Config) maxDrainSize() int64 {
	if c == nil || c.MaxResponseDrainSize <= 0 {
		return 2 << 20
	}
	return c.MaxResponseDrainSize
}

func (c *Config) expect100Timeout() time.Duration {
	if c == nil || c.Expect100ContinueTimeout <= 0 {
		return time.Second
	}
	return c.Expect100ContinueTimeout
}
