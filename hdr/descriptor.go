/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"errors"
	"strings"

	"github.com/indigo-web/utils/uf"
)

// ErrInvalidHeaderLine and ErrInvalidHeaderName are the hdr-level
// causes behind the core's invalid-header-line / invalid-header-name
// error kinds. The core wraps these with connection
// context; callers outside this package should match on the core's
// wrapped kinds, not these directly.
var (
	ErrInvalidHeaderLine = errors.New("hdr: malformed header line")
	ErrInvalidHeaderName = errors.New("hdr: invalid header field name")
)

// Category classifies a header the way the wire parser needs to treat
// it: whether it belongs on a request, a response, describes the
// content of a message body, or must never survive into a chunked
// trailer block.
type Category int

const (
	// Generic is any header with no special handling - written and
	// read as-is, joined with the default separator.
	Generic Category = 0
	// Request marks a header that only makes sense on a request. Seen
	// on a response, it is demoted to a Custom-category header.
	Request Category = 1 << 0
	// Response marks a header that only makes sense on a response.
	Response Category = 1 << 1
	// Content marks a header describing the message body itself
	// (Content-Length, Content-Encoding, ...).
	Content Category = 1 << 2
	// NonTrailing marks a header that must be discarded if it shows up
	// in a chunked trailer block (Transfer-Encoding, Trailer,
	// Content-Length - RFC 7230 §4.1.2).
	NonTrailing Category = 1 << 3
	// Custom is the fallback for anything the registry doesn't know
	// about. Built on first sight, never looked up.
	Custom Category = 1 << 4
)

// ValueParser optionally post-processes a raw header value before it
// is stored. Most descriptors leave this nil.
type ValueParser func(raw string) (string, error)

// Descriptor is the "Header descriptor" of the core: a name, the
// category deciding how the parser and serializer treat it, an
// optional value parser, and the separator used to join repeated
// values into a single wire-format line.
type Descriptor struct {
	Name      string
	Category  Category
	Parse     ValueParser
	Separator string
}

// DefaultSeparator is used by any descriptor that doesn't declare its
// own - RFC 7230 §3.2.2 combines repeated header fields with a comma.
const DefaultSeparator = ", "

// productSeparator is used for headers whose grammar is a
// space-separated list of product tokens (User-Agent, Server, Via),
// where a comma would be read as part of a comment.
const productSeparator = " "

var registry = map[string]Descriptor{}

func register(d Descriptor) {
	if d.Separator == "" {
		d.Separator = DefaultSeparator
	}
	registry[d.Name] = d
}

func init() {
	register(Descriptor{Name: Host, Category: Request})
	register(Descriptor{Name: UserAgent, Category: Request, Separator: productSeparator})
	register(Descriptor{Name: Referer, Category: Request})
	register(Descriptor{Name: AcceptEncoding, Category: Request})
	register(Descriptor{Name: Expect, Category: Request})
	register(Descriptor{Name: CookieHeader, Category: Request, Separator: "; "})
	register(Descriptor{Name: Authorization, Category: Request})

	register(Descriptor{Name: ServerHeader, Category: Response, Separator: productSeparator})
	register(Descriptor{Name: SetCookieHeader, Category: Response})
	register(Descriptor{Name: Location, Category: Response})
	register(Descriptor{Name: Via, Category: Response, Separator: productSeparator})

	register(Descriptor{Name: ContentLength, Category: Content | NonTrailing})
	register(Descriptor{Name: ContentType, Category: Content})
	register(Descriptor{Name: ContentEncoding, Category: Content})
	register(Descriptor{Name: ContentLanguage, Category: Content})
	register(Descriptor{Name: ContentRange, Category: Content})

	register(Descriptor{Name: TransferEncoding, Category: NonTrailing})
	register(Descriptor{Name: Trailer, Category: NonTrailing})
	register(Descriptor{Name: Connection, Category: Generic})
	register(Descriptor{Name: UpgradeHeader, Category: Generic})
	register(Descriptor{Name: Date, Category: Generic})
	register(Descriptor{Name: CacheControl, Category: Generic})
	register(Descriptor{Name: Pragma, Category: Generic})
	register(Descriptor{Name: Etag, Category: Generic})
	register(Descriptor{Name: Expires, Category: Generic})
	register(Descriptor{Name: LastModified, Category: Generic})
	register(Descriptor{Name: IfModifiedSince, Category: Request})
	register(Descriptor{Name: IfNoneMatch, Category: Request})
	register(Descriptor{Name: AcceptRanges, Category: Response})
	register(Descriptor{Name: AcceptCharset, Category: Request})
	register(Descriptor{Name: AcceptLanguage, Category: Request})
	register(Descriptor{Name: Accept, Category: Request})
}

// Lookup returns the registered descriptor for key (already in
// canonical form), or a freshly built Custom descriptor if the
// registry has nothing for it. It never fails: an unknown header name
// is not a parse error it is just demoted to custom.
func Lookup(key string) Descriptor {
	if d, ok := registry[key]; ok {
		return d
	}
	return Descriptor{Name: key, Category: Custom, Separator: DefaultSeparator}
}

// Is reports whether c has the bit for want set, supporting the
// Content|NonTrailing style composite categories above.
func (c Category) Is(want Category) bool { return c&want == want }

// JoinValues concatenates vv using d's separator, the wire-format
// representation of a single header line's value.
func (d Descriptor) JoinValues(vv []string) string {
	if len(vv) == 1 {
		return vv[0]
	}
	return strings.Join(vv, d.Separator)
}

// ParseLine splits a single already-unfolded header line into its
// name and value: name is everything up to the first ':' or
// whitespace, value is everything after the colon with leading OWS
// stripped. line must not contain the terminating CRLF/LF.
//
// uf.B2S avoids a copy for the common case where the caller already
// owns line's backing array (it is the connection's read buffer,
// valid only until the next fill - callers must not retain name/value
// past that point without copying).
func ParseLine(line []byte) (name, value string, err error) {
	colon := -1
	nameEnd := -1
	for i, b := range line {
		if b == ':' {
			colon = i
			break
		}
		if b == ' ' || b == '\t' {
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
		// A non-whitespace byte after whitespace already started means
		// the whitespace was embedded inside the name, not trailing
		// before the colon - reject to avoid request-smuggling-style
		// ambiguity over which bytes are part of the field name.
		if nameEnd >= 0 {
			return "", "", ErrInvalidHeaderLine
		}
	}
	if colon <= 0 {
		return "", "", ErrInvalidHeaderLine
	}
	if nameEnd < 0 {
		nameEnd = colon
	}
	rawName := line[:nameEnd]
	if !validHeaderFieldNameBytes(rawName) {
		return "", "", ErrInvalidHeaderName
	}
	rest := line[colon+1:]
	i := 0
	for i < len(rest) && isOWSByte(rest[i]) {
		i++
	}
	return canonicalMIMEHeaderKey(append([]byte(nil), rawName...)), uf.B2S(trim(rest[i:])), nil
}

func validHeaderFieldNameBytes(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !validHeaderFieldByte(c) {
			return false
		}
	}
	return true
}

func isOWSByte(b byte) bool { return b == ' ' || b == '\t' }
