package h1conn

// HTTP methods the request line and the Content-Length:0 rule need
// to recognize by name.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodConnect = "CONNECT"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
)

const (
	httpVersion10 = "HTTP/1.0"
	httpVersion11 = "HTTP/1.1"
)

var (
	crlf      = []byte("\r\n")
	doubleCRLF = []byte("\r\n\r\n")
)

// requestMethodUsuallyHasBody reports whether method mandates emitting
// Content-Length: 0 when the caller supplied no body.
func requestMethodUsuallyHasBody(method string) bool {
	switch method {
	case MethodGet, MethodHead, MethodDelete, MethodOptions, MethodTrace, MethodConnect:
		return false
	default:
		return true
	}
}

// statusPhrases are the canonical reason phrases the status-line
// parser short-circuits to on exact byte match, sparing an
// allocation/decode for the overwhelming majority of real responses.
// Not exhaustive - anything else falls through to the decoded reason
// phrase bytes.
var statusPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Request Entity Too Large",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the canonical phrase for a well-known code, or ""
// if code isn't in the table above.
func StatusText(code int) string { return statusPhrases[code] }

func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204:
		return false
	case status == 304:
		return false
	}
	return true
}

// suppressedHeadersNoBody lists response headers that are meaningless
// (and must be dropped) when the status forbids a body.
var suppressedHeadersNoBody = []string{"Content-Length", "Transfer-Encoding"}

// suppressedHeaders304 additionally drops headers RFC 7232 forbids in
// a 304 response.
var suppressedHeaders304 = []string{
	"Content-Encoding", "Content-Language", "Content-Length",
	"Content-Range", "Content-Type", "Transfer-Encoding",
}
