package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
)

var methods = map[string]Method{
	"GET":     MethodGet,
	"POST":    MethodPost,
	"PUT":     MethodPut,
	"DELETE":  MethodDelete,
	"HEAD":    MethodHead,
	"OPTIONS": MethodOptions,
	"TRACE":   MethodTrace,
}

// ParseMethod maps a wire token to a Method, ignoring case.
func ParseMethod(token string) (Method, bool) {
	m, ok := methods[strings.ToUpper(token)]
	return m, ok
}

var (
	ErrParse          = errors.New("malformed request")
	ErrEmptyRequest   = fmt.Errorf("%w: no request line", ErrParse)
	ErrBadRequestLine = fmt.Errorf("%w: request line must have three tokens", ErrParse)
	ErrUnknownMethod  = fmt.Errorf("%w: unrecognized method", ErrParse)
	ErrNoPeerAddr     = fmt.Errorf("%w: peer address unavailable", ErrParse)
	ErrHeadTooLarge   = fmt.Errorf("%w: request head too large", ErrParse)
	ErrBodyTooLarge   = fmt.Errorf("%w: request body too large", ErrParse)
)

const (
	// DefaultMaxHeadBytes bounds the request line plus all header lines.
	DefaultMaxHeadBytes = 64 << 10
	// DefaultMaxBodyBytes bounds a length-aware body.
	DefaultMaxBodyBytes = 1 << 20

	// maxLineBytes is also the read buffer size, so no single head line
	// can grow past it.
	maxLineBytes = 8 << 10
)

// Conn is the part of a connection the parser needs.
type Conn interface {
	io.Reader
	RemoteAddr() net.Addr
}

type ParseOptions struct {
	// LengthAwareBody reads exactly Content-Length bytes as the body
	// instead of the line-based default.
	LengthAwareBody bool
	// MaxHeadBytes caps the head. Zero means DefaultMaxHeadBytes.
	MaxHeadBytes int
	// MaxBodyBytes caps a Content-Length body. Zero means
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func (o ParseOptions) maxHead() int {
	if o.MaxHeadBytes > 0 {
		return o.MaxHeadBytes
	}
	return DefaultMaxHeadBytes
}

func (o ParseOptions) maxBody() int64 {
	if o.MaxBodyBytes > 0 {
		return o.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

// Request is a parsed request head. It is not modified after parsing,
// except for the query parameter cache which is built on first use.
// HasFragment and HasQuery tell "/a#" and "/a?" apart from "/a".
type Request struct {
	Method      Method
	Path        string
	Fragment    string
	HasFragment bool
	RawQuery    string // never percent-decoded
	HasQuery    bool
	Headers    map[string]string
	Body       []byte // nil when the request carried none
	Version    string
	RemoteAddr string

	queryOnce sync.Once
	params    map[string][]string
}

// Header returns the named header, preferring an exact key match and
// falling back to a case-insensitive one.
func (r *Request) Header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// QueryParams returns the raw query parameters, parsing them on first use.
func (r *Request) QueryParams() map[string][]string {
	r.queryOnce.Do(func() {
		r.params = parseQuery(r.RawQuery)
	})
	return r.params
}

// QueryAll returns every value recorded for key. A bare key yields an
// empty, non-nil slice.
func (r *Request) QueryAll(key string) ([]string, bool) {
	vals, ok := r.QueryParams()[key]
	return vals, ok
}

// Query returns the first value for key.
func (r *Request) Query(key string) (string, bool) {
	vals, _ := r.QueryAll(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func parseQuery(raw string) map[string][]string {
	params := make(map[string][]string)
	if raw == "" {
		return params
	}

	for _, pair := range strings.Split(raw, "&") {
		k, v, found := strings.Cut(pair, "=")
		if !found {
			// a bare key resets whatever was recorded before it
			params[pair] = []string{}
			continue
		}
		params[k] = append(params[k], v)
	}
	return params
}

// ParseRequest reads one request head from conn. On failure no Request is
// built and the error wraps ErrParse.
func ParseRequest(conn Conn, opts ParseOptions) (*Request, error) {
	br := bufio.NewReaderSize(conn, maxLineBytes)

	lines, err := readHead(br, opts.maxHead())
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyRequest
	}

	fields := strings.Fields(lines[0])
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrBadRequestLine, lines[0])
	}

	method, ok := ParseMethod(fields[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, fields[0])
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		k, v, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		headers[k] = v
	}

	addr := conn.RemoteAddr()
	if addr == nil {
		return nil, ErrNoPeerAddr
	}

	req := &Request{
		Method:     method,
		Headers:    headers,
		Version:    fields[2],
		RemoteAddr: addr.String(),
	}
	req.Path, req.Fragment, req.RawQuery = splitTarget(fields[1])
	req.HasFragment, req.HasQuery = targetMarkers(fields[1])

	req.Body, err = readBody(br, req, opts)
	if err != nil {
		return nil, err
	}

	return req, nil
}

// readHead collects lines up to, not including, the first empty line.
// End of input also ends the head. A line longer than the read buffer, or
// a head longer than limit, fails with ErrHeadTooLarge.
func readHead(br *bufio.Reader, limit int) ([]string, error) {
	var lines []string
	total := 0
	for {
		raw, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrHeadTooLarge
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		total += len(raw)
		if total > limit {
			return nil, ErrHeadTooLarge
		}

		line := trimEOL(string(raw))
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)

		if err != nil {
			return lines, nil
		}
	}
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// readBody never blocks in line mode: only lines the connection has
// already delivered past the head are taken.
func readBody(br *bufio.Reader, req *Request, opts ParseOptions) ([]byte, error) {
	if opts.LengthAwareBody {
		if n, ok := contentLength(req); ok {
			if n == 0 {
				return nil, nil
			}
			if n > opts.maxBody() {
				return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, n)
			}
			// the buffer grows only as bytes actually arrive
			var body bytes.Buffer
			if _, err := io.CopyN(&body, br, n); err != nil {
				return nil, fmt.Errorf("%w: short body: %v", ErrParse, err)
			}
			return body.Bytes(), nil
		}
	}

	n := br.Buffered()
	if n == 0 {
		return nil, nil
	}
	buf, err := br.Peek(n)
	if err != nil {
		return nil, nil
	}

	lines := strings.Split(string(buf), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return []byte(strings.Join(lines, "\r\n")), nil
}

func contentLength(req *Request) (int64, bool) {
	v, ok := req.Header("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// splitTarget decomposes a request-target. A '#' takes precedence: the
// query, if any, is then looked for only after the fragment marker.
func splitTarget(target string) (path, fragment, query string) {
	if before, after, found := strings.Cut(target, "#"); found {
		fragment, query, _ = strings.Cut(after, "?")
		return before, fragment, query
	}

	path, query, _ = strings.Cut(target, "?")
	return path, "", query
}

// targetMarkers reports which optional parts a target carries, following
// the same precedence as splitTarget.
func targetMarkers(target string) (hasFragment, hasQuery bool) {
	if _, after, found := strings.Cut(target, "#"); found {
		return true, strings.Contains(after, "?")
	}
	return false, strings.Contains(target, "?")
}
