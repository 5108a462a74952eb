package http

import (
	"bytes"

	"golang.org/x/net/http/httpguts"
)

const inlineTargetSize = 256

var http11 = []byte("HTTP/1.1")

// RequestLine holds the parsed method and request-target. The target is
// copied out of the input buffer into an inline array so that it survives
// input compaction; longer targets spill into a reused heap buffer.
type RequestLine struct {
	Method Method

	token  []byte
	inline [inlineTargetSize]byte
	heap   []byte
	target []byte
	query  int
}

func (r *RequestLine) setTarget(b []byte) {
	if len(b) <= len(r.inline) {
		r.target = r.inline[:copy(r.inline[:], b)]
	} else {
		r.heap = append(r.heap[:0], b...)
		r.target = r.heap
	}
	r.query = bytes.IndexByte(r.target, '?')
}

func (r *RequestLine) reset() {
	r.Method = MethodCustom
	r.token = r.token[:0]
	r.target = nil
	r.query = -1
}

// Target returns the raw request-target.
func (r *RequestLine) Target() []byte { return r.target }

// Path returns the target up to the first '?'.
func (r *RequestLine) Path() []byte {
	if r.query < 0 {
		return r.target
	}
	return r.target[:r.query]
}

// Query returns the target after the first '?', or nil.
func (r *RequestLine) Query() []byte {
	if r.query < 0 {
		return nil
	}
	return r.target[r.query+1:]
}

// MethodName returns the method token. Known methods do not allocate.
func (r *RequestLine) MethodName() string {
	if r.Method != MethodCustom {
		return r.Method.String()
	}
	return string(r.token)
}

// Overflowed reports whether the current target did not fit inline.
func (r *RequestLine) Overflowed() bool {
	return len(r.target) > len(r.inline)
}

// ParseRequestLine parses "METHOD SP request-target SP HTTP/1.1 CRLF" from
// the start of buf. When the line is incomplete it returns ok == false with
// nothing consumed and everything examined; the caller appends more bytes
// and calls again from the same offset.
func ParseRequestLine(buf []byte, req *RequestLine) (consumed, examined int, ok bool, err error) {
	lf := bytes.IndexByte(buf, '\n')
	if lf < 0 {
		return 0, len(buf), false, nil
	}
	examined = lf + 1
	if lf == 0 || buf[lf-1] != '\r' {
		return 0, examined, false, ErrInvalidRequestLine
	}
	line := buf[:lf-1]

	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return 0, examined, false, ErrInvalidRequestLine
	}
	method := line[:sp]
	for _, c := range method {
		if !httpguts.IsTokenRune(rune(c)) {
			return 0, examined, false, ErrInvalidRequestLine
		}
	}

	rest := line[sp+1:]
	sp = bytes.IndexByte(rest, ' ')
	if sp <= 0 {
		return 0, examined, false, ErrInvalidRequestLine
	}
	target := rest[:sp]
	for _, c := range target {
		if c <= ' ' || c == 0x7f {
			return 0, examined, false, ErrInvalidRequestLine
		}
	}

	version := rest[sp+1:]
	if !bytes.Equal(version, http11) {
		if bytes.HasPrefix(version, []byte("HTTP/")) {
			return 0, examined, false, ErrUnsupportedVersion
		}
		return 0, examined, false, ErrInvalidRequestLine
	}

	req.Method = ParseMethod(method)
	if req.Method == MethodCustom {
		req.token = append(req.token[:0], method...)
	}
	req.setTarget(target)

	return examined, examined, true, nil
}

// HeaderFunc receives one header field. name and value alias the input
// buffer and are only valid for the duration of the call.
type HeaderFunc func(name, value []byte) error

// ParseHeaders consumes complete header lines from buf, calling fn for each,
// until the empty line that ends the header block (done == true). Partial
// lines are left unconsumed, so re-parsing from buf[consumed:] after more
// bytes arrive delivers exactly the remaining fields.
func ParseHeaders(buf []byte, fn HeaderFunc) (consumed, examined int, done bool, err error) {
	for {
		rest := buf[consumed:]
		if len(rest) == 0 {
			return consumed, len(buf), false, nil
		}

		switch rest[0] {
		case '\r':
			if len(rest) < 2 {
				return consumed, len(buf), false, nil
			}
			if rest[1] != '\n' {
				return consumed, consumed + 2, false, ErrInvalidHeader
			}
			consumed += 2
			return consumed, consumed, true, nil
		case '\n', ' ', '\t':
			// bare LF, or an obs-fold continuation line
			return consumed, consumed + 1, false, ErrInvalidHeader
		}

		lf := bytes.IndexByte(rest, '\n')
		if lf < 0 {
			return consumed, len(buf), false, nil
		}
		if rest[lf-1] != '\r' {
			return consumed, consumed + lf + 1, false, ErrInvalidHeader
		}

		name, value, ok := splitHeaderLine(rest[:lf-1])
		if !ok {
			return consumed, consumed + lf + 1, false, ErrInvalidHeader
		}
		if err := fn(name, value); err != nil {
			return consumed, consumed + lf + 1, false, err
		}
		consumed += lf + 1
	}
}

func splitHeaderLine(line []byte) (name, value []byte, ok bool) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return nil, nil, false
	}
	name = line[:colon]
	for _, c := range name {
		if !httpguts.IsTokenRune(rune(c)) {
			return nil, nil, false
		}
	}

	value = line[colon+1:]
	for len(value) > 0 && (value[0] == ' ' || value[0] == '\t') {
		value = value[1:]
	}
	for len(value) > 0 && (value[len(value)-1] == ' ' || value[len(value)-1] == '\t') {
		value = value[:len(value)-1]
	}
	for _, c := range value {
		if (c < ' ' && c != '\t') || c == 0x7f {
			return nil, nil, false
		}
	}

	return name, value, true
}
