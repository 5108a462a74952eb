package http

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		method Method
		token  string
		path   string
		query  string
	}{
		{"get", "GET /plaintext HTTP/1.1\r\n", MethodGet, "GET", "/plaintext", ""},
		{"query", "GET /json?a=1&b=2 HTTP/1.1\r\n", MethodGet, "GET", "/json", "a=1&b=2"},
		{"empty query", "GET /json? HTTP/1.1\r\n", MethodGet, "GET", "/json", ""},
		{"post", "POST /upload HTTP/1.1\r\n", MethodPost, "POST", "/upload", ""},
		{"custom", "PURGE /cache HTTP/1.1\r\n", MethodCustom, "PURGE", "/cache", ""},
		{"absolute form", "GET http://example.com/x HTTP/1.1\r\n", MethodGet, "GET", "http://example.com/x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req RequestLine
			req.reset()

			consumed, examined, ok, err := ParseRequestLine([]byte(tt.input+"Host: x\r\n"), &req)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, len(tt.input), consumed)
			assert.Equal(t, consumed, examined)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.token, req.MethodName())
			assert.Equal(t, tt.path, string(req.Path()))
			assert.Equal(t, tt.query, string(req.Query()))
		})
	}
}

func TestParseRequestLine_Incomplete(t *testing.T) {
	line := "GET /plaintext HTTP/1.1\r\n"
	for i := 0; i < len(line); i++ {
		var req RequestLine
		consumed, examined, ok, err := ParseRequestLine([]byte(line[:i]), &req)
		require.NoError(t, err, "prefix %q", line[:i])
		assert.False(t, ok)
		assert.Zero(t, consumed)
		assert.Equal(t, i, examined)
	}
}

func TestParseRequestLine_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"missing method", " /plaintext HTTP/1.1\r\n", ErrInvalidRequestLine},
		{"no separators", "GET\r\n", ErrInvalidRequestLine},
		{"missing target", "GET  HTTP/1.1\r\n", ErrInvalidRequestLine},
		{"missing version", "GET /plaintext\r\n", ErrInvalidRequestLine},
		{"bare LF", "GET /plaintext HTTP/1.1\n", ErrInvalidRequestLine},
		{"empty line", "\r\n", ErrInvalidRequestLine},
		{"bad method byte", "G(T /plaintext HTTP/1.1\r\n", ErrInvalidRequestLine},
		{"control in target", "GET /a\x01b HTTP/1.1\r\n", ErrInvalidRequestLine},
		{"garbage version", "GET / FOO\r\n", ErrInvalidRequestLine},
		{"http/1.0", "GET / HTTP/1.0\r\n", ErrUnsupportedVersion},
		{"http/2.0", "GET / HTTP/2.0\r\n", ErrUnsupportedVersion},
		{"lowercase version", "GET / http/1.1\r\n", ErrInvalidRequestLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req RequestLine
			_, _, ok, err := ParseRequestLine([]byte(tt.input), &req)
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestRequestLine_InlineOverflow(t *testing.T) {
	long := "/" + strings.Repeat("a", 300)
	var req RequestLine

	_, _, ok, err := ParseRequestLine([]byte("GET "+long+"?q=1 HTTP/1.1\r\n"), &req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, req.Overflowed())
	assert.Equal(t, long, string(req.Path()))
	assert.Equal(t, "q=1", string(req.Query()))

	_, _, ok, err = ParseRequestLine([]byte("GET /json HTTP/1.1\r\n"), &req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, req.Overflowed())
	assert.Equal(t, "/json", string(req.Path()))
}

type field struct{ name, value string }

func collect(fields *[]field) HeaderFunc {
	return func(name, value []byte) error {
		*fields = append(*fields, field{string(name), string(value)})
		return nil
	}
}

func TestParseHeaders(t *testing.T) {
	block := "Host: localhost\r\nConnection:keep-alive\r\nX-Pad: \t padded \t\r\nEmpty:\r\n\r\nGET"

	var fields []field
	consumed, examined, done, err := ParseHeaders([]byte(block), collect(&fields))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, len(block)-len("GET"), consumed)
	assert.Equal(t, consumed, examined)
	assert.Equal(t, []field{
		{"Host", "localhost"},
		{"Connection", "keep-alive"},
		{"X-Pad", "padded"},
		{"Empty", ""},
	}, fields)
}

func TestParseHeaders_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no colon", "Host localhost\r\n\r\n"},
		{"empty name", ": value\r\n\r\n"},
		{"space before colon", "Host : x\r\n\r\n"},
		{"bare LF line", "Host: x\n\r\n"},
		{"bare LF terminator", "Host: x\r\n\n"},
		{"CR without LF", "Host: x\r\n\rX"},
		{"obs-fold", "Host: x\r\n continued\r\n\r\n"},
		{"control in value", "Host: a\x00b\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields []field
			_, _, done, err := ParseHeaders([]byte(tt.input), collect(&fields))
			assert.False(t, done)
			assert.ErrorIs(t, err, ErrInvalidHeader)
		})
	}
}

// Splitting a request at every byte boundary must produce exactly the same
// fields as parsing it whole.
func TestParseHeaders_SplitInvariant(t *testing.T) {
	block := []byte("Host: localhost:8081\r\nConnection: keep-alive\r\nAccept: */*\r\n\r\n")

	var whole []field
	_, _, done, err := ParseHeaders(block, collect(&whole))
	require.NoError(t, err)
	require.True(t, done)

	for split := 0; split <= len(block); split++ {
		var got []field
		fn := collect(&got)

		buf := append([]byte(nil), block[:split]...)
		consumed, examined, done, err := ParseHeaders(buf, fn)
		require.NoError(t, err)
		require.LessOrEqual(t, consumed, examined)
		require.LessOrEqual(t, examined, len(buf))

		if !done {
			buf = append(buf[consumed:], block[split:]...)
			_, _, done, err = ParseHeaders(buf, fn)
			require.NoError(t, err)
		}
		require.True(t, done, "split at %d", split)
		assert.Equal(t, whole, got, "split at %d", split)
	}
}

func TestParseMethod(t *testing.T) {
	for m := MethodGet; m <= MethodPatch; m++ {
		assert.Equal(t, m, ParseMethod([]byte(m.String())))
	}
	assert.Equal(t, MethodCustom, ParseMethod([]byte("get")))
	assert.Equal(t, MethodCustom, ParseMethod([]byte("PROPFIND")))
	assert.Equal(t, "", MethodCustom.String())
}

func BenchmarkParseRequest(b *testing.B) {
	data := []byte("GET /plaintext HTTP/1.1\r\nHost: localhost\r\nAccept: text/plain\r\nConnection: keep-alive\r\n\r\n")
	var req RequestLine
	noop := func(name, value []byte) error { return nil }

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		n, _, _, _ := ParseRequestLine(data, &req)
		ParseHeaders(data[n:], noop)
	}
}
