package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/pools"
	"github.com/searchktools/fast-bench/core/websocket"
)

const head = "Server: fast-bench\r\nDate: Thu, 01 Jan 1970 00:00:00 GMT\r\n"

const (
	plaintextResponse = "HTTP/1.1 200 OK\r\n" + head +
		"Content-Type: text/plain\r\nContent-Length: 13\r\n\r\nHello, World!"
	jsonResponse = "HTTP/1.1 200 OK\r\n" + head +
		"Content-Type: application/json\r\nContent-Length: 27\r\n\r\n" + `{"message":"Hello, World!"}`
	emptyResponse      = "HTTP/1.1 200 OK\r\n" + head + "Content-Length: 0\r\n\r\n"
	notFoundResponse   = "HTTP/1.1 404 Not Found\r\n" + head + "Content-Length: 0\r\n\r\n"
	badRequestResponse = "HTTP/1.1 400 Bad Request\r\n" + head + "Content-Length: 0\r\n\r\n"
)

type stream struct {
	io.Reader
	out bytes.Buffer
}

func (s *stream) Write(p []byte) (int, error) { return s.out.Write(p) }

func testConfig() *http.ConnConfig {
	return &http.ConnConfig{Dates: http.NewDateCache(clock.NewMock())}
}

func serve(t *testing.T, h http.Handler, requests string) (string, error) {
	t.Helper()

	c := http.NewConn(testConfig())
	s := &stream{Reader: strings.NewReader(requests)}
	c.Attach(s, h)
	err := c.Serve(context.Background())
	c.Reset()
	return s.out.String(), err
}

func TestMessage_MatchesEncodingJSON(t *testing.T) {
	m := Message{Message: "Hello, \"World\" <&>"}
	got, err := m.MarshalJSON()
	require.NoError(t, err)

	want, err := json.Marshal(struct {
		Message string `json:"message"`
	}{m.Message})
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, "Hello, \"World\" <&>", gjson.GetBytes(got, "message").String())
}

func TestRawAndHeaders(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   string
	}{
		{"GET", "/plaintext", plaintextResponse},
		{"GET", "/plaintext/extra", plaintextResponse},
		{"GET", "/json", jsonResponse},
		{"GET", "/json?pretty=1", jsonResponse},
		{"GET", "/", emptyResponse},
		{"GET", "/other", emptyResponse},
		{"POST", "/plaintext", emptyResponse},
	}

	modes := map[string]func() http.Handler{"raw": NewRaw, "headers": NewHeaders}
	for mode, newHandler := range modes {
		for _, tt := range tests {
			t.Run(mode+" "+tt.method+" "+tt.target, func(t *testing.T) {
				got, err := serve(t, newHandler(), tt.method+" "+tt.target+" HTTP/1.1\r\n\r\n")
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestHeaders_KeepAliveIdempotent(t *testing.T) {
	req := "GET /json HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"
	got, err := serve(t, NewHeaders(), req+req)
	require.NoError(t, err)

	keepAlive := strings.Replace(jsonResponse, "\r\n\r\n", "\r\nConnection: keep-alive\r\n\r\n", 1)
	assert.Equal(t, keepAlive+keepAlive, got)
}

func TestBenchmark(t *testing.T) {
	factory := NewBenchmark(http.NewPathTable(BenchmarkRoutes()...))

	tests := []struct {
		name    string
		request string
		want    string
		err     error
	}{
		{"plaintext", "GET /plaintext HTTP/1.1\r\n\r\n", plaintextResponse, nil},
		{"json", "GET /json HTTP/1.1\r\n\r\n", jsonResponse, nil},
		{"exact only", "GET /plaintext/x HTTP/1.1\r\n\r\n", notFoundResponse, nil},
		{"not found", "GET /nope HTTP/1.1\r\n\r\n", notFoundResponse, nil},
		{"non-GET", "POST /plaintext HTTP/1.1\r\n\r\n", badRequestResponse, nil},
		{"malformed", "/plaintext HTTP/1.1\r\n\r\n", badRequestResponse, http.ErrInvalidRequestLine},
		{"bad version", "GET /json HTTP/1.0\r\n\r\n", badRequestResponse, http.ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := serve(t, factory(), tt.request)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func newWebSocketFactory() http.HandlerFactory {
	table := http.NewPathTable(BenchmarkRoutes()...)
	return NewWebSocket(table, "/ws", &websocket.Upgrader{})
}

func TestWebSocket_HTTPRoutes(t *testing.T) {
	factory := newWebSocketFactory()

	got, err := serve(t, factory(), "GET /plaintext HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, plaintextResponse, got)

	got, err = serve(t, factory(), "GET /ws HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
		"GET /json HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	missingKey := strings.Replace(badRequestResponse, "\r\n\r\n", "\r\nConnection: keep-alive\r\n\r\n", 1)
	assert.Equal(t, missingKey+jsonResponse, got)
}

func TestWebSocket_Echo(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, client := net.Pipe()
	defer client.Close()

	c := http.NewConn(testConfig())
	c.Attach(server, newWebSocketFactory()())
	done := make(chan error, 1)
	go func() {
		err := c.Serve(context.Background())
		c.Reset()
		server.Close()
		done <- err
	}()

	dialer := gorilla.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return client, nil },
		HandshakeTimeout: 5 * time.Second,
	}
	ws, _, err := dialer.Dial("ws://bench.local/ws", nil)
	require.NoError(t, err)

	for _, msg := range []string{"one", "two", strings.Repeat("x", 3000)} {
		require.NoError(t, ws.WriteMessage(gorilla.TextMessage, []byte(msg)))
		_, got, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}

	closeCode := -1
	ws.SetCloseHandler(func(code int, _ string) error {
		closeCode = code
		return nil
	})
	require.NoError(t, ws.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")))
	_, _, err = ws.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "got %v", err)
	assert.Equal(t, gorilla.CloseNormalClosure, closeCode)
	require.NoError(t, <-done)
}

func TestServeEcho(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, client := net.Pipe()
	bufs := pools.NewBufferPool()
	done := make(chan error, 1)
	go func() {
		done <- ServeEcho(context.Background(), server, bufs)
		server.Close()
	}()

	for _, msg := range []string{"ping", "raw bytes \x00\x01"} {
		_, err := client.Write([]byte(msg))
		require.NoError(t, err)
		got := make([]byte, len(msg))
		_, err = io.ReadFull(client, got)
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
	assert.Zero(t, bufs.Stats().Outstanding())
}

func BenchmarkBenchmark_Plaintext(b *testing.B) {
	h := NewBenchmark(http.NewPathTable(BenchmarkRoutes()...))()
	c := http.NewConn(&http.ConnConfig{})
	c.AttachWriter(io.Discard, h)
	defer c.Reset()

	req := []byte("GET /plaintext HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := c.ReadSpace()
		if err != nil {
			b.Fatal(err)
		}
		c.Received(copy(buf, req))
		if err := c.Process(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
