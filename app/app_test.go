package app

import (
	"context"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/searchktools/fast-bench/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(mode config.Mode) config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ThreadCount = 2
	cfg.GCPercent = 0
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func runApp(t *testing.T, cfg config.Config) (*App, string) {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})

	require.Eventually(t, func() bool { return a.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return a, a.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &nethttp.Client{Transport: &nethttp.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp_Modes(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeHandler, config.ModeRaw, config.ModeHeaders, config.ModeFramework, config.ModeWebSocket} {
		t.Run(string(mode), func(t *testing.T) {
			_, addr := runApp(t, testConfig(mode))

			status, body := get(t, "http://"+addr+"/plaintext")
			assert.Equal(t, nethttp.StatusOK, status)
			assert.Equal(t, "Hello, World!", body)

			status, body = get(t, "http://"+addr+"/json")
			assert.Equal(t, nethttp.StatusOK, status)
			assert.Equal(t, "Hello, World!", gjson.Get(body, "message").String())
		})
	}
}

func TestApp_WebSocketCountsFrames(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeWebSocket, config.ModeFramework} {
		t.Run(string(mode), func(t *testing.T) {
			a, addr := runApp(t, testConfig(mode))

			ws, _, err := gorilla.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
			require.NoError(t, err)
			defer ws.Close()

			require.NoError(t, ws.WriteMessage(gorilla.TextMessage, []byte("ping")))
			_, msg, err := ws.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, "ping", string(msg))
			assert.EqualValues(t, 1, a.Metrics().Snapshot().Frames)
		})
	}
}

func TestApp_Proxy(t *testing.T) {
	upstream := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	}))
	defer upstream.Close()

	cfg := testConfig(config.ModeProxy)
	cfg.Upstream = upstream.URL
	_, addr := runApp(t, cfg)

	status, body := get(t, "http://"+addr+"/anything")
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "upstream /anything", body)
}

func TestApp_Echo(t *testing.T) {
	_, addr := runApp(t, testConfig(config.ModeEcho))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(config.ModeProxy)
	_, err := New(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "proxy mode requires an upstream")
}

func TestApp_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(config.ModeHandler)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.ThreadCount = 1
	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	assert.Error(t, a.Run(context.Background()))
}
