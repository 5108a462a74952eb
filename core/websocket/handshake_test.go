package websocket

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"net"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/searchktools/fast-bench/core/http"
)

func TestAcceptKey(t *testing.T) {
	var dst [AcceptKeySize]byte
	AcceptKey(&dst, []byte("dGhlIHNhbXBsZSBub25jZQ=="))
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", string(dst[:]))
}

func TestAcceptKey_LongKey(t *testing.T) {
	key := strings.Repeat("k", 100)
	sum := sha1.Sum([]byte(key + magicGUID))

	var dst [AcceptKeySize]byte
	AcceptKey(&dst, []byte(key))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), string(dst[:]))
}

func TestAcceptKey_NoAllocs(t *testing.T) {
	key := []byte("dGhlIHNhbXBsZSBub25jZQ==")
	var dst [AcceptKeySize]byte
	allocs := testing.AllocsPerRun(100, func() {
		AcceptKey(&dst, key)
	})
	assert.Zero(t, allocs)
}

func TestKeyBuffer(t *testing.T) {
	var k KeyBuffer

	assert.False(t, k.Capture([]byte("sec-websocket-key"), []byte("abc")))
	assert.Nil(t, k.Key())

	assert.True(t, k.Capture([]byte("Sec-WebSocket-Key"), []byte("abc")))
	assert.Equal(t, "abc", string(k.Key()))

	long := strings.Repeat("x", 80)
	assert.True(t, k.Capture([]byte("Sec-WebSocket-Key"), []byte(long)))
	assert.Equal(t, long, string(k.Key()))

	k.Reset()
	assert.Nil(t, k.Key())
}

func TestWriteHandshake(t *testing.T) {
	w := http.NewBufferWriter(nil)
	WriteHandshake(w, []byte("s3pPLMBiTxaQ9kYGzzhZRbK+xOo="))
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n", string(w.Bytes()))
}

// upgradeHandler upgrades every request it sees.
type upgradeHandler struct {
	upgrader *Upgrader
	key      KeyBuffer
}

func (h *upgradeHandler) OnStartLine(*http.Conn) error {
	h.key.Reset()
	return nil
}

func (h *upgradeHandler) OnHeader(_ *http.Conn, name, value []byte) error {
	h.key.Capture(name, value)
	return nil
}

func (h *upgradeHandler) OnBody(ctx context.Context, c *http.Conn) error {
	return h.upgrader.Upgrade(ctx, c, h.key.Key())
}

func startUpgradeServer(t *testing.T, opts EchoOptions) (net.Conn, <-chan error) {
	t.Helper()

	server, client := net.Pipe()
	c := http.NewConn(&http.ConnConfig{})
	c.Attach(server, &upgradeHandler{upgrader: &Upgrader{Options: opts}})

	done := make(chan error, 1)
	go func() {
		err := c.Serve(context.Background())
		c.Reset()
		server.Close()
		done <- err
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func TestUpgrader_EchoWithClient(t *testing.T) {
	defer goleak.VerifyNone(t)

	var frames []OpCode
	client, done := startUpgradeServer(t, EchoOptions{
		OnFrame: func(op OpCode) { frames = append(frames, op) },
	})

	dialer := gorilla.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return client, nil },
		HandshakeTimeout: 5 * time.Second,
	}
	ws, resp, err := dialer.Dial("ws://bench.local/ws", nil)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, ws.WriteMessage(gorilla.TextMessage, []byte("hello")))
	typ, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gorilla.TextMessage, typ)
	assert.Equal(t, "hello", string(msg))

	pongs := make(chan string, 1)
	ws.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})
	require.NoError(t, ws.WriteControl(gorilla.PingMessage, []byte("p"), time.Now().Add(time.Second)))
	// The pipe is unbuffered: the pong must be read while the next frame is written.
	written := make(chan error, 1)
	go func() { written <- ws.WriteMessage(gorilla.BinaryMessage, []byte{1, 2, 3}) }()
	typ, msg, err = ws.ReadMessage()
	require.NoError(t, <-written)
	require.NoError(t, err)
	assert.Equal(t, gorilla.BinaryMessage, typ)
	assert.Equal(t, []byte{1, 2, 3}, msg)
	assert.Equal(t, "p", <-pongs)

	// The client already sent Close, so record the reply instead of answering it.
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
	assert.Equal(t, []OpCode{OpText, OpPing, OpBinary, OpClose}, frames)
}

func TestUpgrader_MissingKey(t *testing.T) {
	client, done := startUpgradeServer(t, EchoOptions{})

	_, err := client.Write([]byte("GET /ws HTTP/1.1\r\nUpgrade: websocket\r\n\r\n"))
	require.NoError(t, err)

	resp, err := nethttp.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	require.NoError(t, <-done)
}

func TestUpgrader_PushModeUnsupported(t *testing.T) {
	c := http.NewConn(&http.ConnConfig{})
	var out strings.Builder
	c.AttachWriter(&out, &upgradeHandler{upgrader: &Upgrader{}})
	defer c.Reset()

	req := "GET /ws HTTP/1.1\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	buf, err := c.ReadSpace()
	require.NoError(t, err)
	c.Received(copy(buf, req))

	assert.ErrorIs(t, c.Process(context.Background()), http.ErrHijackUnsupported)
	assert.Equal(t, http.StateClosed, c.State())
	assert.Empty(t, out.String())
}
