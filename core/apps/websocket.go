package apps

import (
	"bytes"
	"context"

	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/websocket"
)

// WebSocket serves the benchmark table and upgrades GET requests for its
// upgrade path to the echo frame loop.
type WebSocket struct {
	Benchmark
	path     []byte
	upgrader *websocket.Upgrader
	key      websocket.KeyBuffer
	upgrade  bool
}

// NewWebSocket returns a HandlerFactory for the websocket mode.
func NewWebSocket(table *http.PathTable, path string, upgrader *websocket.Upgrader) http.HandlerFactory {
	upgradePath := []byte(path)
	return func() http.Handler {
		return &WebSocket{
			Benchmark: Benchmark{table: table},
			path:      upgradePath,
			upgrader:  upgrader,
		}
	}
}

func (h *WebSocket) OnStartLine(c *http.Conn) error {
	h.key.Reset()
	h.upgrade = c.Method() == http.MethodGet && bytes.Equal(c.Path(), h.path)
	return h.Benchmark.OnStartLine(c)
}

func (h *WebSocket) OnHeader(_ *http.Conn, name, value []byte) error {
	if h.upgrade {
		h.key.Capture(name, value)
	}
	return nil
}

func (h *WebSocket) OnBody(ctx context.Context, c *http.Conn) error {
	if h.upgrade {
		return h.upgrader.Upgrade(ctx, c, h.key.Key())
	}
	return h.Benchmark.OnBody(ctx, c)
}
