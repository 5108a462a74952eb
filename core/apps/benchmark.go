package apps

import (
	"context"

	"github.com/searchktools/fast-bench/core/http"
)

// PlaintextResponder answers with the plaintext body.
func PlaintextResponder(_ context.Context, c *http.Conn) error {
	writePlaintext(c)
	return nil
}

// JSONResponder answers with the JSON message.
func JSONResponder(_ context.Context, c *http.Conn) error {
	return writeJSON(c)
}

// BenchmarkRoutes returns the exact routes of the benchmark endpoints.
func BenchmarkRoutes() []http.Route {
	return []http.Route{
		{Path: "/plaintext", Responder: PlaintextResponder},
		{Path: "/json", Responder: JSONResponder},
	}
}

// Benchmark dispatches GET requests through a PathTable. Other methods get
// 400, unknown paths 404, and protocol errors a 400 before the close.
type Benchmark struct {
	table     *http.PathTable
	responder http.Responder
	status    http.Status
}

// NewBenchmark returns a HandlerFactory for the handler mode sharing table.
func NewBenchmark(table *http.PathTable) http.HandlerFactory {
	return func() http.Handler {
		return &Benchmark{table: table}
	}
}

func (h *Benchmark) OnStartLine(c *http.Conn) error {
	h.responder = nil
	if c.Method() != http.MethodGet {
		h.status = http.StatusBadRequest
		return nil
	}
	h.status = http.StatusNotFound
	if r, ok := h.table.Lookup(c.Path()); ok {
		h.responder = r
	}
	return nil
}

func (h *Benchmark) OnHeader(*http.Conn, []byte, []byte) error { return nil }

func (h *Benchmark) OnBody(ctx context.Context, c *http.Conn) error {
	if h.responder == nil {
		writeStatus(c, h.status)
		return nil
	}
	return h.responder(ctx, c)
}

// RespondError answers malformed requests with 400.
func (h *Benchmark) RespondError(c *http.Conn, _ error) {
	writeStatus(c, http.StatusBadRequest)
}
