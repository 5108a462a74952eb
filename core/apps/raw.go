package apps

import (
	"bytes"
	"context"

	"github.com/mailru/easyjson/jwriter"

	"github.com/searchktools/fast-bench/core/http"
)

type route uint8

const (
	routeDefault route = iota
	routePlaintext
	routeJSON
)

var (
	pathPlaintext = []byte("/plaintext")
	pathJSON      = []byte("/json")
)

func matchPrefix(c *http.Conn) route {
	if c.Method() != http.MethodGet {
		return routeDefault
	}
	path := c.Path()
	switch {
	case bytes.HasPrefix(path, pathPlaintext):
		return routePlaintext
	case bytes.HasPrefix(path, pathJSON):
		return routeJSON
	}
	return routeDefault
}

// Raw composes responses directly with WriteResponse. GET requests for paths
// starting with /plaintext or /json get the benchmark bodies, anything else
// an empty 200.
type Raw struct {
	route route
}

// NewRaw returns the handler of the raw mode.
func NewRaw() http.Handler { return &Raw{} }

func (h *Raw) OnStartLine(c *http.Conn) error {
	h.route = matchPrefix(c)
	return nil
}

func (h *Raw) OnHeader(*http.Conn, []byte, []byte) error { return nil }

func (h *Raw) OnBody(_ context.Context, c *http.Conn) error {
	switch h.route {
	case routePlaintext:
		writePlaintext(c)
	case routeJSON:
		return writeJSON(c)
	default:
		writeStatus(c, http.StatusOK)
	}
	return nil
}

// Headers routes like Raw but fills a reused ResponseHeaders object and
// serializes it with CopyTo.
type Headers struct {
	route   route
	headers http.ResponseHeaders
	json    jwriter.Writer
}

// NewHeaders returns the handler of the headers mode.
func NewHeaders() http.Handler {
	return &Headers{headers: http.ResponseHeaders{Server: http.ServerName}}
}

func (h *Headers) OnStartLine(c *http.Conn) error {
	h.route = matchPrefix(c)
	return nil
}

func (h *Headers) OnHeader(*http.Conn, []byte, []byte) error { return nil }

func (h *Headers) OnBody(_ context.Context, c *http.Conn) error {
	h.headers.Reset()
	h.headers.Status = http.StatusOK
	h.headers.Date = c.Dates().Value()
	h.headers.KeepAlive = c.KeepAlive()

	w := c.Response()
	switch h.route {
	case routePlaintext:
		h.headers.ContentType = http.MediaTextPlain
		h.headers.ContentLength = len(plaintextBody)
		h.headers.CopyTo(w)
		w.Write(plaintextBody)
	case routeJSON:
		hello.MarshalEasyJSON(&h.json)
		if h.json.Error != nil {
			return h.json.Error
		}
		h.headers.ContentType = http.MediaJSON
		h.headers.ContentLength = h.json.Size()
		h.headers.CopyTo(w)
		if _, err := h.json.DumpTo(w); err != nil {
			return err
		}
	default:
		h.headers.CopyTo(w)
	}
	return nil
}
