// Package proxy relays requests parsed by the connection engine to a fixed
// upstream HTTP server and streams the responses back.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	nethttp "net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/pools"
)

// ErrUpstream is returned when the upstream call fails. It closes the
// downstream connection without a further response.
var ErrUpstream = errors.New("upstream request failed")

// Option configures a Relay.
type Option func(*Relay)

// WithClient replaces the outbound client.
func WithClient(c *nethttp.Client) Option {
	return func(r *Relay) { r.client = c }
}

// WithBufferPool sets the pool body copy buffers come from.
func WithBufferPool(p *pools.BufferPool) Option {
	return func(r *Relay) { r.bufs = p }
}

// Relay forwards requests to one upstream base URL.
type Relay struct {
	base   string
	client *nethttp.Client
	bufs   *pools.BufferPool
}

// NewRelay creates a relay for upstream, an absolute http or https URL.
// The request target is appended to it.
func NewRelay(upstream string, opts ...Option) (*Relay, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", upstream, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: want an absolute http(s) URL", upstream)
	}

	r := &Relay{base: strings.TrimSuffix(u.String(), "/")}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = DefaultClient()
	}
	if r.bufs == nil {
		r.bufs = pools.NewBufferPool()
	}
	return r, nil
}

// DefaultClient returns the outbound client used when none is configured:
// traced with otelhttp, no transparent decompression so bodies are relayed
// as sent, redirects passed through.
func DefaultClient() *nethttp.Client {
	transport := &nethttp.Transport{
		Proxy:               nethttp.ProxyFromEnvironment,
		DisableCompression:  true,
		MaxIdleConns:        4096,
		MaxIdleConnsPerHost: 4096,
		IdleConnTimeout:     90 * time.Second,
	}
	return &nethttp.Client{
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(*nethttp.Request, []*nethttp.Request) error {
			return nethttp.ErrUseLastResponse
		},
	}
}

// NewHandler returns the connection handler. Each connection needs its own.
func (r *Relay) NewHandler() http.Handler {
	return &handler{relay: r, header: make(nethttp.Header)}
}

var headerHost = []byte("Host")

type handler struct {
	relay  *Relay
	header nethttp.Header
}

func (h *handler) OnStartLine(*http.Conn) error {
	clear(h.header)
	return nil
}

func (h *handler) OnHeader(_ *http.Conn, name, value []byte) error {
	if bytes.EqualFold(name, headerHost) {
		return nil
	}
	h.header.Add(string(name), string(value))
	return nil
}

func (h *handler) OnBody(ctx context.Context, c *http.Conn) error {
	return h.relay.Forward(ctx, c, h.header)
}

// Forward sends the current request of c upstream with header and streams
// the response into c.
func (r *Relay) Forward(ctx context.Context, c *http.Conn, header nethttp.Header) error {
	// A drain must not abort a response that is already being relayed.
	req, err := nethttp.NewRequestWithContext(context.WithoutCancel(ctx),
		c.MethodName(), r.base+string(c.Target()), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header = header.Clone()

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	bodyless := c.Method() == http.MethodHead ||
		(resp.StatusCode >= 100 && resp.StatusCode < 200) ||
		resp.StatusCode == nethttp.StatusNoContent ||
		resp.StatusCode == nethttp.StatusNotModified
	chunked := !bodyless && resp.ContentLength < 0

	w := c.Response()
	writeHead(w, resp, bodyless, chunked, c.KeepAlive())
	if err := c.Flush(); err != nil {
		return err
	}
	if bodyless {
		return nil
	}

	return r.copyBody(c, resp.Body, chunked)
}

func (r *Relay) copyBody(c *http.Conn, body io.Reader, chunked bool) error {
	bufp := r.bufs.Get(pools.SmallBufferSize)
	defer r.bufs.Put(bufp)
	buf := (*bufp)[:cap(*bufp)]

	w := c.Response()
	var dst io.Writer = w
	var cw io.WriteCloser
	if chunked {
		cw = httputil.NewChunkedWriter(w)
		dst = cw
	}

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			_, _ = dst.Write(buf[:n])
			if err := c.Flush(); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: %w", ErrUpstream, rerr)
		}
	}

	if chunked {
		_ = cw.Close()
		_, _ = w.WriteString("\r\n")
		return c.Flush()
	}
	return nil
}

// Framing headers are replaced by the relay's own.
var skipResponseHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
}

func writeHead(w *http.BufferWriter, resp *nethttp.Response, bodyless, chunked, keepAlive bool) {
	w.WriteString("HTTP/1.1 ")
	w.WriteNumeric(uint64(resp.StatusCode))
	w.WriteByte(' ')
	if text := statusText(resp); text != "" {
		w.WriteString(text)
	}
	w.WriteString("\r\n")

	for _, name := range slices.Sorted(maps.Keys(resp.Header)) {
		if skipResponseHeaders[name] {
			continue
		}
		for _, value := range resp.Header[name] {
			w.WriteString(name)
			w.WriteString(": ")
			w.WriteString(value)
			w.WriteString("\r\n")
		}
	}

	switch {
	case chunked:
		w.WriteString("Transfer-Encoding: chunked\r\n")
	case !bodyless || resp.ContentLength > 0:
		w.WriteString("Content-Length: ")
		w.WriteNumeric(uint64(max(resp.ContentLength, 0)))
		w.WriteString("\r\n")
	}
	if keepAlive {
		w.WriteString("Connection: keep-alive\r\n")
	}
	w.WriteString("\r\n")
}

// statusText returns the reason phrase the upstream sent, falling back to
// the standard one.
func statusText(resp *nethttp.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text, ok := strings.CutPrefix(resp.Status, code+" "); ok {
		return text
	}
	return nethttp.StatusText(resp.StatusCode)
}
