package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/searchktools/fast-bench/core/pools"
)

// State is the parse state of a connection.
type State uint8

// Connection states
const (
	StateStartLine State = iota
	StateHeaders
	StateBody
	StateUpgraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStartLine:
		return "start-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateUpgraded:
		return "upgraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler is the capability set of a connection variant. A fresh Handler is
// selected for every connection by a HandlerFactory.
//
// OnStartLine runs once the request line is parsed, OnHeader for every
// header field (name and value alias the input buffer), OnBody once the
// header block is complete. OnBody composes the response through
// Conn.Response; the connection flushes it after OnBody returns.
type Handler interface {
	OnStartLine(c *Conn) error
	OnHeader(c *Conn, name, value []byte) error
	OnBody(ctx context.Context, c *Conn) error
}

// HandlerFactory creates the Handler for a new connection.
type HandlerFactory func() Handler

// ErrorResponder is implemented by handlers that answer protocol errors
// with a response before the connection closes.
type ErrorResponder interface {
	RespondError(c *Conn, err error)
}

// ConnConfig holds the resources and limits shared by all connections.
type ConnConfig struct {
	BytePool        *pools.BytePool
	BufferPool      *pools.BufferPool
	Dates           *DateCache
	MaxRequestBytes int
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
}

const defaultInputSize = pools.DefaultInputSize

var (
	headerConnection = []byte("Connection")
	valueKeepAlive   = []byte("keep-alive")
)

// Conn is the per-connection protocol state machine. It owns the input
// buffer and the output buffer and is driven either by Serve, which pulls
// from a blocking stream, or by an event loop through ReadSpace, Received
// and Process.
type Conn struct {
	cfg *ConnConfig

	handler  Handler
	stream   io.ReadWriter
	out      io.Writer
	onHeader HeaderFunc

	state State

	// in[start:end] holds received, unconsumed bytes
	in    []byte
	start int
	end   int

	req       RequestLine
	keepAlive bool
	requests  uint64

	resp    BufferWriter
	respBuf *[]byte
}

// NewConn creates an idle connection. Nil pools and date cache in cfg are
// replaced with private ones.
func NewConn(cfg *ConnConfig) *Conn {
	if cfg.BytePool == nil {
		cfg.BytePool = pools.NewBytePool()
	}
	if cfg.BufferPool == nil {
		cfg.BufferPool = pools.NewBufferPool()
	}
	if cfg.Dates == nil {
		cfg.Dates = NewDateCache(nil)
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = cfg.BytePool.MaxSize()
	}

	c := &Conn{cfg: cfg, state: StateClosed}
	c.onHeader = c.header
	c.req.reset()
	return c
}

// Attach binds c to a blocking stream served by Serve.
func (c *Conn) Attach(stream io.ReadWriter, h Handler) {
	c.attach(h)
	c.stream = stream
	c.out = stream
}

// AttachWriter binds c to an output for push-mode driving. Input is
// delivered with ReadSpace and Received.
func (c *Conn) AttachWriter(out io.Writer, h Handler) {
	c.attach(h)
	c.out = out
}

func (c *Conn) attach(h Handler) {
	c.handler = h
	c.state = StateStartLine
	c.in = c.cfg.BytePool.Get(defaultInputSize)
	c.start, c.end = 0, 0
	c.respBuf = c.cfg.BufferPool.Get(pools.SmallBufferSize)
	c.resp.buf = (*c.respBuf)[:0]
}

// Reset releases the buffers back to their pools and detaches the stream.
func (c *Conn) Reset() {
	if c.in != nil {
		c.cfg.BytePool.Put(c.in)
		c.in = nil
	}
	if c.respBuf != nil {
		*c.respBuf = c.resp.detach()
		c.cfg.BufferPool.Put(c.respBuf)
		c.respBuf = nil
	}
	c.handler = nil
	c.stream = nil
	c.out = nil
	c.state = StateClosed
	c.start, c.end = 0, 0
	c.req.reset()
	c.req.heap = nil
	c.keepAlive = false
	c.requests = 0
}

// State returns the current parse state.
func (c *Conn) State() State { return c.state }

// Method returns the request method.
func (c *Conn) Method() Method { return c.req.Method }

// MethodName returns the request method token.
func (c *Conn) MethodName() string { return c.req.MethodName() }

// Path returns the request path, valid until the next request.
func (c *Conn) Path() []byte { return c.req.Path() }

// Query returns the raw query string, or nil.
func (c *Conn) Query() []byte { return c.req.Query() }

// Target returns the raw request-target.
func (c *Conn) Target() []byte { return c.req.Target() }

// KeepAlive reports whether the request carried "Connection: keep-alive".
func (c *Conn) KeepAlive() bool { return c.keepAlive }

// SetKeepAlive overrides the keep-alive decision for the current request.
func (c *Conn) SetKeepAlive(v bool) { c.keepAlive = v }

// Requests returns the number of requests dispatched on this connection.
func (c *Conn) Requests() uint64 { return c.requests }

// Response returns the output buffer of the current response.
func (c *Conn) Response() *BufferWriter { return &c.resp }

// Dates returns the shared Date header cache.
func (c *Conn) Dates() *DateCache { return c.cfg.Dates }

// Buffered returns the number of received bytes not consumed yet.
func (c *Conn) Buffered() int { return c.end - c.start }

// Flush writes the pending output to the stream.
func (c *Conn) Flush() error {
	if c.resp.Len() == 0 {
		return nil
	}
	if c.cfg.WriteTimeout > 0 {
		if d, ok := c.out.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		}
	}
	if err := c.resp.Commit(c.out); err != nil {
		c.state = StateClosed
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}

// Hijackable reports whether Hijack can succeed.
func (c *Conn) Hijackable() bool { return c.stream != nil }

// Hijack hands the stream over to the caller and marks the connection
// Upgraded. Bytes received after the current request are replayed first.
// The returned stream is valid until OnBody returns.
func (c *Conn) Hijack() (io.ReadWriter, error) {
	if c.stream == nil {
		return nil, ErrHijackUnsupported
	}
	c.state = StateUpgraded
	if d, ok := c.stream.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Time{})
	}

	if c.start == c.end {
		return c.stream, nil
	}
	pending := c.in[c.start:c.end]
	c.start = c.end
	return &hijackedStream{
		Reader: io.MultiReader(bytes.NewReader(pending), c.stream),
		Writer: c.stream,
	}, nil
}

type hijackedStream struct {
	io.Reader
	io.Writer
}

// ReadSpace compacts the input buffer and returns the free space after the
// unconsumed bytes, growing the buffer up to MaxRequestBytes.
func (c *Conn) ReadSpace() ([]byte, error) {
	if c.start == c.end {
		c.start, c.end = 0, 0
	} else if c.start > 0 {
		c.end = copy(c.in, c.in[c.start:c.end])
		c.start = 0
	}

	if c.end == len(c.in) {
		grown, ok := c.cfg.BytePool.Grow(c.in, c.end, c.cfg.MaxRequestBytes)
		if !ok {
			return nil, c.fail(ErrRequestTooLarge)
		}
		c.in = grown
	}
	return c.in[c.end:], nil
}

// Received records n bytes written into the span returned by ReadSpace.
func (c *Conn) Received(n int) {
	c.end += n
}

// Process runs the state machine over the buffered input. It returns nil
// when more input is needed or the connection reached Closed or Upgraded;
// callers check State to tell them apart. A cancelled ctx makes the
// connection close after the response in progress.
func (c *Conn) Process(ctx context.Context) error {
	for {
		switch c.state {
		case StateStartLine:
			if c.start == c.end {
				return nil
			}
			consumed, _, ok, err := ParseRequestLine(c.in[c.start:c.end], &c.req)
			if err != nil {
				return c.fail(err)
			}
			if !ok {
				return nil
			}
			c.start += consumed
			c.keepAlive = false
			if err := c.handler.OnStartLine(c); err != nil {
				return c.fail(err)
			}
			c.state = StateHeaders

		case StateHeaders:
			consumed, _, done, err := ParseHeaders(c.in[c.start:c.end], c.onHeader)
			c.start += consumed
			if err != nil {
				return c.fail(err)
			}
			if !done {
				return nil
			}
			c.state = StateBody

		case StateBody:
			c.requests++
			err := c.handler.OnBody(ctx, c)
			if c.state == StateUpgraded {
				return err
			}
			if err != nil {
				c.state = StateClosed
				return err
			}
			if err := c.Flush(); err != nil {
				return err
			}
			if !c.keepAlive || ctx.Err() != nil {
				c.state = StateClosed
				return nil
			}
			c.req.reset()
			c.state = StateStartLine

		default:
			return nil
		}
	}
}

// Serve drives the connection from its stream until it closes, is
// upgraded, or fails. A stream ending between requests, or an idle read
// deadline expiring there, is a clean close.
func (c *Conn) Serve(ctx context.Context) error {
	for {
		if err := c.Process(ctx); err != nil {
			return err
		}
		if c.state == StateClosed || c.state == StateUpgraded {
			return nil
		}
		if c.idle() && ctx.Err() != nil {
			c.state = StateClosed
			return nil
		}

		buf, err := c.ReadSpace()
		if err != nil {
			return err
		}
		c.setReadDeadline()

		n, rerr := c.stream.Read(buf)
		c.Received(n)
		if rerr == nil {
			continue
		}
		if n > 0 {
			if err := c.Process(ctx); err != nil {
				return err
			}
			if c.state == StateClosed || c.state == StateUpgraded {
				return nil
			}
		}
		return c.endOfInput(rerr)
	}
}

// CloseInput tells a push-driven connection that its peer stopped sending.
func (c *Conn) CloseInput() error {
	return c.endOfInput(io.EOF)
}

func (c *Conn) idle() bool {
	return c.state == StateStartLine && c.start == c.end
}

func (c *Conn) endOfInput(err error) error {
	idle := c.idle()
	c.state = StateClosed
	if idle && (errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)) {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return ErrPrematureClose
	}
	return err
}

func (c *Conn) setReadDeadline() {
	timeout := c.cfg.ReadTimeout
	if c.idle() {
		timeout = c.cfg.IdleTimeout
	}
	if timeout <= 0 {
		return
	}
	if d, ok := c.stream.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now().Add(timeout))
	}
}

func (c *Conn) header(name, value []byte) error {
	if bytes.Equal(name, headerConnection) && bytes.Equal(value, valueKeepAlive) {
		c.keepAlive = true
	}
	return c.handler.OnHeader(c, name, value)
}

func (c *Conn) fail(err error) error {
	if errors.Is(err, ErrProtocol) {
		if r, ok := c.handler.(ErrorResponder); ok {
			c.resp.Reset()
			c.keepAlive = false
			r.RespondError(c, err)
			_ = c.Flush()
		}
	}
	c.state = StateClosed
	return err
}
