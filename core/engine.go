// Package core runs the connection engine: it owns the listeners, schedules
// connections on goroutines or event loops and drains them on shutdown.
package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/observability"
	"github.com/searchktools/fast-bench/core/pools"
	"github.com/searchktools/fast-bench/core/proxy"
)

// StreamHandler serves a raw connection without HTTP parsing.
type StreamHandler func(ctx context.Context, conn net.Conn) error

// Options configures an Engine.
type Options struct {
	Addr      string
	Threads   int
	EventLoop bool

	// Exactly one of Factory and Stream is used; Stream wins. The event
	// loop transport only supports Factory.
	Factory http.HandlerFactory
	Stream  StreamHandler

	MaxConnections  int
	MaxRequestBytes int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration

	BytePool   *pools.BytePool
	BufferPool *pools.BufferPool
	Dates      *http.DateCache

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
}

// Engine accepts connections and serves each one start-to-finish on a
// single goroutine or event loop.
type Engine struct {
	opts  Options
	cfg   http.ConnConfig
	conns *pools.ConnectionPool[*http.Conn]

	logger     logrus.FieldLogger
	logLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    atomic.Bool
	forced    atomic.Bool
	listeners []net.Listener
	addr      net.Addr
	active    map[net.Conn]struct{}
	wg        sync.WaitGroup
	open      atomic.Int64
}

// NewEngine creates an engine. Missing pools, date cache and logger are
// created here so every connection shares them.
func NewEngine(opts Options) *Engine {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.BytePool == nil {
		opts.BytePool = pools.NewBytePool()
	}
	if opts.BufferPool == nil {
		opts.BufferPool = pools.NewBufferPool()
	}
	if opts.Dates == nil {
		opts.Dates = http.NewDateCache(nil)
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = opts.BytePool.MaxSize()
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}

	e := &Engine{
		opts: opts,
		cfg: http.ConnConfig{
			BytePool:        opts.BytePool,
			BufferPool:      opts.BufferPool,
			Dates:           opts.Dates,
			MaxRequestBytes: opts.MaxRequestBytes,
			ReadTimeout:     opts.ReadTimeout,
			IdleTimeout:     opts.IdleTimeout,
			WriteTimeout:    opts.WriteTimeout,
		},
		logger:     opts.Logger,
		logLimiter: rate.NewLimiter(rate.Limit(10), 20),
		active:     make(map[net.Conn]struct{}),
	}
	e.conns = pools.NewConnectionPool(func() *http.Conn { return http.NewConn(&e.cfg) })
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Listen binds one listener per thread with SO_REUSEPORT, or a single one
// where the platform lacks it. Port 0 is resolved by the first listener and
// shared by the rest.
func (e *Engine) Listen() ([]net.Listener, error) {
	return e.listen(true)
}

// listen binds the listeners; limit wraps them to enforce MaxConnections.
// The event loop counts connections itself and needs the raw listeners
// for their file descriptors.
func (e *Engine) listen(limit bool) ([]net.Listener, error) {
	n := e.opts.Threads
	if !reusePort {
		n = 1
	}

	lc := listenConfig()
	addr := e.opts.Addr
	lns := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		ln, err := lc.Listen(context.Background(), "tcp", addr)
		if err != nil {
			for _, l := range lns {
				_ = l.Close()
			}
			return nil, err
		}
		if i == 0 {
			addr = ln.Addr().String()
		}
		if limit && e.opts.MaxConnections > 0 {
			ln = netutil.LimitListener(ln, max(1, e.opts.MaxConnections/n))
		}
		lns = append(lns, ln)
	}

	e.mu.Lock()
	e.addr = lns[0].Addr()
	e.mu.Unlock()
	return lns, nil
}

// Addr returns the bound address once listening, or nil.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// ListenAndServe listens on the configured address and serves with the
// configured transport until Shutdown.
func (e *Engine) ListenAndServe() error {
	if e.opts.Factory == nil && e.opts.Stream == nil {
		return ErrNoHandler
	}
	if e.opts.EventLoop {
		return e.serveEventLoops()
	}
	lns, err := e.Listen()
	if err != nil {
		return err
	}
	return e.Serve(lns...)
}

// Serve accepts connections on every listener, one accept loop each, and
// serves each connection on its own goroutine. It returns ErrServerClosed
// after Shutdown.
func (e *Engine) Serve(lns ...net.Listener) error {
	if e.opts.Factory == nil && e.opts.Stream == nil {
		return ErrNoHandler
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		for _, ln := range lns {
			_ = ln.Close()
		}
		return ErrServerClosed
	}
	e.listeners = append(e.listeners, lns...)
	if e.addr == nil && len(lns) > 0 {
		e.addr = lns[0].Addr()
	}
	e.mu.Unlock()

	if len(lns) > 0 {
		e.logger.WithFields(logrus.Fields{
			"addr":      lns[0].Addr().String(),
			"listeners": len(lns),
			"transport": "goroutine",
		}).Info("Listening")
	}

	errs := make(chan error, len(lns))
	for _, ln := range lns {
		go func(ln net.Listener) {
			errs <- e.acceptLoop(ln)
		}(ln)
	}

	var first error
	for range lns {
		if err := <-errs; err != nil && first == nil && !errors.Is(err, ErrServerClosed) {
			first = err
			// One failing listener stops the server.
			_ = e.Close()
		}
	}
	if first != nil {
		return first
	}
	return ErrServerClosed
}

func (e *Engine) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if e.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				e.logger.WithError(err).Warnf("Accept error, retrying in %v", delay)
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		if !e.track(nc) {
			_ = nc.Close()
			return ErrServerClosed
		}
		go e.serveConn(nc)
	}
}

func (e *Engine) track(nc net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return false
	}
	e.active[nc] = struct{}{}
	e.wg.Add(1)
	return true
}

func (e *Engine) untrack(nc net.Conn) {
	e.mu.Lock()
	delete(e.active, nc)
	e.mu.Unlock()
	e.wg.Done()
}

func (e *Engine) serveConn(nc net.Conn) {
	defer e.untrack(nc)
	defer nc.Close()
	e.connOpened()

	if e.opts.Stream != nil {
		err := e.opts.Stream(e.ctx, nc)
		e.connClosed(nc.RemoteAddr(), 0, err)
		return
	}

	c := e.conns.Get()
	c.Attach(nc, e.opts.Factory())
	err := c.Serve(e.ctx)
	requests := c.Requests()
	e.conns.Put(c)
	e.connClosed(nc.RemoteAddr(), requests, err)
}

func (e *Engine) connOpened() {
	e.open.Add(1)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ConnectionOpened()
	}
}

func (e *Engine) connClosed(remote net.Addr, requests uint64, err error) {
	e.open.Add(-1)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ConnectionClosed(requests)
	}
	if err == nil {
		return
	}

	if kind, ok := classify(err); ok && e.opts.Metrics != nil {
		e.opts.Metrics.Error(kind)
	}
	if e.logLimiter.Allow() {
		e.logger.WithError(err).WithField("remote", remote).Debug("Connection closed with error")
	}
}

func classify(err error) (observability.ErrorKind, bool) {
	switch {
	case errors.Is(err, http.ErrProtocol):
		return observability.ErrorProtocol, true
	case errors.Is(err, http.ErrPrematureClose):
		return observability.ErrorPrematureClose, true
	case errors.Is(err, http.ErrWriteFailure):
		return observability.ErrorWrite, true
	case errors.Is(err, proxy.ErrUpstream):
		return observability.ErrorUpstream, true
	}
	return 0, false
}

// OpenConnections returns the number of connections being served.
func (e *Engine) OpenConnections() int64 { return e.open.Load() }

// Shutdown stops accepting and drains: requests being processed finish,
// connections close instead of waiting for the next request. When ctx
// expires first the remaining connections are closed and ctx's error is
// returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopAccepting()
	e.logger.WithField("connections", e.OpenConnections()).Info("Draining connections")

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(DefaultShutdownPoll)
	defer ticker.Stop()
	for {
		e.nudgeReaders()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			e.forceClose()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting and closes every connection immediately.
func (e *Engine) Close() error {
	e.stopAccepting()
	e.forceClose()
	return nil
}

func (e *Engine) stopAccepting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Swap(true) {
		return
	}
	e.cancel()
	for _, ln := range e.listeners {
		_ = ln.Close()
	}
}

// nudgeReaders expires pending reads so connections blocked waiting for a
// request notice the drain. Hijacked streams reset their deadline, so this
// repeats until they finish.
func (e *Engine) nudgeReaders() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for nc := range e.active {
		_ = nc.SetReadDeadline(now)
	}
}

func (e *Engine) forceClose() {
	e.forced.Store(true)
	e.mu.Lock()
	defer e.mu.Unlock()
	for nc := range e.active {
		_ = nc.Close()
	}
}
