//go:build linux || darwin

package core

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/poller"
)

// loopConn is a non-blocking connection owned by one event loop.
type loopConn struct {
	fd         int
	remote     net.Addr
	conn       *http.Conn
	out        fdWriter
	lastActive time.Time
}

// fdWriter writes a whole response to a non-blocking socket, waiting for
// writability when the send buffer is full.
type fdWriter struct {
	fd      int
	timeout time.Duration
}

var errWriteTimeout = errors.New("write timed out")

func (w *fdWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(w.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if err := w.waitWritable(); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

func (w *fdWriter) waitWritable() error {
	timeout := -1
	if w.timeout > 0 {
		timeout = int(w.timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errWriteTimeout
		}
		return nil
	}
}

// eventLoop multiplexes the connections accepted on its own listener.
type eventLoop struct {
	e      *Engine
	id     int
	poller poller.Poller
	lfile  *os.File
	lfd    int
	conns  map[int]*loopConn

	lastSweep time.Time
}

func (e *Engine) serveEventLoops() error {
	if e.opts.Factory == nil {
		return ErrNoHandler
	}

	lns, err := e.listen(false)
	if err != nil {
		return err
	}

	loops := make([]*eventLoop, 0, len(lns))
	for i, ln := range lns {
		l, err := newEventLoop(e, i, ln)
		if err != nil {
			for _, l := range loops {
				l.close()
			}
			for _, ln := range lns[i:] {
				_ = ln.Close()
			}
			return err
		}
		loops = append(loops, l)
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		for _, l := range loops {
			l.close()
		}
		return ErrServerClosed
	}
	e.wg.Add(len(loops))
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"addr":      lns[0].Addr().String(),
		"listeners": len(loops),
		"transport": "eventloop",
	}).Info("Listening")

	errs := make(chan error, len(loops))
	for _, l := range loops {
		go func(l *eventLoop) {
			defer e.wg.Done()
			errs <- l.run()
		}(l)
	}

	var first error
	for range loops {
		if err := <-errs; err != nil && first == nil {
			first = err
			_ = e.Close()
		}
	}
	if first != nil {
		return first
	}
	return ErrServerClosed
}

func newEventLoop(e *Engine, id int, ln net.Listener) (*eventLoop, error) {
	tl, ok := ln.(interface{ File() (*os.File, error) })
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listener %T has no file descriptor", ln)
	}
	f, err := tl.File()
	// The duplicated descriptor keeps the socket listening.
	_ = ln.Close()
	if err != nil {
		return nil, err
	}
	lfd := int(f.Fd())
	if err := unix.SetNonblock(lfd, true); err != nil {
		_ = f.Close()
		return nil, err
	}

	p, err := poller.NewPoller()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := p.Add(lfd); err != nil {
		_ = p.Close()
		_ = f.Close()
		return nil, err
	}

	return &eventLoop{
		e:         e,
		id:        id,
		poller:    p,
		lfile:     f,
		lfd:       lfd,
		conns:     make(map[int]*loopConn),
		lastSweep: time.Now(),
	}, nil
}

func (l *eventLoop) run() error {
	defer l.close()

	for {
		if l.e.closed.Load() {
			l.stopListening()
			l.drain()
			if len(l.conns) == 0 {
				return nil
			}
		}

		fds, err := l.poller.Wait(eventLoopWait)
		if err != nil {
			return err
		}
		for _, fd := range fds {
			if fd == l.lfd {
				l.accept()
				continue
			}
			if lc, ok := l.conns[fd]; ok {
				l.handle(lc)
			}
		}

		if now := time.Now(); now.Sub(l.lastSweep) >= idleSweepInterval {
			l.sweep(now)
			l.lastSweep = now
		}
	}
}

func (l *eventLoop) accept() {
	for {
		nfd, sa, err := unix.Accept(l.lfd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR && err != unix.ECONNABORTED {
				l.e.logger.WithError(err).WithField("loop", l.id).Warn("Accept error")
			}
			return
		}

		limit := int64(l.e.opts.MaxConnections)
		if limit > 0 && l.e.OpenConnections() >= limit {
			_ = unix.Close(nfd)
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			continue
		}
		unix.CloseOnExec(nfd)
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		if err := l.poller.Add(nfd); err != nil {
			_ = unix.Close(nfd)
			continue
		}

		lc := &loopConn{
			fd:         nfd,
			remote:     sockaddrToAddr(sa),
			conn:       l.e.conns.Get(),
			lastActive: time.Now(),
		}
		lc.out = fdWriter{fd: nfd, timeout: l.e.opts.WriteTimeout}
		lc.conn.AttachWriter(&lc.out, l.e.opts.Factory())
		l.conns[nfd] = lc
		l.e.connOpened()
	}
}

func (l *eventLoop) handle(lc *loopConn) {
	buf, err := lc.conn.ReadSpace()
	if err != nil {
		l.closeConn(lc, err)
		return
	}

	n, err := unix.Read(lc.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return
	case err != nil:
		l.closeConn(lc, err)
		return
	case n == 0:
		l.closeConn(lc, lc.conn.CloseInput())
		return
	}

	lc.lastActive = time.Now()
	lc.conn.Received(n)
	if err := lc.conn.Process(l.e.ctx); err != nil {
		l.closeConn(lc, err)
		return
	}
	if lc.conn.State() == http.StateClosed {
		l.closeConn(lc, nil)
	}
}

// idle reports whether lc waits between requests.
func idle(lc *loopConn) bool {
	return lc.conn.State() == http.StateStartLine && lc.conn.Buffered() == 0
}

// sweep closes connections past their idle or read timeout.
func (l *eventLoop) sweep(now time.Time) {
	for _, lc := range l.conns {
		timeout := l.e.opts.ReadTimeout
		if idle(lc) {
			timeout = l.e.opts.IdleTimeout
		}
		if timeout > 0 && now.Sub(lc.lastActive) > timeout {
			var err error
			if !idle(lc) {
				err = os.ErrDeadlineExceeded
			}
			l.closeConn(lc, err)
		}
	}
}

// drain closes idle connections, or every connection once the drain
// deadline passed.
func (l *eventLoop) drain() {
	forced := l.e.forced.Load()
	for _, lc := range l.conns {
		if forced || idle(lc) {
			l.closeConn(lc, nil)
		}
	}
}

func (l *eventLoop) stopListening() {
	if l.lfile == nil {
		return
	}
	_ = l.poller.Remove(l.lfd)
	_ = l.lfile.Close()
	l.lfile = nil
}

func (l *eventLoop) closeConn(lc *loopConn, err error) {
	_ = l.poller.Remove(lc.fd)
	_ = unix.Close(lc.fd)
	delete(l.conns, lc.fd)

	requests := lc.conn.Requests()
	l.e.conns.Put(lc.conn)
	l.e.connClosed(lc.remote, requests, err)
}

func (l *eventLoop) close() {
	for _, lc := range l.conns {
		l.closeConn(lc, nil)
	}
	l.stopListening()
	_ = l.poller.Close()
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return nil
}

const eventLoopSupported = true
