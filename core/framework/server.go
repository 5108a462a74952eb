// Package framework serves the benchmark endpoints through net/http, a
// router and a WebSocket library, as a baseline for the connection engine.
package framework

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/searchktools/fast-bench/core/apps"
	"github.com/searchktools/fast-bench/core/http"
)

// Options configures a Server.
type Options struct {
	Addr           string
	WebSocketPath  string
	MaxMessageSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Logger         logrus.FieldLogger

	// OnFrame, if set, observes every received WebSocket message.
	OnFrame func()
}

// Server is the framework-mode HTTP server.
type Server struct {
	opts     Options
	srv      *nethttp.Server
	upgrader gorilla.Upgrader

	mu      sync.Mutex
	addr    net.Addr
	sockets map[*gorilla.Conn]struct{}
	wg      sync.WaitGroup
}

var (
	plaintextBody = []byte("Hello, World!")
	hello         = &apps.Message{Message: "Hello, World!"}
)

// NewServer creates a server. It does not listen yet.
func NewServer(opts Options) *Server {
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/ws"
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Server{
		opts:    opts,
		sockets: make(map[*gorilla.Conn]struct{}),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.srv = &nethttp.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() nethttp.Handler {
	router := httprouter.New()
	router.GET("/plaintext", plaintext)
	router.GET("/json", jsonMessage)
	router.GET(s.opts.WebSocketPath, s.echo)
	return otelhttp.NewHandler(router, "fastbench")
}

func plaintext(w nethttp.ResponseWriter, _ *nethttp.Request, _ httprouter.Params) {
	h := w.Header()
	h["Server"] = []string{http.ServerName}
	h["Content-Type"] = []string{"text/plain"}
	_, _ = w.Write(plaintextBody)
}

func jsonMessage(w nethttp.ResponseWriter, _ *nethttp.Request, _ httprouter.Params) {
	w.Header()["Server"] = []string{http.ServerName}
	_, _, _ = easyjson.MarshalToHTTPResponseWriter(hello, w)
}

func (s *Server) echo(w nethttp.ResponseWriter, r *nethttp.Request, _ httprouter.Params) {
	ws, err := s.upgrader.Upgrade(w, r, nethttp.Header{"Server": {http.ServerName}})
	if err != nil {
		// The upgrader already replied with an error status.
		return
	}
	if !s.track(ws) {
		_ = ws.Close()
		return
	}
	defer s.untrack(ws)

	ws.SetReadLimit(s.opts.MaxMessageSize)
	for {
		typ, msg, err := ws.ReadMessage()
		if err != nil {
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				s.opts.Logger.WithError(err).Debug("WebSocket closed with error")
			}
			return
		}
		if s.opts.OnFrame != nil {
			s.opts.OnFrame()
		}
		if err := ws.WriteMessage(typ, msg); err != nil {
			return
		}
	}
}

func (s *Server) track(ws *gorilla.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sockets == nil {
		return false
	}
	s.sockets[ws] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(ws *gorilla.Conn) {
	s.mu.Lock()
	if s.sockets != nil {
		delete(s.sockets, ws)
	}
	s.mu.Unlock()
	_ = ws.Close()
	s.wg.Done()
}

// closeSockets sends a going-away Close to every WebSocket; hijacked
// connections are not tracked by net/http.
func (s *Server) closeSockets() {
	s.mu.Lock()
	sockets := s.sockets
	s.sockets = nil
	s.mu.Unlock()

	msg := gorilla.FormatCloseMessage(gorilla.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(time.Second)
	for ws := range sockets {
		_ = ws.WriteControl(gorilla.CloseMessage, msg, deadline)
		_ = ws.UnderlyingConn().Close()
	}
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.opts.Logger.WithFields(logrus.Fields{
		"addr":      ln.Addr().String(),
		"transport": "net/http",
	}).Info("Listening")
	return s.srv.Serve(ln)
}

// Addr returns the bound address once serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown drains the HTTP server, closes the WebSockets and waits for
// their loops to end.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.closeSockets()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
