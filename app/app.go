// Package app wires a configuration into a running server: it picks the
// responders for the configured mode, owns the shared pools and metrics,
// and drains on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/fast-bench/config"
	"github.com/searchktools/fast-bench/core"
	"github.com/searchktools/fast-bench/core/apps"
	"github.com/searchktools/fast-bench/core/framework"
	"github.com/searchktools/fast-bench/core/http"
	"github.com/searchktools/fast-bench/core/observability"
	"github.com/searchktools/fast-bench/core/pools"
	"github.com/searchktools/fast-bench/core/proxy"
	"github.com/searchktools/fast-bench/core/websocket"
)

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Addr() net.Addr
}

// App is a configured server ready to run.
type App struct {
	cfg    config.Config
	logger logrus.FieldLogger

	bytes   *pools.BytePool
	bufs    *pools.BufferPool
	metrics *observability.Metrics
	flush   func(context.Context) error

	engine *core.Engine
	server server
}

// New builds the server for cfg. ctx bounds the metrics exporter setup.
func New(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		bytes:  pools.NewBytePool(),
		bufs:   pools.NewBufferPool(),
	}

	mp, flush, err := observability.NewMeterProvider(ctx, cfg.MetricsEndpoint, cfg.MetricsInterval)
	if err != nil {
		return nil, fmt.Errorf("creating meter provider: %w", err)
	}
	a.flush = flush
	a.metrics, err = observability.NewMetrics(mp, func() uint64 { return a.bufs.Stats().TotalGets })
	if err != nil {
		_ = flush(ctx)
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	if cfg.Mode == config.ModeFramework {
		a.server = framework.NewServer(framework.Options{
			Addr:           cfg.Addr(),
			WebSocketPath:  cfg.WebSocketPath,
			MaxMessageSize: cfg.MaxMessageSize,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			Logger:         logger,
			OnFrame:        a.metrics.Frame,
		})
		return a, nil
	}

	opts := core.Options{
		Addr:            cfg.Addr(),
		Threads:         cfg.ThreadCount,
		EventLoop:       cfg.Transport == config.TransportEventLoop,
		MaxConnections:  cfg.MaxConnections,
		MaxRequestBytes: cfg.MaxRequestBytes,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		BytePool:        a.bytes,
		BufferPool:      a.bufs,
		Logger:          logger,
		Metrics:         a.metrics,
	}
	if err := a.wire(&opts); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.engine = core.NewEngine(opts)
	a.server = a.engine
	return a, nil
}

func (a *App) wire(opts *core.Options) error {
	switch a.cfg.Mode {
	case config.ModeRaw:
		opts.Factory = apps.NewRaw
	case config.ModeHeaders:
		opts.Factory = apps.NewHeaders
	case config.ModeHandler:
		opts.Factory = apps.NewBenchmark(http.NewPathTable(apps.BenchmarkRoutes()...))
	case config.ModeWebSocket:
		upgrader := &websocket.Upgrader{Options: websocket.EchoOptions{
			MaxMessageSize: a.cfg.MaxMessageSize,
			Buffers:        a.bufs,
			OnFrame:        func(websocket.OpCode) { a.metrics.Frame() },
		}}
		table := http.NewPathTable(apps.BenchmarkRoutes()...)
		opts.Factory = apps.NewWebSocket(table, a.cfg.WebSocketPath, upgrader)
	case config.ModeProxy:
		relay, err := proxy.NewRelay(a.cfg.Upstream, proxy.WithBufferPool(a.bufs))
		if err != nil {
			return err
		}
		opts.Factory = relay.NewHandler
	case config.ModeEcho:
		opts.Stream = func(ctx context.Context, conn net.Conn) error {
			return apps.ServeEcho(ctx, conn, a.bufs)
		}
	default:
		return fmt.Errorf("unknown mode %q", a.cfg.Mode)
	}
	return nil
}

// Addr returns the bound address once serving, or nil.
func (a *App) Addr() net.Addr { return a.server.Addr() }

// Metrics returns the server counters.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Run serves until ctx is cancelled, then drains for at most the
// configured shutdown timeout. Listen failures are returned; a drain that
// runs out of time is only logged.
func (a *App) Run(ctx context.Context) error {
	prev := pools.ApplyGCConfig(pools.GCConfig{Percent: a.cfg.GCPercent, MemoryLimit: a.cfg.MemoryLimit})
	defer pools.ApplyGCConfig(prev)

	errc := make(chan error, 1)
	go func() { errc <- a.server.ListenAndServe() }()

	select {
	case err := <-errc:
		a.close(context.Background())
		if isServerClosed(err) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(sctx); err != nil {
		a.logger.WithError(err).Warn("Drain did not finish in time, connections were closed")
	}
	err := <-errc
	a.close(sctx)
	if isServerClosed(err) {
		return nil
	}
	return err
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, core.ErrServerClosed) || errors.Is(err, nethttp.ErrServerClosed)
}

func (a *App) close(ctx context.Context) {
	if a.engine != nil {
		a.logger.WithFields(a.engine.PoolStats().Fields()).Info("Pool statistics")
	}
	gc := pools.GetGCStats()
	a.logger.WithFields(logrus.Fields{
		"num_gc":      gc.NumGC,
		"pause_total": gc.PauseTotal,
		"heap_alloc":  gc.HeapAlloc,
		"goroutines":  gc.NumGoroutine,
	}).Info("GC statistics")
	if err := a.metrics.Close(); err != nil {
		a.logger.WithError(err).Warn("Unregistering metrics")
	}
	if err := a.flush(ctx); err != nil {
		a.logger.WithError(err).Warn("Flushing metrics")
	}
}
