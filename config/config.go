// Package config holds the server configuration and its loading from
// files, environment and flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/searchktools/fast-bench/core/pools"
)

// Mode selects the responder wiring.
type Mode string

// Modes
const (
	ModeRaw       Mode = "raw"
	ModeHeaders   Mode = "headers"
	ModeHandler   Mode = "handler"
	ModeFramework Mode = "framework"
	ModeWebSocket Mode = "websocket"
	ModeProxy     Mode = "proxy"
	ModeEcho      Mode = "echo"
)

// Modes lists every valid mode.
var Modes = []Mode{ModeRaw, ModeHeaders, ModeHandler, ModeFramework, ModeWebSocket, ModeProxy, ModeEcho}

// NeedsStream reports whether the mode's responders block on the
// connection stream, which the event loop transport cannot provide.
func (m Mode) NeedsStream() bool {
	switch m {
	case ModeWebSocket, ModeProxy, ModeEcho, ModeFramework:
		return true
	}
	return false
}

// Transport selects how connections are scheduled.
type Transport string

// Transports
const (
	TransportGoroutine Transport = "goroutine"
	TransportEventLoop Transport = "eventloop"
)

// Config holds all application configuration.
type Config struct {
	Mode          Mode      `yaml:"mode" envconfig:"FASTBENCH_MODE"`
	Transport     Transport `yaml:"transport" envconfig:"FASTBENCH_TRANSPORT"`
	Host          string    `yaml:"host" envconfig:"FASTBENCH_HOST"`
	Port          int       `yaml:"port" envconfig:"FASTBENCH_PORT"`
	ThreadCount   int       `yaml:"thread_count" envconfig:"FASTBENCH_THREAD_COUNT"`
	Upstream      string    `yaml:"upstream" envconfig:"FASTBENCH_UPSTREAM"`
	WebSocketPath string    `yaml:"websocket_path" envconfig:"FASTBENCH_WEBSOCKET_PATH"`

	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"FASTBENCH_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"FASTBENCH_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"FASTBENCH_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"FASTBENCH_SHUTDOWN_TIMEOUT"`

	MaxConnections  int   `yaml:"max_connections" envconfig:"FASTBENCH_MAX_CONNECTIONS"`
	MaxRequestBytes int   `yaml:"max_request_bytes" envconfig:"FASTBENCH_MAX_REQUEST_BYTES"`
	MaxMessageSize  int64 `yaml:"max_message_size" envconfig:"FASTBENCH_MAX_MESSAGE_SIZE"`

	GCPercent   int   `yaml:"gc_percent" envconfig:"FASTBENCH_GC_PERCENT"`
	MemoryLimit int64 `yaml:"memory_limit" envconfig:"FASTBENCH_MEMORY_LIMIT"`

	LogLevel        string        `yaml:"log_level" envconfig:"FASTBENCH_LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" envconfig:"FASTBENCH_LOG_FORMAT"`
	MetricsEndpoint string        `yaml:"metrics_endpoint" envconfig:"FASTBENCH_METRICS_ENDPOINT"`
	MetricsInterval time.Duration `yaml:"metrics_interval" envconfig:"FASTBENCH_METRICS_INTERVAL"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Mode:            ModeHandler,
		Transport:       TransportGoroutine,
		Port:            8081,
		ThreadCount:     runtime.NumCPU(),
		WebSocketPath:   "/ws",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxRequestBytes: pools.MaxInputSize,
		MaxMessageSize:  1 << 20,
		GCPercent:       pools.HighThroughputGC().Percent,
		LogLevel:        "info",
		LogFormat:       "text",
		MetricsInterval: 10 * time.Second,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate reports every problem of c.
func (c Config) Validate() error {
	var errs []error

	validMode := false
	for _, m := range Modes {
		if c.Mode == m {
			validMode = true
		}
	}
	if !validMode {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.Transport {
	case TransportGoroutine:
	case TransportEventLoop:
		if c.Mode.NeedsStream() {
			errs = append(errs, fmt.Errorf("mode %q is not supported by the %s transport", c.Mode, c.Transport))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.ThreadCount <= 0 {
		errs = append(errs, fmt.Errorf("thread count must be positive, got %d", c.ThreadCount))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections))
	}
	if c.MaxRequestBytes != 0 && (c.MaxRequestBytes < pools.DefaultInputSize || c.MaxRequestBytes > pools.MaxInputSize) {
		errs = append(errs, fmt.Errorf("max request bytes must be between %d and %d, got %d",
			pools.DefaultInputSize, pools.MaxInputSize, c.MaxRequestBytes))
	}
	if c.Mode == ModeWebSocket && (c.WebSocketPath == "" || c.WebSocketPath[0] != '/') {
		errs = append(errs, fmt.Errorf("websocket path %q must start with /", c.WebSocketPath))
	}

	if c.Mode == ModeProxy {
		u, err := url.Parse(c.Upstream)
		switch {
		case c.Upstream == "":
			errs = append(errs, errors.New("proxy mode requires an upstream"))
		case err != nil:
			errs = append(errs, fmt.Errorf("invalid upstream: %w", err))
		case (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
			errs = append(errs, fmt.Errorf("upstream %q must be an absolute http(s) URL", c.Upstream))
		}
	}

	return errors.Join(errs...)
}
