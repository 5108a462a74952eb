package core

import (
	"errors"
	"time"
)

// Engine defaults
const (
	// DefaultShutdownPoll is how often a drain nudges idle connections.
	DefaultShutdownPoll = 50 * time.Millisecond

	// eventLoopWait bounds a poller wait so loops notice a drain.
	eventLoopWait = 100

	// idleSweepInterval is how often event loops look for timed-out connections.
	idleSweepInterval = time.Second
)

// Engine errors
var (
	// ErrServerClosed is returned by the serve methods after Shutdown.
	ErrServerClosed = errors.New("server closed")

	// ErrEventLoopUnsupported is returned on platforms without epoll or kqueue.
	ErrEventLoopUnsupported = errors.New("event loop transport is not supported on this platform")

	// ErrNoHandler is returned when neither a handler factory nor a stream
	// handler is configured.
	ErrNoHandler = errors.New("no connection handler configured")
)
