package http

import (
	"errors"
	"fmt"
)

// ErrProtocol is the parent of every malformed-input error. It is fatal to
// the connection that produced it.
var ErrProtocol = errors.New("protocol error")

// Protocol errors
var (
	ErrInvalidRequestLine = fmt.Errorf("%w: invalid request line", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported HTTP version", ErrProtocol)
	ErrInvalidHeader      = fmt.Errorf("%w: invalid header line", ErrProtocol)
	ErrRequestTooLarge    = fmt.Errorf("%w: request head too large", ErrProtocol)
)

// Connection errors
var (
	// ErrPrematureClose is returned when the stream ends before a full
	// request head arrived. No response is written.
	ErrPrematureClose = errors.New("unexpected end of request data")

	// ErrWriteFailure wraps errors from flushing the output buffer.
	ErrWriteFailure = errors.New("response write failed")

	// ErrHijackUnsupported is returned by Hijack on connections driven by
	// an event loop, which have no blocking stream to hand over.
	ErrHijackUnsupported = errors.New("connection cannot be hijacked")
)
