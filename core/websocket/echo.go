package websocket

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/searchktools/fast-bench/core/pools"
)

const defaultMaxMessageSize = 1 << 20

// EchoOptions configures the echo frame loop.
type EchoOptions struct {
	// MaxMessageSize bounds a single frame payload, 1 MiB when zero.
	MaxMessageSize int64

	// Buffers supplies the output buffer.
	Buffers *pools.BufferPool

	// OnFrame, if set, observes every received frame.
	OnFrame func(op OpCode)
}

// Echo relays frames back to the peer until it sends Close. Data frames
// are echoed with the same opcode and FIN bit (fragments are not
// reassembled), Ping is answered with Pong, Pong is ignored, Close is
// answered with a normal-closure Close.
//
// When ctx is cancelled, a read interrupted by a deadline ends the loop
// with a going-away Close.
func Echo(ctx context.Context, rw io.ReadWriter, opts EchoOptions) error {
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	bufs := opts.Buffers
	if bufs == nil {
		bufs = pools.NewBufferPool()
	}

	outp := bufs.Get(pools.SmallBufferSize)
	defer bufs.Put(outp)
	out := *outp

	fr := NewFrameReader(bufio.NewReaderSize(rw, pools.SmallBufferSize), maxSize)
	var f Frame

	writeClose := func(code uint16) error {
		out = AppendCloseFrame(out[:0], code)
		_, err := rw.Write(out)
		return err
	}

	for {
		if err := fr.ReadFrame(&f); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded):
				return writeClose(CloseGoingAway)
			case errors.Is(err, ErrMessageTooLarge):
				_ = writeClose(CloseMessageTooLarge)
			case errors.Is(err, ErrReservedBits), errors.Is(err, ErrControlFrame):
				_ = writeClose(CloseProtocolError)
			}
			return err
		}
		if opts.OnFrame != nil {
			opts.OnFrame(f.OpCode)
		}

		switch f.OpCode {
		case OpText, OpBinary, OpContinuation:
			out = AppendFrame(out[:0], f.Fin, f.OpCode, f.Payload)
		case OpPing:
			out = AppendFrame(out[:0], true, OpPong, f.Payload)
		case OpPong:
			continue
		case OpClose:
			return writeClose(CloseNormalClosure)
		default:
			_ = writeClose(CloseProtocolError)
			return ErrUnknownOpCode
		}

		if _, err := rw.Write(out); err != nil {
			return err
		}
	}
}
