package apps

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/searchktools/fast-bench/core/pools"
)

// ServeEcho writes every byte read from rw back to it until the peer
// closes. No HTTP parsing happens in this mode.
func ServeEcho(ctx context.Context, rw io.ReadWriter, bufs *pools.BufferPool) error {
	bufp := bufs.Get(pools.SmallBufferSize)
	defer bufs.Put(bufp)
	buf := (*bufp)[:cap(*bufp)]

	for {
		n, err := rw.Read(buf)
		if n > 0 {
			if _, werr := rw.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
