package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool. Connections take their input
// buffer from it and grow through the tiers when a request does not fit.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// Input buffer bounds: connections start at DefaultInputSize and grow up
// to MaxInputSize.
const (
	DefaultInputSize = 8192
	MaxInputSize     = 32768
)

// Tier sizes used for request input buffers.
var defaultSizes = []int{
	2048,
	DefaultInputSize,
	MaxInputSize,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom, ascending size tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				bp.misses.Add(1)
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice whose length is the tier size that fits size.
// Requests above the largest tier are allocated directly and never pooled.
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			return *bp.pools[i].Get().(*[]byte)
		}
	}

	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a byte slice to the tier matching its capacity.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// Grow returns a buffer of the next tier holding a copy of buf[:n] and
// releases buf. ok is false when buf is already at the largest tier or limit.
func (bp *BytePool) Grow(buf []byte, n, limit int) (grown []byte, ok bool) {
	next := 0
	for _, poolSize := range bp.sizes {
		if poolSize > cap(buf) {
			next = poolSize
			break
		}
	}
	if next == 0 || next > limit {
		return buf, false
	}

	grown = bp.Get(next)
	copy(grown, buf[:n])
	bp.Put(buf)
	return grown, true
}

// MaxSize returns the largest pooled tier.
func (bp *BytePool) MaxSize() int {
	return bp.sizes[len(bp.sizes)-1]
}

// BytePoolStats is a snapshot of pool usage.
type BytePoolStats struct {
	Gets   uint64
	Misses uint64
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Misses: bp.misses.Load(),
	}
}
