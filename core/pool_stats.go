package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/fast-bench/core/pools"
)

// PoolStats represents statistics for all pools
type PoolStats struct {
	Connection ConnectionPoolStats
	Bytes      pools.BytePoolStats
	Buffers    pools.BufferStats
}

// ConnectionPoolStats counts connection state machines taken and returned.
type ConnectionPoolStats struct {
	Gets   uint64
	Puts   uint64
	Active int64
}

// PoolStats returns statistics for all memory pools
func (e *Engine) PoolStats() PoolStats {
	gets, puts := e.conns.Stats()
	return PoolStats{
		Connection: ConnectionPoolStats{Gets: gets, Puts: puts, Active: e.conns.Active()},
		Bytes:      e.opts.BytePool.Stats(),
		Buffers:    e.opts.BufferPool.Stats(),
	}
}

// Fields returns the statistics as log fields.
func (s PoolStats) Fields() logrus.Fields {
	return logrus.Fields{
		"conn_gets":      s.Connection.Gets,
		"conn_active":    s.Connection.Active,
		"input_gets":     s.Bytes.Gets,
		"input_misses":   s.Bytes.Misses,
		"output_gets":    s.Buffers.TotalGets,
		"output_pending": s.Buffers.Outstanding(),
	}
}

// String returns pool statistics as human-readable text
func (s PoolStats) String() string {
	return fmt.Sprintf(`Memory Pool Statistics
======================

Connection Pool:
  Gets:   %d
  Puts:   %d
  Active: %d

Input Buffers:
  Gets:   %d
  Misses: %d

Output Buffers:
  Gets:    %d (small %d, medium %d, large %d)
  Pending: %d
`,
		s.Connection.Gets, s.Connection.Puts, s.Connection.Active,
		s.Bytes.Gets, s.Bytes.Misses,
		s.Buffers.TotalGets, s.Buffers.SmallHits, s.Buffers.MediumHits, s.Buffers.LargeHits,
		s.Buffers.Outstanding(),
	)
}
