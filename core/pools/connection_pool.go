package pools

import (
	"sync"
	"sync/atomic"
)

// Poolable is implemented by per-connection objects that can be recycled.
type Poolable interface {
	Reset()
}

// ConnectionPool recycles per-connection state objects.
type ConnectionPool[T Poolable] struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
}

// NewConnectionPool creates a new connection pool
func NewConnectionPool[T Poolable](newFunc func() T) *ConnectionPool[T] {
	cp := &ConnectionPool[T]{}
	cp.pool.New = func() any { return newFunc() }
	return cp
}

// Get retrieves a connection from the pool
func (cp *ConnectionPool[T]) Get() T {
	cp.gets.Add(1)
	return cp.pool.Get().(T)
}

// Put resets obj and returns it to the pool
func (cp *ConnectionPool[T]) Put(obj T) {
	obj.Reset()
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns pool statistics
func (cp *ConnectionPool[T]) Stats() (gets, puts uint64) {
	return cp.gets.Load(), cp.puts.Load()
}

// Active is the number of objects currently checked out.
func (cp *ConnectionPool[T]) Active() int64 {
	return int64(cp.gets.Load()) - int64(cp.puts.Load())
}
