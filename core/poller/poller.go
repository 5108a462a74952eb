// Package poller wraps the platform readiness notification API used by
// the event loop transport.
package poller

// Poller is the I/O multiplexing interface. Registrations are
// level-triggered read interest.
type Poller interface {
	Add(fd int) error
	Remove(fd int) error
	// Wait blocks up to timeout milliseconds (-1 forever) and returns the
	// ready descriptors. The slice is reused by the next call.
	Wait(timeout int) ([]int, error)
	Close() error
}
