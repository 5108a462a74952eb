//go:build !(linux || darwin)

package core

func (e *Engine) serveEventLoops() error {
	return ErrEventLoopUnsupported
}

const eventLoopSupported = false
