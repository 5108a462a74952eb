//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package core

import "net"

const reusePort = false

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
