//go:build !linux

package server

import "net"

// listen binds the address. SO_REUSEPORT load balancing is Linux-only; the
// supervisor collapses the replica count to 1 on other platforms.
func listen(addr string, reusePort bool) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// PortSharing reports whether replicas can share a listening port on this
// platform.
const PortSharing = false
