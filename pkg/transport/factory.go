package transport

import (
	"net"
	"strconv"
)

// Factory creates packet sockets and resolves server addresses.
// Implementations can provide real network sockets or virtual pipes for testing.
type Factory interface {
	// CreateUDPConn creates a UDP-like packet connection bound to port.
	CreateUDPConn(port int) (net.PacketConn, error)

	// ResolveAddr resolves a server host and port.
	ResolveAddr(host string, port int) (net.Addr, error)
}

// NetFactory creates real UDP sockets.
type NetFactory struct {
	// Network is "udp", "udp4" or "udp6". Empty means "udp".
	Network string
}

func (f NetFactory) network() string {
	if f.Network == "" {
		return "udp"
	}
	return f.Network
}

// CreateUDPConn listens on the given local port on all interfaces.
func (f NetFactory) CreateUDPConn(port int) (net.PacketConn, error) {
	return net.ListenUDP(f.network(), &net.UDPAddr{Port: port})
}

// ResolveAddr resolves host:port as a UDP address.
func (f NetFactory) ResolveAddr(host string, port int) (net.Addr, error) {
	return net.ResolveUDPAddr(f.network(), net.JoinHostPort(host, strconv.Itoa(port)))
}

var _ Factory = NetFactory{}
