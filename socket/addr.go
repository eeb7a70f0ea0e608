package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Family is the address family fixed for the lifetime of a worker.
type Family int

// The two address families ncps supports.
const (
	FamilyIPv4 Family = unix.AF_INET
	FamilyIPv6 Family = unix.AF_INET6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Endpoint is a discriminated IPv4/IPv6 socket address with port, the data
// model's "endpoint address". The Family field says which of IP's 4 or 16
// bytes are meaningful.
type Endpoint struct {
	Family Family
	IP     net.IP
	Port   int
}

// NewEndpoint builds an Endpoint from a net.IP and port, inferring the
// family from the IP's shape.
func NewEndpoint(ip net.IP, port int) Endpoint {
	fam := FamilyIPv4
	if ip4 := ip.To4(); ip4 == nil {
		fam = FamilyIPv6
	} else {
		ip = ip4
	}
	return Endpoint{Family: fam, IP: ip, Port: port}
}

// ParseEndpoint parses a bare IP string (no port) plus a separate port,
// which is how ncps's CLI supplies -b/-bp independently.
func ParseEndpoint(ip string, port int) (Endpoint, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Endpoint{}, fmt.Errorf("socket: invalid IP address %q", ip)
	}
	return NewEndpoint(parsed, port), nil
}

// sockaddr converts the Endpoint to the unix.Sockaddr the raw syscalls need.
func (e Endpoint) sockaddr() unix.Sockaddr {
	if e.Family == FamilyIPv6 {
		sa := &unix.SockaddrInet6{Port: e.Port}
		copy(sa.Addr[:], e.IP.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: e.Port}
	copy(sa.Addr[:], e.IP.To4())
	return sa
}

func endpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return Endpoint{Family: FamilyIPv4, IP: ip, Port: a.Port}, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return Endpoint{Family: FamilyIPv6, IP: ip, Port: a.Port}, nil
	default:
		return Endpoint{}, fmt.Errorf("socket: unsupported sockaddr type %T", sa)
	}
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.Port))
}
