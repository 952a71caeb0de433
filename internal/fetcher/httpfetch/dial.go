package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrPrivateAddress is returned when a host resolves to a non-public address.
var ErrPrivateAddress = errors.New("connection to private address is not allowed")

// IsPrivateAddr reports whether addr is loopback, link-local, private or
// otherwise not routable on the public internet.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

// safeDialContext resolves the host first and refuses to connect if any
// resolved address is private.
func safeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no addresses for %s", host)
		}
		for _, ip := range ips {
			if IsPrivateAddr(ip) {
				return nil, fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}
