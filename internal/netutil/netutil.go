package netutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/wlynxg/anet"
)

var ErrNoHostAddress = errors.New("netutil: no usable network interface")

// SelectHostAddress returns the first IPv4 address that is not loopback,
// link-local or broadcast.
func SelectHostAddress() (net.IP, error) {
	addrs, err := anet.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("interface addrs: %w", err)
	}
	return pickHostAddress(addrs)
}

func pickHostAddress(addrs []net.Addr) (net.IP, error) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		if v4.IsLoopback() || v4.IsLinkLocalUnicast() || v4.Equal(net.IPv4bcast) || v4.IsUnspecified() {
			continue
		}
		return v4, nil
	}
	return nil, ErrNoHostAddress
}
