package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(s string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}
}

func TestPickHostAddress(t *testing.T) {
	addrs := []net.Addr{
		ipNet("127.0.0.1"),
		ipNet("169.254.3.4"),
		ipNet("fe80::1"),
		ipNet("255.255.255.255"),
		&net.IPAddr{IP: net.ParseIP("10.1.2.3")},
		ipNet("192.168.1.20"),
	}

	ip, err := pickHostAddress(addrs)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip.String())
}

func TestPickHostAddress_None(t *testing.T) {
	_, err := pickHostAddress([]net.Addr{ipNet("127.0.0.1"), ipNet("::1")})
	assert.ErrorIs(t, err, ErrNoHostAddress)
}
