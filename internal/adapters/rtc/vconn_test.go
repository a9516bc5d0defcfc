package rtc

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualConn_DeliverAndRead(t *testing.T) {
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	c := newVirtualConn(local, 1, func(*net.UDPAddr, []byte) {})

	require.True(t, c.deliver([]byte("abc"), peer))
	assert.False(t, c.deliver([]byte("def"), peer), "inbox full")

	buf := make([]byte, 16)
	n, from, err := c.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, peer, from)
	assert.Equal(t, local, c.LocalAddr())
}

func TestVirtualConn_ReadDeadline(t *testing.T) {
	c := newVirtualConn(&net.UDPAddr{IP: net.IPv4zero}, 1, func(*net.UDPAddr, []byte) {})
	require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Millisecond)))

	_, _, err := c.ReadFrom(make([]byte, 8))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.True(t, os.IsTimeout(err))
}

func TestVirtualConn_WriteBecomesTransmit(t *testing.T) {
	var (
		gotDst  *net.UDPAddr
		gotData []byte
	)
	c := newVirtualConn(&net.UDPAddr{IP: net.IPv4zero}, 1, func(dst *net.UDPAddr, data []byte) {
		gotDst, gotData = dst, data
	})
	dst := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 7}
	payload := []byte("xyz")

	n, err := c.WriteTo(payload, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	payload[0] = 'q'
	assert.Equal(t, []byte("xyz"), gotData, "data is copied")
	assert.Equal(t, dst, gotDst)

	_, err = c.WriteTo(payload, &net.TCPAddr{})
	assert.Error(t, err)
}

func TestVirtualConn_Close(t *testing.T) {
	c := newVirtualConn(&net.UDPAddr{IP: net.IPv4zero}, 1, func(*net.UDPAddr, []byte) {})
	done := make(chan error, 1)
	go func() {
		_, _, err := c.ReadFrom(make([]byte, 8))
		done <- err
	}()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, net.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("read not unblocked by close")
	}
	assert.False(t, c.deliver([]byte("x"), nil))
	_, err := c.WriteTo([]byte("x"), &net.UDPAddr{})
	assert.ErrorIs(t, err, net.ErrClosed)
}
