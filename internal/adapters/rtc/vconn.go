package rtc

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/transport/v3/deadline"
)

type datagram struct {
	data []byte
	addr net.Addr
}

// virtualConn is the packet conn the ICE mux of one engine runs on. Reads
// are fed by the pool's socket, writes become Transmit outputs.
type virtualConn struct {
	mu    sync.RWMutex
	local *net.UDPAddr

	inbox    chan datagram
	transmit func(dst *net.UDPAddr, data []byte)
	readDL   *deadline.Deadline

	closeOnce sync.Once
	closed    chan struct{}
}

func newVirtualConn(local *net.UDPAddr, inboxSize int, transmit func(*net.UDPAddr, []byte)) *virtualConn {
	return &virtualConn{
		local:    local,
		inbox:    make(chan datagram, inboxSize),
		transmit: transmit,
		readDL:   deadline.New(),
		closed:   make(chan struct{}),
	}
}

// deliver queues a datagram for the mux. It reports false when the conn is
// closed or its inbox is full.
func (c *virtualConn) deliver(data []byte, from *net.UDPAddr) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.inbox <- datagram{data: data, addr: from}:
		return true
	default:
		return false
	}
}

func (c *virtualConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbox:
		return copy(p, d.data), d.addr, nil
	case <-c.readDL.Done():
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *virtualConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	dst, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, &net.AddrError{Err: "unsupported address type", Addr: addr.String()}
	}
	c.transmit(dst, append([]byte(nil), p...))
	return len(p), nil
}

func (c *virtualConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *virtualConn) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

func (c *virtualConn) setLocal(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = addr
}

func (c *virtualConn) SetDeadline(t time.Time) error {
	c.readDL.Set(t)
	return nil
}

func (c *virtualConn) SetReadDeadline(t time.Time) error {
	c.readDL.Set(t)
	return nil
}

func (c *virtualConn) SetWriteDeadline(time.Time) error { return nil }

var _ net.PacketConn = (*virtualConn)(nil)
