package modem

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// Conn adapts a connected Socket to net.Conn. Deadlines bound the
// underlying Recv and Send calls; without a deadline Write still gives up
// after the modem's own command timeouts.
type Conn struct {
	s *Socket

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*Conn)(nil)

// Conn returns a net.Conn view of the socket.
func (s *Socket) Conn() *Conn {
	return &Conn{s: s}
}

// Dial opens and connects a socket in one step. network is "tcp", "tcp4",
// "tcp6", "udp", "udp4" or "udp6".
func (m *Modem) Dial(ctx context.Context, network string, addr netip.AddrPort) (*Conn, error) {
	family := FamilyIPv4
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		family = FamilyIPv6
	}

	var (
		typ   SockType
		proto Proto
	)
	switch network {
	case "tcp", "tcp4", "tcp6":
		typ, proto = SockStream, ProtoTCP
	case "udp", "udp4", "udp6":
		typ, proto = SockDgram, ProtoUDP
	default:
		return nil, &net.OpError{Op: "dial", Net: network, Err: net.UnknownNetworkError(network)}
	}

	s, err := m.Open(family, typ, proto)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx, addr); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s.Conn(), nil
}

func (c *Conn) deadlineContext(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

// mapError translates engine errors into the net package conventions.
func (c *Conn) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return os.ErrDeadlineExceeded
	case errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrAlreadyClosed):
		return net.ErrClosed
	default:
		return err
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	ctx, cancel := c.deadlineContext(deadline)
	defer cancel()
	n, err := c.s.Recv(ctx, p)
	return n, c.mapError(err)
}

// Write sends p in chunks of at most the modem's maximum payload.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.writeDeadline
	c.mu.Unlock()

	ctx, cancel := c.deadlineContext(deadline)
	defer cancel()

	written := 0
	for written < len(p) {
		n, err := c.s.Send(ctx, p[written:])
		written += n
		if err != nil {
			return written, c.mapError(err)
		}
	}
	return written, nil
}

func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.s.m.config.CommandTimeout)
	defer cancel()
	return c.mapError(c.s.Close(ctx))
}

func (c *Conn) LocalAddr() net.Addr {
	return c.addr(netip.AddrPortFrom(c.s.m.LocalIP(), 0))
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.addr(c.s.RemoteAddr())
}

func (c *Conn) addr(ap netip.AddrPort) net.Addr {
	c.s.slot.mu.Lock()
	proto := c.s.slot.proto
	c.s.slot.mu.Unlock()
	if proto == ProtoUDP {
		return net.UDPAddrFromAddrPort(ap)
	}
	return net.TCPAddrFromAddrPort(ap)
}

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	c.writeDeadline = t
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return nil
}
