package modem

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	t.Run("TCP round trip", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply(`AT+CIPSTART=0,"TCP","192.0.2.10",7`, "OK\r\n0, CONNECT OK\r\n")
		transport.Reply("AT+CIPSEND=0,4", "> ")
		transport.Reply("ping\x1a", "0, SEND OK\r\n+RECEIVE,0,4:\r\npong")
		transport.Reply("AT+CIPCLOSE=0", "0, CLOSE OK\r\n")

		conn, err := m.Dial(context.Background(), "tcp", netip.MustParseAddrPort("192.0.2.10:7"))
		require.NoError(t, err)
		require.Equal(t, "192.0.2.10:7", conn.RemoteAddr().String())
		require.IsType(t, &net.TCPAddr{}, conn.LocalAddr())

		n, err := conn.Write([]byte("ping"))
		require.NoError(t, err)
		require.Equal(t, 4, n)

		buf := make([]byte, 8)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err = conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "pong", string(buf[:n]))

		require.NoError(t, conn.Close())
		_, err = conn.Read(buf)
		require.ErrorIs(t, err, net.ErrClosed)
	})

	t.Run("Write is chunked", func(t *testing.T) {
		m, transport := newTestModem(t, func(b *ConfigBuilder) { b.WithMaxDataLength(3) })
		transport.Reply(`AT+CIPSTART=0,"UDP","192.0.2.10",53`, "OK\r\n0, CONNECT OK\r\n")
		transport.Reply("AT+CIPSEND=0,3", "> ")
		transport.Reply("AT+CIPSEND=0,2", "> ")
		transport.Reply("abc\x1a", "0, SEND OK\r\n")
		transport.Reply("de\x1a", "0, SEND OK\r\n")

		conn, err := m.Dial(context.Background(), "udp", netip.MustParseAddrPort("192.0.2.10:53"))
		require.NoError(t, err)
		require.IsType(t, &net.UDPAddr{}, conn.RemoteAddr())

		n, err := conn.Write([]byte("abcde"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
	})

	t.Run("Read deadline", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply(`AT+CIPSTART=0,"TCP","192.0.2.10",7`, "OK\r\n0, CONNECT OK\r\n")

		conn, err := m.Dial(context.Background(), "tcp4", netip.MustParseAddrPort("192.0.2.10:7"))
		require.NoError(t, err)

		require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Millisecond)))
		_, err = conn.Read(make([]byte, 8))
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("Refused connection frees the socket", func(t *testing.T) {
		m, transport := newTestModem(t, func(b *ConfigBuilder) { b.WithMaxSockets(1) })
		transport.Reply(`AT+CIPSTART=0,"TCP","192.0.2.10",7`, "OK\r\n0, CONNECT FAIL\r\n")

		_, err := m.Dial(context.Background(), "tcp", netip.MustParseAddrPort("192.0.2.10:7"))
		require.ErrorIs(t, err, ErrConnectionRefused)

		_, err = m.Open(FamilyIPv4, SockStream, ProtoTCP)
		require.NoError(t, err)
	})

	t.Run("Unknown network", func(t *testing.T) {
		m, _ := newTestModem(t)

		_, err := m.Dial(context.Background(), "unix", netip.MustParseAddrPort("192.0.2.10:7"))
		var unknown net.UnknownNetworkError
		require.True(t, errors.As(err, &unknown))
	})
}
