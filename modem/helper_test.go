package modem

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
)

// newTestModem returns a modem reading from a fresh TestTransport, with its
// Loop running and short timeouts. configure may adjust the builder before
// Build.
func newTestModem(t *testing.T, configure ...func(*ConfigBuilder)) (*Modem, *TestTransport) {
	t.Helper()

	ctrl := gomock.NewController(t)
	transport := NewTestTransport()
	dialer := NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	b := NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(slog.New(slog.DiscardHandler)).
		WithCommandTimeout(200*time.Millisecond).
		WithPromptTimeout(200*time.Millisecond).
		WithConnectTimeout(200*time.Millisecond).
		WithReset(time.Millisecond, time.Millisecond).
		WithAutobaud(3, 20*time.Millisecond).
		WithSignalPolling(3, time.Millisecond).
		WithAttachPolling(3, time.Millisecond).
		WithBootWaits(200*time.Millisecond, 200*time.Millisecond).
		WithDrain(5, time.Millisecond)
	for _, f := range configure {
		f(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Loop(context.Background())
	}()
	t.Cleanup(func() {
		m.Close()
		<-done
	})
	return m, transport
}

// connectedSocket opens a socket and drives its slot to Connected without
// talking to the modem.
func connectedSocket(t *testing.T, m *Modem) *Socket {
	t.Helper()
	s, err := m.Open(FamilyIPv4, SockStream, ProtoTCP)
	if err != nil {
		t.Fatalf("unexpected error from Open(): %v", err)
	}
	if err := s.slot.fire(evConnect); err != nil {
		t.Fatalf("connect event: %v", err)
	}
	if err := s.slot.fire(evEstablished); err != nil {
		t.Fatalf("established event: %v", err)
	}
	return s
}

// count returns how often cmd was written.
func count(written []string, cmd string) int {
	n := 0
	for _, w := range written {
		if w == cmd {
			n++
		}
	}
	return n
}
