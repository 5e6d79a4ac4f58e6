package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"i4.energy/across/simnet/at"
)

// Family is the address family of a socket.
type Family int

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
)

// SockType is the socket type.
type SockType int

const (
	SockStream SockType = iota + 1
	SockDgram
)

// Proto is the transport protocol of a socket.
type Proto int

const (
	ProtoTCP Proto = iota + 1
	ProtoUDP
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// SocketState is the connection state of a socket slot.
type SocketState string

const (
	SocketUnallocated SocketState = "unallocated"
	SocketAllocated   SocketState = "allocated"
	SocketConnecting  SocketState = "connecting"
	SocketConnected   SocketState = "connected"
	SocketClosed      SocketState = "closed"
)

const (
	evOpen        = "open"
	evConnect     = "connect"
	evEstablished = "established"
	evRefuse      = "refuse"
	evClose       = "close"
	evRelease     = "release"
)

// slot is one connection identifier of the modem. The table owns it;
// Socket handles refer to it together with the generation they were
// issued for.
type slot struct {
	id  int
	fsm *fsm.FSM
	gen atomic.Uint64

	// mu guards the fields below
	mu     sync.Mutex
	proto  Proto
	remote netip.AddrPort
	buf    []byte
	// wait is closed and replaced whenever buf or the state changes
	wait chan struct{}
}

func newSlot(id int, logger *slog.Logger) *slot {
	s := &slot{id: id, wait: make(chan struct{})}
	s.fsm = fsm.NewFSM(
		string(SocketUnallocated),
		fsm.Events{
			{Name: evOpen, Src: []string{string(SocketUnallocated)}, Dst: string(SocketAllocated)},
			{Name: evConnect, Src: []string{string(SocketAllocated)}, Dst: string(SocketConnecting)},
			{Name: evEstablished, Src: []string{string(SocketConnecting)}, Dst: string(SocketConnected)},
			{Name: evRefuse, Src: []string{string(SocketConnecting)}, Dst: string(SocketClosed)},
			{Name: evClose, Src: []string{string(SocketConnecting), string(SocketConnected)}, Dst: string(SocketClosed)},
			{Name: evRelease, Src: []string{
				string(SocketAllocated), string(SocketConnecting), string(SocketConnected), string(SocketClosed),
			}, Dst: string(SocketUnallocated)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("socket state", "id", id, "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

func (s *slot) state() SocketState {
	return SocketState(s.fsm.Current())
}

// fire applies a state machine event and wakes waiting readers.
func (s *slot) fire(event string) error {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return err
	}
	s.mu.Lock()
	s.notify()
	s.mu.Unlock()
	return nil
}

// notify wakes every goroutine waiting on s. s.mu must be held.
func (s *slot) notify() {
	close(s.wait)
	s.wait = make(chan struct{})
}

// deliver appends p to the inbound buffer, up to limit buffered bytes,
// and returns how many bytes were kept. Data for a socket that is not
// connected is discarded.
func (s *slot) deliver(p []byte, limit int) int {
	if s.state() != SocketConnected {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(p), max(limit-len(s.buf), 0))
	s.buf = append(s.buf, p[:n]...)
	if n > 0 {
		s.notify()
	}
	return n
}

// socketTable is the fixed pool of connection identifiers.
type socketTable struct {
	// mu serializes allocation and release; per-slot data has its own lock
	mu    sync.Mutex
	slots []*slot
}

func newSocketTable(n int, logger *slog.Logger) *socketTable {
	t := &socketTable{slots: make([]*slot, n)}
	for id := range t.slots {
		t.slots[id] = newSlot(id, logger)
	}
	return t
}

func (t *socketTable) get(id int) *slot {
	if id < 0 || id >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// allocate claims the first unallocated slot.
func (t *socketTable) allocate(proto Proto) (*slot, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s.state() != SocketUnallocated {
			continue
		}
		if err := s.fire(evOpen); err != nil {
			return nil, 0, err
		}
		s.mu.Lock()
		s.proto = proto
		s.remote = netip.AddrPort{}
		s.buf = nil
		s.mu.Unlock()
		return s, s.gen.Load(), nil
	}
	return nil, 0, ErrResourceExhausted
}

// release returns s to the pool and invalidates its handles.
func (t *socketTable) release(s *slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state() == SocketUnallocated {
		return
	}
	s.gen.Inc()
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	_ = s.fire(evRelease)
}

func (t *socketTable) releaseAll() {
	for _, s := range t.slots {
		t.release(s)
	}
}

// remoteClose marks the connection closed by the peer. It reports whether
// the slot was live.
func (t *socketTable) remoteClose(id int) bool {
	s := t.get(id)
	if s == nil {
		return false
	}
	return s.fire(evClose) == nil
}

// closeAll marks every live connection closed.
func (t *socketTable) closeAll() {
	for _, s := range t.slots {
		_ = s.fire(evClose)
	}
}

// Socket is a caller handle on one connection identifier. It becomes
// invalid once closed.
type Socket struct {
	m    *Modem
	slot *slot
	gen  uint64
}

// Open allocates a socket. Only IPv4/IPv6 with stream+TCP or datagram+UDP
// can be tunneled.
func (m *Modem) Open(family Family, typ SockType, proto Proto) (*Socket, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}
	if family != FamilyIPv4 && family != FamilyIPv6 {
		return nil, fmt.Errorf("%w: address family %d", ErrUnsupported, family)
	}
	if !(typ == SockStream && proto == ProtoTCP) && !(typ == SockDgram && proto == ProtoUDP) {
		return nil, fmt.Errorf("%w: socket type %d with protocol %s", ErrUnsupported, typ, proto)
	}

	s, gen, err := m.sockets.allocate(proto)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("socket opened", "id", s.id, "proto", proto)
	return &Socket{m: m, slot: s, gen: gen}, nil
}

// valid returns the slot if the handle still owns it.
func (s *Socket) valid() (*slot, error) {
	if s.slot.gen.Load() != s.gen {
		return nil, ErrInvalidHandle
	}
	return s.slot, nil
}

// ID returns the connection identifier used on the wire.
func (s *Socket) ID() int {
	return s.slot.id
}

// State returns the connection state, or SocketUnallocated for a handle
// that has been closed.
func (s *Socket) State() SocketState {
	sl, err := s.valid()
	if err != nil {
		return SocketUnallocated
	}
	return sl.state()
}

// Buffered returns the number of received bytes not yet read.
func (s *Socket) Buffered() int {
	sl, err := s.valid()
	if err != nil {
		return 0
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.buf)
}

// RemoteAddr returns the address given to Connect.
func (s *Socket) RemoteAddr() netip.AddrPort {
	s.slot.mu.Lock()
	defer s.slot.mu.Unlock()
	return s.slot.remote
}

// Connect opens the connection to addr. A modem failure or a missing
// confirmation leaves the socket Closed and returns ErrConnectionRefused.
func (s *Socket) Connect(ctx context.Context, addr netip.AddrPort) error {
	sl, err := s.valid()
	if err != nil {
		return err
	}
	if !addr.IsValid() {
		return fmt.Errorf("%w: address %s", ErrUnsupported, addr)
	}
	if err := sl.fire(evConnect); err != nil {
		return fmt.Errorf("%w: socket is %s", ErrAlreadyConnected, sl.state())
	}

	sl.mu.Lock()
	sl.remote = addr
	proto := sl.proto
	sl.mu.Unlock()

	id := sl.id
	cmd := Command{
		Text: at.StartConnection(id, proto.String(), addr.Addr().Unmap().String(), addr.Port()),
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.ConnectOK)}, Action: Complete, OnMatch: func([]string) {
				// Connected before the reader drains a "+RECEIVE" that follows
				if err := sl.fire(evEstablished); err != nil {
					s.m.logger.Warn("connect confirmation out of order", "id", id, "error", err)
				}
			}},
			{Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.ConnectFail)}, Action: Fail, Err: failWith(ErrConnectionRefused)},
			{Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.AlreadyConnect)}, Action: Fail, Err: failWith(ErrAlreadyConnected)},
			{Pattern: at.Pattern{Prefix: at.OK}, Action: Collect},
		},
		Timeout: s.m.config.ConnectTimeout,
	}
	if _, err := s.m.Submit(ctx, cmd); err != nil {
		if sl.fire(evRefuse) != nil {
			// confirmed by the modem after the caller gave up
			_ = sl.fire(evClose)
		}
		s.m.logger.Warn("connect failed", "id", id, "addr", addr, "error", err)
		if errors.Is(err, ErrConnectionRefused) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	}
	s.m.logger.Info("connected", "id", id, "addr", addr, "proto", proto)
	return nil
}

// Send writes up to MaxDataLength bytes of p and returns how many bytes
// the modem accepted. Callers with larger payloads must loop.
func (s *Socket) Send(ctx context.Context, p []byte) (int, error) {
	sl, err := s.valid()
	if err != nil {
		return 0, err
	}
	if sl.state() != SocketConnected {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > s.m.config.MaxDataLength {
		p = p[:s.m.config.MaxDataLength]
	}

	if err := s.m.transmit(ctx, sl.id, p); err != nil {
		return 0, fmt.Errorf("send on connection %d: %w", sl.id, err)
	}
	return len(p), nil
}

// Recv blocks until data is buffered and copies up to len(p) bytes into p.
// It returns io.EOF once a connection closed by the peer has been drained.
// The wait is bounded only by ctx.
func (s *Socket) Recv(ctx context.Context, p []byte) (int, error) {
	for {
		n, wait, err := s.take(p)
		if wait == nil {
			return n, err
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return 0, timeoutError(ctx.Err())
		}
	}
}

// TryRecv is the non-blocking Recv. It returns ErrWouldBlock when no data
// is buffered.
func (s *Socket) TryRecv(p []byte) (int, error) {
	n, wait, err := s.take(p)
	if wait != nil {
		return 0, ErrWouldBlock
	}
	return n, err
}

// take copies buffered bytes into p. When there is nothing to return yet it
// hands back the channel to wait on.
func (s *Socket) take(p []byte) (int, <-chan struct{}, error) {
	sl, err := s.valid()
	if err != nil {
		return 0, nil, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if len(sl.buf) > 0 {
		n := copy(p, sl.buf)
		sl.buf = sl.buf[n:]
		return n, nil, nil
	}
	switch sl.state() {
	case SocketConnected:
		if len(p) == 0 {
			return 0, nil, nil
		}
		return 0, sl.wait, nil
	case SocketClosed:
		return 0, nil, io.EOF
	default:
		return 0, nil, ErrNotConnected
	}
}

// Close closes the connection and frees the connection identifier. The
// modem side close is best effort: its failure is logged, and the slot is
// released regardless.
func (s *Socket) Close(ctx context.Context) error {
	sl, err := s.valid()
	if err != nil {
		return err
	}

	if sl.state() == SocketConnected {
		cmd := Command{
			Text: at.CloseConnection(sl.id),
			Responses: []Response{
				{Pattern: at.Pattern{Prefix: at.ConnectionLine(sl.id, at.CloseOK)}, Action: Complete},
			},
		}
		if _, err := s.m.Submit(ctx, cmd); err != nil {
			s.m.logger.Warn("close connection", "id", sl.id, "error", err)
		}
	}

	s.m.sockets.release(sl)
	s.m.logger.Debug("socket released", "id", sl.id)
	return nil
}
