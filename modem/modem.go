package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"i4.energy/across/simnet/at"
)

// Modem represents a SIMCom-style cellular modem that communicates via AT commands.
// It serializes commands over the single serial link, dispatches unsolicited
// result codes, and tunnels a fixed pool of TCP/UDP sockets over the same link.
//
// All transport reads happen in the reader started by Loop. Callers block in
// Submit, socket operations and Attach until the reader hands them a result.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	// logger receives engine diagnostics, tagged component=modem
	logger *slog.Logger
	// resetLine drives the hardware reset, nil if none is wired
	resetLine ResetLine
	// framer splits transport bytes into lines and raw spans; only the
	// reader uses it
	framer *at.Framer

	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopRunning indicates if a reader is attached to the transport
	loopRunning atomic.Bool
	// loopCtx controls the lifecycle of the reader; Close cancels it
	loopCtx    context.Context
	loopCancel context.CancelFunc

	// gate admits one command exchange at a time
	gate *semaphore.Weighted
	// dataGate is held while a raw payload is on the wire
	dataGate *semaphore.Weighted
	// mu guards pending
	mu      sync.Mutex
	pending *pending

	// urcs is the unsolicited result code table, built once in New
	urcs []at.Entry[urcHandler]

	state       atomic.Int32
	ready       *latch
	simReady    *latch
	simStatus   atomic.String
	attached    atomic.Bool
	pdpActive   atomic.Bool
	rssi        atomic.Int64
	networkTime atomic.Time

	// infoMu guards info and localIP
	infoMu  sync.RWMutex
	info    Info
	localIP netip.Addr

	sockets *socketTable

	// attachMu and dnsMu make Attach and Resolve single-slot
	attachMu sync.Mutex
	dnsMu    sync.Mutex

	events chan Event
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and prepares the reader, but
// does not talk to the modem: the returned Modem is Idle until Attach.
//
// Returns an error if the configuration is invalid or the transport
// connection fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.Logger.With("component", "modem"),
		resetLine: config.ResetLine,
		framer:    at.NewFramer(transport, config.FramerSize),
		gate:      semaphore.NewWeighted(1),
		dataGate:  semaphore.NewWeighted(1),
		ready:     newLatch(),
		simReady:  newLatch(),
		sockets:   newSocketTable(config.MaxSockets, config.Logger),
		// Buffered to prevent blocking the reader on slow consumers
		events: make(chan Event, config.EventBuffer),
	}
	m.rssi.Store(SignalUnknown)
	if m.resetLine == nil && config.ResetViaDTR {
		if port, ok := transport.(dtrSetter); ok {
			m.resetLine = DTRResetLine{Port: port}
		} else {
			m.logger.Warn("transport has no DTR line, reset disabled")
		}
	}
	m.urcs = m.urcTable()

	// Prepare context for Loop (but don't start it yet)
	m.loopCtx, m.loopCancel = context.WithCancel(context.Background())

	return m, nil
}

// Loop runs the reader that handles all transport input.
// It must be called after New() and before any other modem operations.
// The reader:
//
// 1. Frames transport bytes into lines and data prompts
// 2. Hands lines to the pending command (echo, expected responses, OK/ERROR)
// 3. Dispatches the remaining lines to the URC table, inline
// 4. Collects anything else as output of the pending command
//
// URC handlers run on the reader, so a +RECEIVE payload is drained before
// the next line is framed.
//
// Loop returns when ctx is cancelled, the modem is closed, or the
// transport fails. It's the ONLY goroutine that reads from the transport.
//
// Usage:
//
//	modem, err := New(ctx, config)
//	if err != nil { return err }
//
//	// Start the loop (typically in a goroutine)
//	go modem.Loop(ctx)
//
//	// Now commands will work
//	err = modem.Attach(ctx)
func (m *Modem) Loop(ctx context.Context) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.loopCtx, cancel)
	defer stop()

	readErrs := make(chan error, 1)
	go func() {
		defer m.loopRunning.Store(false)
		readErrs <- m.read(ctx)
	}()

	select {
	case <-ctx.Done():
		// The reader exits with the next transport read; Close unblocks it.
		m.failPending(m.stopError(timeoutError(ctx.Err())))
		return ctx.Err()
	case err := <-readErrs:
		if m.closed.Load() {
			m.failPending(ErrAlreadyClosed)
			return ErrAlreadyClosed
		}
		m.failPending(fmt.Errorf("%w: read: %w", ErrIO, err))
		m.logger.Error("reader stopped", "error", err)
		return err
	}
}

// stopError is the error handed to a command left pending when the reader
// stops. Close takes precedence over err.
func (m *Modem) stopError(err error) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	return err
}

// read frames and dispatches records until the transport fails or ctx ends.
func (m *Modem) read(ctx context.Context) error {
	for {
		rec, err := m.framer.Next()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, at.ErrLineTooLong):
			m.logger.Warn("dropped oversized line", "limit", m.config.FramerSize)
			m.failPending(ErrLineTooLong)
			continue
		case err != nil:
			return err
		}
		m.dispatch(rec)
	}
}

func (m *Modem) dispatch(rec at.Record) {
	if rec.Kind == at.KindPrompt {
		m.onPrompt()
		return
	}

	line := rec.Text
	m.logger.Debug("read line", "line", line)
	if m.claim(line) {
		return
	}
	if e, args, ok := at.Lookup(m.urcs, line); ok {
		e.Handler(args)
		m.emit(Event{Type: EventURC, Line: line})
		return
	}
	if m.collect(line) {
		return
	}
	m.logger.Debug("unhandled line", "line", line)
}

// Close shuts down the modem and releases all resources.
// It stops the reader, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	// Stop the Loop if it's running
	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.failPending(ErrAlreadyClosed)
	m.sockets.releaseAll()

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

func (m *Modem) usable() error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Modem) State() State {
	return State(m.state.Load())
}

func (m *Modem) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old == s {
		return
	}
	m.logger.Info("state changed", "from", old, "to", s)
	m.emit(Event{Type: EventState, State: s})
}

// Info returns the identification read during Attach.
func (m *Modem) Info() Info {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.info
}

// LocalIP returns the address assigned by the network, or the zero Addr
// before the packet data session is up.
func (m *Modem) LocalIP() netip.Addr {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.localIP
}

// NetworkTime returns the last time reported by the network, or the zero
// Time if none was received.
func (m *Modem) NetworkTime() time.Time {
	return m.networkTime.Load()
}

// SIMReady reports whether the SIM last reported READY.
func (m *Modem) SIMReady() bool {
	return m.simReady.IsSet()
}

// Attached reports whether the last packet domain query found the modem
// attached.
func (m *Modem) Attached() bool {
	return m.attached.Load()
}

// online reports whether the modem is registered with an active packet
// data context.
func (m *Modem) online() bool {
	return m.State() == StateReady && m.pdpActive.Load()
}

// EventType distinguishes the entries of the event stream.
type EventType string

const (
	EventURC   EventType = "urc"
	EventState EventType = "state"
)

// Event is an entry of the stream returned by Events.
type Event struct {
	Time  time.Time `json:"time"`
	Type  EventType `json:"type"`
	Line  string    `json:"line,omitempty"`
	State State     `json:"state"`
}

// Events returns a read-only channel of unsolicited result codes and state
// changes. The channel is buffered, but may drop some events if not
// consumed fast enough.
func (m *Modem) Events() <-chan Event {
	return m.events
}

func (m *Modem) emit(e Event) {
	e.Time = time.Now()
	e.State = m.State()
	select {
	case m.events <- e:
	default:
		// Event channel is full - drop the event
	}
}
