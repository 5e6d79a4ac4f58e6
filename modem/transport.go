package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_modem.go -package=modem . Transport,Dialer,ResetLine

// Transport represents an established, bidirectional byte stream to a cellular modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
//
// Read may return (0, nil) when a read timeout elapses; the reader simply
// tries again.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a cellular modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// ResetLine is the two-state control signal wired to the modem reset pin.
// Set(true) holds the modem in reset, Set(false) releases it.
type ResetLine interface {
	Set(asserted bool) error
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// BaudRate is used when Mode is nil. Zero means 115200.
	BaudRate int
	Mode     *serial.Mode
	// ReadTimeout makes reads return (0, nil) after the given duration
	// instead of blocking until data arrives. Receive drains count these
	// empty reads to give up on short payloads. Zero means
	// DefaultSerialReadTimeout, a negative value blocks.
	ReadTimeout time.Duration
}

// DefaultSerialReadTimeout is the read timeout of a SerialDialer that
// does not set one.
const DefaultSerialReadTimeout = 100 * time.Millisecond

func (d SerialDialer) readTimeout() time.Duration {
	if d.ReadTimeout == 0 {
		return DefaultSerialReadTimeout
	}
	return d.ReadTimeout
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	if timeout := d.readTimeout(); timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
		}
	}
	return port, nil
}

// dtrSetter is implemented by serial.Port.
type dtrSetter interface {
	SetDTR(dtr bool) error
}

// DTRResetLine drives the reset pin through the DTR line of a serial port.
// With ActiveLow set, asserting the reset drops DTR.
type DTRResetLine struct {
	Port      dtrSetter
	ActiveLow bool
}

func (l DTRResetLine) Set(asserted bool) error {
	return l.Port.SetDTR(asserted != l.ActiveLow)
}
