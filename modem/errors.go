package modem

import (
	"errors"

	"i4.energy/across/simnet/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no Transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation issued afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while a reader is
	// already attached to the transport.
	ErrLoopRunning = errors.New("loop already running")

	// ErrSIMPinRequired is returned by Attach when the SIM card requires a PIN
	// and no PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry the attach.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrLineTooLong is reported to a pending command when a modem response
	// line exceeds the framer buffer.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error. The reader resynchronises on the next
	// line terminator and keeps running.
	ErrLineTooLong = at.ErrLineTooLong

	// ErrBusy is returned when an exclusive resource is already in use: the
	// pending command slot, the DNS query slot or a running Attach.
	ErrBusy = errors.New("modem busy")

	// ErrTimeout is returned when a deadline elapses while waiting for a
	// protocol event. It is a normal outcome; the modem stays usable.
	ErrTimeout = errors.New("timed out")

	// ErrIO is returned on transport failures and when the modem reports
	// that a payload could not be sent.
	ErrIO = errors.New("i/o error")

	// ErrConnectionRefused is returned by Socket.Connect when the modem fails
	// to open the connection or does not confirm it in time.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrNotConnected is returned by socket operations that require an
	// established connection.
	ErrNotConnected = errors.New("socket not connected")

	// ErrAlreadyConnected is returned by Socket.Connect on a socket that is
	// not freshly opened.
	ErrAlreadyConnected = errors.New("socket already connected")

	// ErrUnsupported is returned for address families, socket types and
	// protocols the modem cannot tunnel.
	ErrUnsupported = errors.New("unsupported")

	// ErrInvalidConfig is returned when a configured value is unusable, for
	// example an empty APN.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrResourceExhausted is returned by Open when every connection
	// identifier is in use.
	ErrResourceExhausted = errors.New("no free socket")

	// ErrNetworkUnreachable is returned by Attach when the SIM is not ready
	// or the modem never attaches to the packet domain.
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrBootFailed is returned by Attach when the modem does not answer the
	// autobaud probe.
	ErrBootFailed = errors.New("modem boot failed")

	// ErrTemporaryFailure is returned by Resolve while the modem has no
	// packet domain attachment.
	ErrTemporaryFailure = errors.New("temporary failure in name resolution")

	// ErrNoName is returned by Resolve when the modem reports a lookup failure
	// or its answer cannot be parsed.
	ErrNoName = errors.New("name does not resolve")

	// ErrServiceNotFound is returned by Resolve for a service outside the
	// port range.
	ErrServiceNotFound = errors.New("service not found")

	// ErrWouldBlock is returned by Socket.TryRecv when no data is buffered.
	ErrWouldBlock = errors.New("operation would block")

	// ErrInvalidHandle is returned when a Socket is used after it was closed
	// and its connection identifier handed to another socket.
	ErrInvalidHandle = errors.New("invalid socket handle")

	// ErrError is returned when the modem answers a command with a bare
	// ERROR.
	ErrError = errors.New("modem returned ERROR")
)

// CMEError is a mobile equipment error reported as "+CME ERROR: <code>".
type CMEError string

func (e CMEError) Error() string {
	return "CME error: " + string(e)
}

// CMSError is a message service error reported as "+CMS ERROR: <code>".
type CMSError string

func (e CMSError) Error() string {
	return "CMS error: " + string(e)
}
