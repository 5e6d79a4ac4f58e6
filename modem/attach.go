package modem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"i4.energy/across/simnet/at"
)

// Info identifies the modem. It is read during Attach; fields the modem
// did not answer stay empty.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Revision     string `json:"revision"`
	IMEI         string `json:"imei"`
}

// HardwareAddr derives a stable MAC address from the IMEI: 00:10 followed
// by a 32-bit hash of the IMEI in little-endian order.
func (i Info) HardwareAddr() net.HardwareAddr {
	var h uint32
	for _, c := range []byte(i.IMEI) {
		h = h*37 + uint32(c)
	}
	mac := make(net.HardwareAddr, 6)
	mac[0], mac[1] = 0x00, 0x10
	binary.LittleEndian.PutUint32(mac[2:], h)
	return mac
}

// Attach drives the modem from power-on to a packet data session: reset,
// autobaud, boot and SIM waits, identification, network registration,
// multiplexing and APN setup, and the local address query.
//
// Every step is bounded. On failure the state is Error, except for a
// network that never attaches, which leaves the modem Initializing. Attach
// never retries the whole sequence itself; a second concurrent call fails
// with ErrBusy.
func (m *Modem) Attach(ctx context.Context) error {
	if err := m.usable(); err != nil {
		return err
	}
	if !m.attachMu.TryLock() {
		return ErrBusy
	}
	defer m.attachMu.Unlock()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"reset", m.reset},
		{"autobaud", m.autobaud},
		{"wait ready", m.waitReady},
		{"wait SIM", m.waitSIM},
		{"identify", m.identify},
		{"register", m.register},
		{"bring up", m.bringUp},
		{"local address", m.queryLocalIP},
	}
	for _, step := range steps {
		m.logger.Info("attach step", "step", step.name)
		if err := step.run(ctx); err != nil {
			if !errors.Is(err, ErrNetworkUnreachable) {
				m.setState(StateError)
			}
			m.logger.Error("attach failed", "step", step.name, "error", err)
			return fmt.Errorf("attach: %s: %w", step.name, err)
		}
	}

	m.setState(StateReady)
	m.logger.Info("attached", "ip", m.LocalIP())
	return nil
}

// reset pulses the reset line and clears everything learned from the
// previous session.
func (m *Modem) reset(ctx context.Context) error {
	m.setState(StateResetting)
	m.ready.Set(false)
	m.simReady.Set(false)
	m.simStatus.Store("")
	m.attached.Store(false)
	m.pdpActive.Store(false)
	m.rssi.Store(SignalUnknown)
	m.sockets.releaseAll()
	m.infoMu.Lock()
	m.localIP = netip.Addr{}
	m.infoMu.Unlock()

	if m.resetLine != nil {
		if err := m.resetLine.Set(true); err != nil {
			return fmt.Errorf("%w: assert reset: %w", ErrIO, err)
		}
		if err := sleep(ctx, m.config.ResetHold); err != nil {
			m.resetLine.Set(false)
			return err
		}
		if err := m.resetLine.Set(false); err != nil {
			return fmt.Errorf("%w: release reset: %w", ErrIO, err)
		}
	}
	if err := sleep(ctx, m.config.ResetSettle); err != nil {
		return err
	}
	m.setState(StateInitializing)
	return nil
}

// autobaud probes with AT until the modem answers, then turns echo off.
func (m *Modem) autobaud(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= m.config.AutobaudAttempts; attempt++ {
		_, err = m.Submit(ctx, Command{Text: at.CmdAt, Timeout: m.config.AutobaudTimeout})
		if err == nil {
			break
		}
		if ctx.Err() != nil || errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrIO) {
			return err
		}
		m.logger.Debug("autobaud probe unanswered", "attempt", attempt, "error", err)
	}
	if err != nil {
		return fmt.Errorf("%w: no answer after %d probes: %w", ErrBootFailed, m.config.AutobaudAttempts, err)
	}

	if _, err := m.Exec(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("%w: disable echo: %w", ErrBootFailed, err)
	}
	return nil
}

// waitReady waits for RDY. Without a reset line the modem was not
// rebooted and does not announce itself again.
func (m *Modem) waitReady(ctx context.Context) error {
	if m.resetLine == nil {
		m.logger.Debug("no reset line, not waiting for RDY")
		return nil
	}
	if err := m.ready.Wait(ctx, m.config.ReadyTimeout); err != nil {
		return fmt.Errorf("RDY: %w", err)
	}
	return nil
}

// waitSIM asks for the SIM status, unlocks the SIM if a PIN is
// configured, and waits for +CPIN: READY.
func (m *Modem) waitSIM(ctx context.Context) error {
	// The answer is consumed by the +CPIN URC handler.
	if _, err := m.Exec(ctx, at.CmdSimStatus); err != nil {
		m.logger.Warn("SIM status query failed", "error", err)
	}

	if !m.simReady.IsSet() && m.simStatus.Load() == "SIM PIN" {
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if _, err := m.Exec(ctx, fmt.Sprintf(`AT+CPIN="%s"`, m.config.SimPIN)); err != nil {
			return fmt.Errorf("enter PIN: %w", err)
		}
	}

	if err := m.simReady.Wait(ctx, m.config.SIMTimeout); err != nil {
		return fmt.Errorf("SIM not ready (%q): %w", m.simStatus.Load(), err)
	}
	return nil
}

// identify reads the identification strings. Failures are logged and
// leave the field empty.
func (m *Modem) identify(ctx context.Context) error {
	query := func(cmd string) string {
		res, err := m.Exec(ctx, cmd)
		if err != nil || len(res.Lines) == 0 {
			m.logger.Warn("identification query failed", "command", cmd, "error", err)
			return ""
		}
		return strings.TrimSpace(res.Lines[0])
	}

	info := Info{
		Manufacturer: query(at.CmdManufacturer),
		Model:        query(at.CmdModel),
		Revision:     strings.TrimSpace(strings.TrimPrefix(query(at.CmdRevision), at.RevisionPrefix)),
		IMEI:         query(at.CmdIMEI),
	}
	m.infoMu.Lock()
	m.info = info
	m.infoMu.Unlock()

	m.logger.Info("modem identified",
		"manufacturer", info.Manufacturer,
		"model", info.Model,
		"revision", info.Revision,
		"imei", info.IMEI,
	)
	return ctx.Err()
}

// register waits for a usable signal, reads the registration status and
// polls the packet domain attachment.
func (m *Modem) register(ctx context.Context) error {
	if err := m.waitSignal(ctx); err != nil {
		return err
	}

	res, err := m.Submit(ctx, Command{
		Text: at.CmdRegistration,
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.RespRegistered, Delim: ",", MinArgs: 2}, Action: Collect},
		},
	})
	if err != nil {
		return fmt.Errorf("query registration: %w", err)
	}
	if match, ok := res.Last(); ok {
		m.logger.Info("registration", "status", match.Args[1])
	}

	for attempt := 1; attempt <= m.config.AttachAttempts && !m.attached.Load(); attempt++ {
		attached, err := m.queryAttached(ctx)
		if err != nil {
			return err
		}
		if attached {
			break
		}
		if _, err := m.QuerySignal(ctx); err != nil {
			m.logger.Debug("signal query failed", "error", err)
		}
		if err := sleep(ctx, m.config.AttachDelay); err != nil {
			return err
		}
	}

	if !m.simReady.IsSet() || !m.attached.Load() {
		m.setState(StateInitializing)
		return fmt.Errorf("%w: SIM ready %t, attached %t", ErrNetworkUnreachable, m.simReady.IsSet(), m.attached.Load())
	}
	return nil
}

// waitSignal polls the signal quality until it leaves the unknown range or
// the attempts run out. Running out is not an error: registration may
// still succeed.
func (m *Modem) waitSignal(ctx context.Context) error {
	for attempt := 1; attempt <= m.config.SignalAttempts; attempt++ {
		dbm, err := m.QuerySignal(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrAlreadyClosed) {
				return err
			}
			m.logger.Debug("signal query failed", "error", err)
		}
		if knownSignal(dbm) {
			m.logger.Info("signal acquired", "dbm", dbm)
			return nil
		}
		if err := sleep(ctx, m.config.SignalDelay); err != nil {
			return err
		}
	}
	m.logger.Warn("no usable signal", "attempts", m.config.SignalAttempts)
	return nil
}

func (m *Modem) queryAttached(ctx context.Context) (bool, error) {
	res, err := m.Submit(ctx, Command{
		Text: at.CmdAttached,
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.RespAttached, MinArgs: 1}, Action: Collect},
		},
	})
	if err != nil {
		return false, fmt.Errorf("query attachment: %w", err)
	}
	match, ok := res.Last()
	if !ok {
		return false, nil
	}
	attached := match.Args[0] != "0"
	m.attached.Store(attached)
	m.logger.Debug("attachment", "attached", attached)
	return attached, nil
}

// bringUp enables multiple connections, sets the APN and activates the
// packet data context.
func (m *Modem) bringUp(ctx context.Context) error {
	if _, err := m.Submit(ctx, Command{Text: at.CmdMultiplex, Timeout: m.config.MultiplexTimeout}); err != nil {
		return fmt.Errorf("enable multiplexing: %w", err)
	}
	if m.config.APN == "" {
		return fmt.Errorf("%w: no APN configured", ErrInvalidConfig)
	}
	if _, err := m.Exec(ctx, at.SetAPN(m.config.APN, m.config.APNUser, m.config.APNPassword)); err != nil {
		return fmt.Errorf("set APN: %w", err)
	}
	if _, err := m.Exec(ctx, at.CmdBringUp); err != nil {
		return fmt.Errorf("bring up wireless connection: %w", err)
	}
	m.pdpActive.Store(true)
	return nil
}

// queryLocalIP reads the address assigned to the packet data context.
// AT+CIFSR answers with the bare address and no OK.
func (m *Modem) queryLocalIP(ctx context.Context) error {
	res, err := m.Submit(ctx, Command{
		Text: at.CmdLocalIP,
		Responses: []Response{
			{Pattern: at.Pattern{Delim: ".", MinArgs: 4}, Action: Complete},
		},
	})
	if err != nil {
		return fmt.Errorf("query local address: %w", err)
	}
	match, _ := res.Last()
	text := strings.TrimRight(match.Line, " \r\n\t")
	ip, err := netip.ParseAddr(text)
	if err != nil {
		return fmt.Errorf("%w: malformed local address %q", ErrIO, text)
	}

	m.infoMu.Lock()
	m.localIP = ip
	m.infoMu.Unlock()
	m.logger.Info("local address", "ip", ip)
	return nil
}
