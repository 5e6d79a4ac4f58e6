package modem

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"i4.energy/across/simnet/at"
)

// Resolve looks up host through the modem's resolver and returns its first
// address with the port of service. service is a decimal port; empty
// means port 0.
//
// Numeric hosts are returned without talking to the modem. Only one lookup
// runs at a time; a concurrent call fails with ErrBusy.
func (m *Modem) Resolve(ctx context.Context, host, service string) (netip.AddrPort, error) {
	var port uint16
	if service != "" {
		p, err := strconv.Atoi(service)
		if err != nil || p < 1 || p > 65535 {
			return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
		}
		port = uint16(p)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, port), nil
	}
	if host == "" {
		return netip.AddrPort{}, ErrNoName
	}
	if !m.online() {
		return netip.AddrPort{}, fmt.Errorf("%w: packet data is down", ErrTemporaryFailure)
	}

	if !m.dnsMu.TryLock() {
		return netip.AddrPort{}, ErrBusy
	}
	defer m.dnsMu.Unlock()

	cmd := Command{
		Text: at.Resolve(host, max(m.config.DNSRetries, 0), int(m.config.DNSRetryTimeout.Milliseconds())),
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.RespResolve, Delim: ",", MinArgs: 2}, Action: Complete},
			{Pattern: at.Pattern{Prefix: at.OK}, Action: Collect},
		},
		Timeout: m.config.DNSTimeout,
	}
	res, err := m.Submit(ctx, cmd)
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrIO):
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	case err != nil:
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w: %w", host, ErrTemporaryFailure, err)
	}

	match, _ := res.Last()
	addr, err := parseResolve(match.Args)
	if err != nil {
		m.logger.Warn("resolve failed", "host", host, "answer", match.Line)
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	m.logger.Debug("resolved", "host", host, "addr", addr)
	return netip.AddrPortFrom(addr, port), nil
}

// parseResolve reads the arguments of "+CDNSGIP: 1,"<name>","<ip>"[,"<ip>"]"
// and returns the first address. "+CDNSGIP: 0,<err>" is a failed lookup.
func parseResolve(args []string) (netip.Addr, error) {
	if len(args) < 2 {
		return netip.Addr{}, ErrNoName
	}
	if args[0] != "1" {
		return netip.Addr{}, fmt.Errorf("%w: modem error %s", ErrNoName, args[1])
	}
	for _, field := range args[2:] {
		if addr, err := netip.ParseAddr(at.Unquote(field)); err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrNoName
}
