package modem

import (
	"strconv"
	"strings"
	"time"

	"i4.energy/across/simnet/at"
)

// maxReceive bounds the payload length accepted from a +RECEIVE line.
const maxReceive = 1 << 16

// urcHandler runs inline on the reader. It must not submit commands and
// must return quickly.
type urcHandler func(args []string)

// urcTable builds the URC table. Per-connection entries are generated for
// every connection identifier.
func (m *Modem) urcTable() []at.Entry[urcHandler] {
	table := []at.Entry[urcHandler]{
		{Pattern: at.Pattern{Prefix: at.UrcReady}, Handler: m.onReady},
		{Pattern: at.Pattern{Prefix: at.UrcPowerDown}, Handler: m.onPowerDown},
		{Pattern: at.Pattern{Prefix: at.UrcSimStatus, Delim: ",", MinArgs: 1}, Handler: m.onSimStatus},
		{Pattern: at.Pattern{Prefix: at.UrcRegistered, Delim: ",", MinArgs: 1}, Handler: m.onRegistration},
		{Pattern: at.Pattern{Prefix: at.UrcPDPDeact}, Handler: m.onPDPDeact},
		{Pattern: at.Pattern{Prefix: at.UrcReceive, Delim: ",", MinArgs: 2}, Handler: m.onReceive},
		{Pattern: at.Pattern{Prefix: at.UrcNetworkTime, Delim: ",", MinArgs: 7}, Handler: m.onNetworkTime},
		{Pattern: at.Pattern{Prefix: at.UrcIndicator, Delim: ",", MinArgs: 1}, Handler: m.onIndicator},
	}
	for id := range m.config.MaxSockets {
		table = append(table, at.Entry[urcHandler]{
			Pattern: at.Pattern{Prefix: at.ConnectionLine(id, at.UrcClosed)},
			Handler: func([]string) { m.onRemoteClose(id) },
		})
	}
	return table
}

func (m *Modem) onReady([]string) {
	m.logger.Info("modem reports ready")
	m.ready.Set(true)
}

func (m *Modem) onPowerDown([]string) {
	m.logger.Info("modem powering down")
}

func (m *Modem) onSimStatus(args []string) {
	status := args[0]
	m.simStatus.Store(status)
	m.simReady.Set(status == at.SimReady)
	m.logger.Info("SIM status", "status", status)
}

// onRegistration handles both the "+CREG: <stat>" notification and an
// unclaimed "+CREG: <n>,<stat>" query answer.
func (m *Modem) onRegistration(args []string) {
	stat, err := strconv.Atoi(args[len(args)-1])
	if err != nil {
		m.logger.Warn("malformed registration status", "args", args)
		return
	}
	// Error only clears through another attach
	if st := m.State(); st == StateResetting || st == StateError {
		return
	}
	if stat == 1 || stat == 5 {
		m.setState(StateReady)
	} else {
		m.setState(StateInitializing)
	}
}

// onPDPDeact handles the loss of the packet data context. The modem drops
// every connection with it.
func (m *Modem) onPDPDeact([]string) {
	m.pdpActive.Store(false)
	if m.State() == StateReady {
		m.setState(StateInitializing)
	}
	m.sockets.closeAll()
	m.logger.Warn("PDP context deactivated")
}

// onReceive drains "+RECEIVE,<id>,<len>:" payloads into the socket buffer.
// The payload starts right after the line terminator.
func (m *Modem) onReceive(args []string) {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		m.logger.Warn("malformed receive notification", "args", args)
		return
	}
	n, err := strconv.Atoi(strings.TrimSuffix(args[1], ":"))
	if err != nil || n < 0 || n > maxReceive {
		m.logger.Warn("malformed receive notification", "args", args)
		return
	}

	buf := make([]byte, n)
	got, err := m.framer.ReadRaw(buf, m.config.DrainAttempts, m.config.DrainDelay)
	if err != nil {
		m.logger.Warn("short receive drain", "id", id, "want", n, "got", got, "error", err)
	}

	s := m.sockets.get(id)
	if s == nil {
		m.logger.Warn("receive for unknown connection", "id", id, "bytes", got)
		return
	}
	kept := s.deliver(buf[:got], m.config.RecvBufferSize)
	if kept < got {
		m.logger.Warn("receive buffer full, dropped bytes", "id", id, "dropped", got-kept)
	}
	m.logger.Debug("received", "id", id, "bytes", kept)
}

// onNetworkTime parses "*PSUTTZ: yy,MM,dd,hh,mm,ss,"tz",dst". The time is
// UTC and the zone is given in quarter hours.
func (m *Modem) onNetworkTime(args []string) {
	var v [6]int
	for i := range v {
		n, err := strconv.Atoi(args[i])
		if err != nil {
			m.logger.Warn("malformed network time", "args", args)
			return
		}
		v[i] = n
	}
	tz, err := strconv.Atoi(at.Unquote(args[6]))
	if err != nil {
		m.logger.Warn("malformed network time zone", "args", args)
		return
	}

	year := v[0]
	if year < 100 {
		year += 2000
	}
	loc := time.FixedZone("", tz*15*60)
	t := time.Date(year, time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC).In(loc)
	m.networkTime.Store(t)
	m.logger.Info("network time", "time", t)
}

func (m *Modem) onIndicator(args []string) {
	m.logger.Debug("indicator", "args", args)
}

func (m *Modem) onRemoteClose(id int) {
	if m.sockets.remoteClose(id) {
		m.logger.Info("connection closed by peer", "id", id)
	}
}
