package modem

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"i4.energy/across/simnet/at"
)

// SignalUnknown is the dBm value reported when the modem has no signal
// estimate.
const SignalUnknown = -1000

// SignalDBm converts a +CSQ RSSI code to an estimated dBm value.
//
//	0     -115 dBm or less
//	1     -111 dBm
//	2..30 -110..-54 dBm
//	31    -52 dBm or greater
//	99    not known or not detectable
func SignalDBm(code int) int {
	switch {
	case code == 0:
		return -115
	case code == 1:
		return -111
	case code >= 2 && code <= 30:
		return -114 + 2*code
	case code == 31:
		return -52
	default:
		return SignalUnknown
	}
}

// knownSignal reports whether dbm is a usable estimate.
func knownSignal(dbm int) bool {
	return dbm < 0 && dbm > SignalUnknown
}

// QuerySignal asks the modem for its signal quality, stores the estimate
// and returns it in dBm.
func (m *Modem) QuerySignal(ctx context.Context) (int, error) {
	res, err := m.Submit(ctx, Command{
		Text: at.CmdSignalQuality,
		Responses: []Response{
			{Pattern: at.Pattern{Prefix: at.RespSignal, Delim: ",", MinArgs: 2}, Action: Collect},
		},
	})
	if err != nil {
		return SignalUnknown, fmt.Errorf("query signal: %w", err)
	}

	match, ok := res.Last()
	if !ok {
		return SignalUnknown, fmt.Errorf("query signal: %w: no +CSQ line", ErrIO)
	}
	code, err := strconv.Atoi(match.Args[0])
	if err != nil {
		return SignalUnknown, fmt.Errorf("query signal: malformed %q", match.Line)
	}

	dbm := SignalDBm(code)
	m.rssi.Store(int64(dbm))
	m.logger.Debug("signal", "code", code, "dbm", dbm)
	return dbm, nil
}

// Signal returns the last stored estimate in dBm, SignalUnknown if none.
func (m *Modem) Signal() int {
	return int(m.rssi.Load())
}

// PollSignal queries the signal every interval until ctx ends. Failed
// queries are logged and retried at the next tick.
func (m *Modem) PollSignal(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: signal interval %s", ErrInvalidConfig, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.QuerySignal(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Warn("signal poll failed", "error", err)
			}
		}
	}
}
