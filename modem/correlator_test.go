package modem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/mock/gomock"

	"i4.energy/across/simnet/at"
)

func TestSubmit(t *testing.T) {
	t.Run("OK completes", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply("AT", "AT\r\nOK\r\n")

		res, err := m.Exec(context.Background(), "AT")
		require.NoError(t, err)
		require.Empty(t, res.Lines, "echo must not be collected")
		require.Equal(t, []string{"AT"}, transport.Written())
	})

	t.Run("ERROR fails", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply("AT+CIICR", "ERROR\r\n")

		_, err := m.Exec(context.Background(), "AT+CIICR")
		require.ErrorIs(t, err, ErrError)
	})

	t.Run("CME error carries code", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply("AT+CPIN?", "+CME ERROR: 10\r\n")

		_, err := m.Exec(context.Background(), "AT+CPIN?")
		var cme CMEError
		require.ErrorAs(t, err, &cme)
		require.Equal(t, CMEError("10"), cme)
	})

	t.Run("Plain lines are collected", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply(at.CmdManufacturer, "\r\nSIMCOM_Ltd\r\n\r\nOK\r\n")

		res, err := m.Exec(context.Background(), at.CmdManufacturer)
		require.NoError(t, err)
		require.Equal(t, []string{"SIMCOM_Ltd"}, res.Lines)
	})

	t.Run("Specific response before generic OK", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply("AT+TEST", "+TEST: 1,2\r\nOK\r\n")

		res, err := m.Submit(context.Background(), Command{
			Text: "AT+TEST",
			Responses: []Response{
				{Pattern: at.Pattern{Prefix: "+TEST: ", Delim: ",", MinArgs: 2}, Action: Collect},
			},
		})
		require.NoError(t, err)
		match, ok := res.Last()
		require.True(t, ok)
		require.Equal(t, []string{"1", "2"}, match.Args)
	})

	t.Run("Fail response uses its error", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply("AT+TEST", "BAD\r\n")
		errBad := errors.New("bad")

		_, err := m.Submit(context.Background(), Command{
			Text:      "AT+TEST",
			Responses: []Response{{Pattern: at.Pattern{Prefix: "BAD"}, Action: Fail, Err: failWith(errBad)}},
		})
		require.ErrorIs(t, err, errBad)
	})

	t.Run("Timeout leaves the modem usable", func(t *testing.T) {
		m, transport := newTestModem(t)

		start := time.Now()
		_, err := m.Submit(context.Background(), Command{Text: "AT+SILENT", Timeout: 20 * time.Millisecond})
		require.ErrorIs(t, err, ErrTimeout)
		require.Less(t, time.Since(start), time.Second)

		transport.Reply("AT", "OK\r\n")
		_, err = m.Exec(context.Background(), "AT")
		require.NoError(t, err)
	})

	t.Run("Context cancellation is a timeout", func(t *testing.T) {
		m, _ := newTestModem(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.Exec(ctx, "AT")
		require.ErrorIs(t, err, ErrTimeout)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("URCs are handled while a command is pending", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.Reply(at.CmdSignalQuality, "+CPIN: READY\r\n+CSQ: 15,0\r\nOK\r\n")

		dbm, err := m.QuerySignal(context.Background())
		require.NoError(t, err)
		require.Equal(t, -84, dbm)
		require.True(t, m.SIMReady())
	})

	t.Run("Closed modem", func(t *testing.T) {
		m, _ := newTestModem(t)
		require.NoError(t, m.Close())

		_, err := m.Exec(context.Background(), "AT")
		require.ErrorIs(t, err, ErrAlreadyClosed)
	})

	t.Run("Close fails the pending command", func(t *testing.T) {
		m, _ := newTestModem(t)

		errs := make(chan error, 1)
		go func() {
			_, err := m.Submit(context.Background(), Command{Text: "AT+SILENT", Timeout: 5 * time.Second})
			errs <- err
		}()
		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.pending != nil
		}, time.Second, time.Millisecond)

		m.Close()
		require.ErrorIs(t, <-errs, ErrAlreadyClosed)
	})
}

// inflightTransport answers every command with OK after a short delay and
// counts writes issued while a previous command was still unanswered.
type inflightTransport struct {
	*TestTransport
	inflight   atomic.Bool
	violations atomic.Int32
}

func (t *inflightTransport) Write(p []byte) (int, error) {
	if t.inflight.Swap(true) {
		t.violations.Inc()
	}
	go func() {
		time.Sleep(time.Millisecond)
		t.inflight.Store(false)
		t.SendData("OK\r\n")
	}()
	return len(p), nil
}

func TestSubmitSerializesCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := &inflightTransport{TestTransport: NewTestTransport()}
	dialer := NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	config, err := NewConfigBuilder().WithDialer(dialer).Build()
	require.NoError(t, err)
	m, err := New(context.Background(), config)
	require.NoError(t, err)
	go m.Loop(context.Background())
	defer m.Close()

	const callers = 8
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				_, err := m.Exec(context.Background(), at.CmdAt)
				if err != nil {
					t.Errorf("caller %d: %v", i, err)
				}
			}
		}()
	}
	wg.Wait()

	require.Zero(t, transport.violations.Load(), "commands overlapped on the wire")
}

func TestInstallBusy(t *testing.T) {
	m, _ := newTestModem(t)

	p, err := m.install(Command{Text: "AT"}, false)
	require.NoError(t, err)
	defer m.uninstall(p)

	_, err = m.install(Command{Text: "AT"}, false)
	require.ErrorIs(t, err, ErrBusy)
}

func TestLineTooLongFailsPending(t *testing.T) {
	m, transport := newTestModem(t, func(b *ConfigBuilder) {
		b.WithBuffers(16, 0)
	})

	errs := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), Command{Text: "AT+LONG", Timeout: time.Second})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pending != nil
	}, time.Second, time.Millisecond)

	transport.SendData("0123456789abcdefghijklmnopqrstuvwxyz\r\n")
	require.ErrorIs(t, <-errs, ErrLineTooLong)

	transport.Reply("AT", "OK\r\n")
	_, err := m.Exec(context.Background(), "AT")
	require.NoError(t, err)
}
