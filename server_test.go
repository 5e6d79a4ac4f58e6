package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"i4.energy/across/simnet/modem"
)

type fakeDevice struct {
	state     modem.State
	info      modem.Info
	ip        netip.Addr
	signal    int
	queried   int
	resolved  netip.AddrPort
	resolve   error
	attach    error
	attachCtx context.Context
}

func (d *fakeDevice) State() modem.State     { return d.state }
func (d *fakeDevice) Info() modem.Info       { return d.info }
func (d *fakeDevice) LocalIP() netip.Addr    { return d.ip }
func (d *fakeDevice) NetworkTime() time.Time { return time.Time{} }
func (d *fakeDevice) SIMReady() bool         { return d.state == modem.StateReady }
func (d *fakeDevice) Attached() bool         { return d.ip.IsValid() }
func (d *fakeDevice) Signal() int            { return d.signal }

func (d *fakeDevice) QuerySignal(ctx context.Context) (int, error) {
	d.queried++
	return d.signal, nil
}

func (d *fakeDevice) Resolve(ctx context.Context, host, service string) (netip.AddrPort, error) {
	return d.resolved, d.resolve
}

func (d *fakeDevice) Attach(ctx context.Context) error {
	d.attachCtx = ctx
	if d.attach == nil {
		d.state = modem.StateReady
		d.ip = netip.MustParseAddr("10.0.0.2")
	}
	return d.attach
}

func newTestServer(d Device) (*Server, *Broadcaster) {
	events := NewBroadcaster()
	return &Server{
		Logger: slog.New(slog.DiscardHandler),
		Modem:  d,
		Events: events,
	}, events
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHandleState(t *testing.T) {
	s, _ := newTestServer(&fakeDevice{state: modem.StateInitializing})

	rec, body := do(t, s, http.MethodGet, "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "initializing", body["state"])
	require.Equal(t, false, body["attached"])
	require.NotContains(t, body, "local_ip")
}

func TestHandleInfo(t *testing.T) {
	s, _ := newTestServer(&fakeDevice{info: modem.Info{Manufacturer: "SIMCOM_Ltd", IMEI: "1"}})

	rec, body := do(t, s, http.MethodGet, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SIMCOM_Ltd", body["manufacturer"])
	require.Equal(t, "00:10:31:00:00:00", body["hardware_addr"])
	require.NotContains(t, body, "network_time")
}

func TestHandleSignal(t *testing.T) {
	t.Run("Stored value", func(t *testing.T) {
		d := &fakeDevice{signal: modem.SignalUnknown}
		s, _ := newTestServer(d)

		rec, body := do(t, s, http.MethodGet, "/api/v1/signal")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, false, body["known"])
		require.Zero(t, d.queried)
	})

	t.Run("Refresh", func(t *testing.T) {
		d := &fakeDevice{signal: -84}
		s, _ := newTestServer(d)

		rec, body := do(t, s, http.MethodGet, "/api/v1/signal?refresh=true")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, float64(-84), body["dbm"])
		require.Equal(t, true, body["known"])
		require.Equal(t, 1, d.queried)
	})
}

func TestHandleResolve(t *testing.T) {
	t.Run("Resolved", func(t *testing.T) {
		s, _ := newTestServer(&fakeDevice{resolved: netip.MustParseAddrPort("93.184.216.34:443")})

		rec, body := do(t, s, http.MethodGet, "/api/v1/resolve?host=example.com&port=443")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "93.184.216.34", body["address"])
		require.Equal(t, float64(443), body["port"])
	})

	t.Run("Missing host", func(t *testing.T) {
		s, _ := newTestServer(&fakeDevice{})

		rec, _ := do(t, s, http.MethodGet, "/api/v1/resolve")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	errorCases := []struct {
		err  error
		code int
	}{
		{modem.ErrNoName, http.StatusNotFound},
		{modem.ErrServiceNotFound, http.StatusBadRequest},
		{modem.ErrBusy, http.StatusConflict},
		{fmt.Errorf("resolve: %w", modem.ErrTimeout), http.StatusGatewayTimeout},
		{modem.ErrTemporaryFailure, http.StatusServiceUnavailable},
	}
	for _, tc := range errorCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			s, _ := newTestServer(&fakeDevice{resolve: tc.err})

			rec, body := do(t, s, http.MethodGet, "/api/v1/resolve?host=example.com")
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, tc.err.Error(), body["message"])
		})
	}
}

func TestHandleAttach(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		d := &fakeDevice{}
		s, _ := newTestServer(d)

		rec, body := do(t, s, http.MethodPost, "/api/v1/attach")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ready", body["state"])
		require.Equal(t, "10.0.0.2", body["local_ip"])
		require.NotNil(t, d.attachCtx)
	})

	t.Run("Failure", func(t *testing.T) {
		s, _ := newTestServer(&fakeDevice{attach: modem.ErrNetworkUnreachable})

		rec, _ := do(t, s, http.MethodPost, "/api/v1/attach")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Wrong method", func(t *testing.T) {
		s, _ := newTestServer(&fakeDevice{})

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attach", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestWebSocket(t *testing.T) {
	s, events := newTestServer(&fakeDevice{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// wait for the handler to subscribe
	require.Eventually(t, func() bool {
		events.RLock()
		defer events.RUnlock()
		return len(events.pool) == 1
	}, time.Second, time.Millisecond)

	events.Broadcast(modem.Event{Type: modem.EventURC, Line: "+CREG: 1", State: modem.StateReady})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "urc", got["type"])
	require.Equal(t, "+CREG: 1", got["line"])
	require.Equal(t, "ready", got["state"])
}
