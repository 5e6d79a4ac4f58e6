package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"i4.energy/across/simnet/modem"
)

const apiPrefix = "/api/v1"

// Device is the part of the modem engine the HTTP API needs.
type Device interface {
	State() modem.State
	Info() modem.Info
	LocalIP() netip.Addr
	NetworkTime() time.Time
	SIMReady() bool
	Attached() bool
	Signal() int
	QuerySignal(ctx context.Context) (int, error)
	Resolve(ctx context.Context, host, service string) (netip.AddrPort, error)
	Attach(ctx context.Context) error
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  Device
	// Events feeds the websocket stream. Nil disables /ws.
	Events *Broadcaster

	once   sync.Once
	router *mux.Router
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		r := mux.NewRouter()
		api := r.PathPrefix(apiPrefix).Subrouter()
		api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
		api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
		api.HandleFunc("/signal", s.handleSignal).Methods(http.MethodGet)
		api.HandleFunc("/resolve", s.handleResolve).Methods(http.MethodGet)
		api.HandleFunc("/attach", s.handleAttach).Methods(http.MethodPost)
		r.HandleFunc("/ws", s.handleWebSocket)
		s.router = r
	})
	s.router.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrServiceNotFound), errors.Is(err, modem.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, modem.ErrNoName):
		return http.StatusNotFound
	case errors.Is(err, modem.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrTemporaryFailure), errors.Is(err, modem.ErrNetworkUnreachable),
		errors.Is(err, modem.ErrAlreadyClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	type StateResponse struct {
		State    modem.State `json:"state"`
		SIMReady bool        `json:"sim_ready"`
		Attached bool        `json:"attached"`
		LocalIP  string      `json:"local_ip,omitempty"`
	}

	resp := StateResponse{
		State:    s.Modem.State(),
		SIMReady: s.Modem.SIMReady(),
		Attached: s.Modem.Attached(),
	}
	if ip := s.Modem.LocalIP(); ip.IsValid() {
		resp.LocalIP = ip.String()
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	type InfoResponse struct {
		modem.Info
		HardwareAddr string     `json:"hardware_addr,omitempty"`
		NetworkTime  *time.Time `json:"network_time,omitempty"`
	}

	info := s.Modem.Info()
	resp := InfoResponse{Info: info}
	if info.IMEI != "" {
		resp.HardwareAddr = info.HardwareAddr().String()
	}
	if t := s.Modem.NetworkTime(); !t.IsZero() {
		resp.NetworkTime = &t
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// handleSignal returns the last signal estimate. With refresh=true the
// modem is queried first.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	type SignalResponse struct {
		DBm   int  `json:"dbm"`
		Known bool `json:"known"`
	}

	dbm := s.Modem.Signal()
	if r.URL.Query().Get("refresh") == "true" {
		var err error
		if dbm, err = s.Modem.QuerySignal(r.Context()); err != nil {
			s.Logger.Error("Failed to query signal", "error", err)
			s.sendError(w, err.Error(), statusFor(err))
			return
		}
	}
	s.sendJSON(w, SignalResponse{DBm: dbm, Known: dbm != modem.SignalUnknown}, http.StatusOK)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		s.sendError(w, "'host' parameter is required", http.StatusBadRequest)
		return
	}

	addr, err := s.Modem.Resolve(r.Context(), host, r.URL.Query().Get("port"))
	if err != nil {
		s.Logger.Warn("Failed to resolve", "host", host, "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	type ResolveResponse struct {
		Host    string `json:"host"`
		Address string `json:"address"`
		Port    uint16 `json:"port"`
	}
	s.sendJSON(w, ResolveResponse{Host: host, Address: addr.Addr().String(), Port: addr.Port()}, http.StatusOK)
}

// handleAttach runs the attach sequence and answers once it has finished.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.Attach(r.Context()); err != nil {
		s.Logger.Error("Attach failed", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Attach succeeded", "ip", s.Modem.LocalIP())
	s.handleState(w, r)
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection
// and streams modem events to the client as JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		s.sendError(w, "event stream disabled", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.Events.Subscribe(100)
	defer cancel()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
