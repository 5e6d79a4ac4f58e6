package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/simnet/modem"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a TOML, YAML or JSON configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.Duration("serial-read-timeout", 100*time.Millisecond, "Timeout of each serial read")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("apn", "", "Access point name of the packet data session")
	flag.String("apn-user", "", "Access point user name")
	flag.String("apn-password", "", "Access point password")
	flag.Int("dns-retries", 2, "Retries of the modem resolver")
	flag.Duration("dns-retry-timeout", 10*time.Second, "Timeout of each modem resolver try")
	flag.Duration("signal-interval", 30*time.Second, "Period of the signal quality poll")
	flag.Bool("reset-via-dtr", false, "Reset the modem by pulsing the serial DTR line")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := newModemConfig(config, logger)
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting modem daemon", "serial_port", config.SerialPort, "apn", config.APN)

	events := NewBroadcaster()
	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: cors.AllowAll().Handler(&Server{
			Logger: logger.With("component", "server"),
			Modem:  m,
			Events: events,
		}),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := m.Loop(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, modem.ErrAlreadyClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return events.Run(ctx, m.Events())
	})

	g.Go(func() error {
		// A failed attach is not fatal: it can be retried through the API.
		if err := m.Attach(ctx); err != nil {
			logger.Error("Initial attach failed", "error", err)
		}
		if err := m.PollSignal(ctx, config.SignalInterval); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Daemon stopped", "error", err)
		os.Exit(1)
	}
}

// newModemConfig translates the daemon configuration into the engine's.
func newModemConfig(config *Config, logger *slog.Logger) (modem.Config, error) {
	retries := config.DNSRetries
	if retries == 0 {
		retries = modem.NoRetries
	}
	return modem.NewConfigBuilder().
		WithLogger(logger).
		WithSimPIN(config.SimPIN).
		WithAPN(config.APN, config.APNUser, config.APNPassword).
		WithDNS(0, retries, config.DNSRetryTimeout).
		WithResetViaDTR(config.ResetViaDTR).
		WithDialer(modem.SerialDialer{
			PortName:    config.SerialPort,
			BaudRate:    config.BaudRate,
			ReadTimeout: config.SerialReadTimeout,
		}).
		Build()
}
