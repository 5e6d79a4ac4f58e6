package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// SerialReadTimeout bounds each serial read so short receive payloads
	// are given up on
	SerialReadTimeout time.Duration
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// APN is the access point of the packet data session, with optional
	// credentials
	APN         string
	APNUser     string
	APNPassword string
	// DNSRetries and DNSRetryTimeout are passed to the modem resolver.
	// Zero retries means a single try.
	DNSRetries      int
	DNSRetryTimeout time.Duration
	// SignalInterval is the period of the background signal poll
	SignalInterval time.Duration
	// ResetViaDTR pulses the serial DTR line to reset the modem
	ResetViaDTR bool
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.SignalInterval <= 0 {
		return fmt.Errorf("signal interval must be positive, got %s", c.SignalInterval)
	}
	if c.DNSRetries < 0 {
		return fmt.Errorf("dns retries must not be negative, got %d", c.DNSRetries)
	}
	if c.SerialReadTimeout < 0 {
		return fmt.Errorf("serial read timeout must not be negative, got %s", c.SerialReadTimeout)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.SerialReadTimeout = 100 * time.Millisecond
		c.LogLevel = "info"
		c.DNSRetries = 2
		c.DNSRetryTimeout = 10 * time.Second
		c.SignalInterval = 30 * time.Second
		return nil
	}
}

// WithFile loads configuration from a TOML, YAML or JSON file. An empty
// path leaves the config unchanged.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}

		if v.IsSet("bind_address") {
			c.BindAddress = v.GetString("bind_address")
		}
		if v.IsSet("serial_port") {
			c.SerialPort = v.GetString("serial_port")
		}
		if v.IsSet("baud_rate") {
			c.BaudRate = v.GetInt("baud_rate")
		}
		if v.IsSet("serial_read_timeout") {
			c.SerialReadTimeout = v.GetDuration("serial_read_timeout")
		}
		if v.IsSet("log_level") {
			c.LogLevel = v.GetString("log_level")
		}
		if v.IsSet("sim_pin") {
			c.SimPIN = v.GetString("sim_pin")
		}
		if v.IsSet("apn.name") {
			c.APN = v.GetString("apn.name")
		}
		if v.IsSet("apn.user") {
			c.APNUser = v.GetString("apn.user")
		}
		if v.IsSet("apn.password") {
			c.APNPassword = v.GetString("apn.password")
		}
		if v.IsSet("dns.retries") {
			c.DNSRetries = v.GetInt("dns.retries")
		}
		if v.IsSet("dns.retry_timeout") {
			c.DNSRetryTimeout = v.GetDuration("dns.retry_timeout")
		}
		if v.IsSet("signal_interval") {
			c.SignalInterval = v.GetDuration("signal_interval")
		}
		if v.IsSet("reset_via_dtr") {
			c.ResetViaDTR = v.GetBool("reset_via_dtr")
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if timeout := os.Getenv("SERIAL_READ_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.SerialReadTimeout = d
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if apn := os.Getenv("APN"); apn != "" {
			c.APN = apn
		}
		if user := os.Getenv("APN_USER"); user != "" {
			c.APNUser = user
		}
		if password := os.Getenv("APN_PASSWORD"); password != "" {
			c.APNPassword = password
		}

		if retries := os.Getenv("DNS_RETRIES"); retries != "" {
			if n, err := strconv.Atoi(retries); err == nil {
				c.DNSRetries = n
			}
		}
		if timeout := os.Getenv("DNS_RETRY_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.DNSRetryTimeout = d
			}
		}

		if interval := os.Getenv("SIGNAL_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.SignalInterval = d
			}
		}

		if dtr := os.Getenv("RESET_VIA_DTR"); dtr != "" {
			if b, err := strconv.ParseBool(dtr); err == nil {
				c.ResetViaDTR = b
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "serial-read-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.SerialReadTimeout = d
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "apn":
				c.APN = f.Value.String()
			case "apn-user":
				c.APNUser = f.Value.String()
			case "apn-password":
				c.APNPassword = f.Value.String()
			case "dns-retries":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.DNSRetries = n
				}
			case "dns-retry-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.DNSRetryTimeout = d
				}
			case "signal-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.SignalInterval = d
				}
			case "reset-via-dtr":
				if b, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.ResetViaDTR = b
				}
			}
		})
		return nil
	}
}
