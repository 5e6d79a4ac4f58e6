package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/simnet/at"
)

// NoRetries disables the retries of a setting whose zero value means the
// default count.
const NoRetries = -1

// Config holds the settings of a Modem. Use NewConfigBuilder to create one;
// zero durations and counts are replaced by defaults.
type Config struct {
	// Dialer opens the transport. Required.
	Dialer Dialer
	// ResetLine drives the hardware reset. Optional; without it the reset
	// step only waits for ResetSettle.
	ResetLine ResetLine
	// ResetViaDTR uses the DTR line of the transport as reset line when
	// ResetLine is nil and the transport supports it.
	ResetViaDTR bool
	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	SimPIN      string
	APN         string
	APNUser     string
	APNPassword string

	CommandTimeout   time.Duration
	PromptTimeout    time.Duration
	ConnectTimeout   time.Duration
	MultiplexTimeout time.Duration

	// DNSTimeout bounds the whole resolve exchange. DNSRetries and
	// DNSRetryTimeout are handed to the modem with the query; set
	// DNSRetries to NoRetries for a single try.
	DNSTimeout      time.Duration
	DNSRetries      int
	DNSRetryTimeout time.Duration

	AutobaudAttempts int
	AutobaudTimeout  time.Duration
	ReadyTimeout     time.Duration
	SIMTimeout       time.Duration
	SignalAttempts   int
	SignalDelay      time.Duration
	AttachAttempts   int
	AttachDelay      time.Duration
	ResetHold        time.Duration
	ResetSettle      time.Duration

	// DrainAttempts and DrainDelay bound the raw read of a +RECEIVE payload.
	DrainAttempts int
	DrainDelay    time.Duration

	MaxSockets     int
	MaxDataLength  int
	FramerSize     int
	RecvBufferSize int
	EventBuffer    int
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.PromptTimeout == 0 {
		c.PromptTimeout = 5 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.MultiplexTimeout == 0 {
		c.MultiplexTimeout = 5 * time.Second
	}
	if c.DNSTimeout == 0 {
		c.DNSTimeout = 210 * time.Second
	}
	if c.DNSRetries == 0 {
		c.DNSRetries = 2
	}
	if c.DNSRetryTimeout == 0 {
		c.DNSRetryTimeout = 10 * time.Second
	}
	if c.AutobaudAttempts == 0 {
		c.AutobaudAttempts = 5
	}
	if c.AutobaudTimeout == 0 {
		c.AutobaudTimeout = 500 * time.Millisecond
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.SIMTimeout == 0 {
		c.SIMTimeout = 30 * time.Second
	}
	if c.SignalAttempts == 0 {
		c.SignalAttempts = 30
	}
	if c.SignalDelay == 0 {
		c.SignalDelay = 2 * time.Second
	}
	if c.AttachAttempts == 0 {
		c.AttachAttempts = 30
	}
	if c.AttachDelay == 0 {
		c.AttachDelay = time.Second
	}
	if c.ResetHold == 0 {
		c.ResetHold = 100 * time.Millisecond
	}
	if c.ResetSettle == 0 {
		c.ResetSettle = 3 * time.Second
	}
	if c.DrainAttempts == 0 {
		c.DrainAttempts = 5
	}
	if c.DrainDelay == 0 {
		c.DrainDelay = 10 * time.Millisecond
	}
	if c.MaxSockets == 0 {
		c.MaxSockets = 5
	}
	if c.MaxDataLength == 0 {
		c.MaxDataLength = 1024
	}
	if c.FramerSize == 0 {
		c.FramerSize = at.DefaultFramerSize
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = 4096
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 100
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithResetLine(l ResetLine) *ConfigBuilder {
	b.config.ResetLine = l
	return b
}

func (b *ConfigBuilder) WithResetViaDTR(enabled bool) *ConfigBuilder {
	b.config.ResetViaDTR = enabled
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

// WithAPN sets the access point and its optional credentials.
func (b *ConfigBuilder) WithAPN(apn, user, password string) *ConfigBuilder {
	b.config.APN = apn
	b.config.APNUser = user
	b.config.APNPassword = password
	return b
}

func (b *ConfigBuilder) WithCommandTimeout(d time.Duration) *ConfigBuilder {
	b.config.CommandTimeout = d
	return b
}

func (b *ConfigBuilder) WithPromptTimeout(d time.Duration) *ConfigBuilder {
	b.config.PromptTimeout = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

// WithDNS sets the overall resolve timeout and the retry parameters passed
// to the modem.
func (b *ConfigBuilder) WithDNS(timeout time.Duration, retries int, retryTimeout time.Duration) *ConfigBuilder {
	b.config.DNSTimeout = timeout
	b.config.DNSRetries = retries
	b.config.DNSRetryTimeout = retryTimeout
	return b
}

func (b *ConfigBuilder) WithAutobaud(attempts int, timeout time.Duration) *ConfigBuilder {
	b.config.AutobaudAttempts = attempts
	b.config.AutobaudTimeout = timeout
	return b
}

// WithBootWaits sets how long Attach waits for the RDY and SIM ready
// notifications.
func (b *ConfigBuilder) WithBootWaits(ready, sim time.Duration) *ConfigBuilder {
	b.config.ReadyTimeout = ready
	b.config.SIMTimeout = sim
	return b
}

func (b *ConfigBuilder) WithSignalPolling(attempts int, delay time.Duration) *ConfigBuilder {
	b.config.SignalAttempts = attempts
	b.config.SignalDelay = delay
	return b
}

func (b *ConfigBuilder) WithAttachPolling(attempts int, delay time.Duration) *ConfigBuilder {
	b.config.AttachAttempts = attempts
	b.config.AttachDelay = delay
	return b
}

func (b *ConfigBuilder) WithReset(hold, settle time.Duration) *ConfigBuilder {
	b.config.ResetHold = hold
	b.config.ResetSettle = settle
	return b
}

func (b *ConfigBuilder) WithDrain(attempts int, delay time.Duration) *ConfigBuilder {
	b.config.DrainAttempts = attempts
	b.config.DrainDelay = delay
	return b
}

func (b *ConfigBuilder) WithMaxSockets(n int) *ConfigBuilder {
	b.config.MaxSockets = n
	return b
}

func (b *ConfigBuilder) WithMaxDataLength(n int) *ConfigBuilder {
	b.config.MaxDataLength = n
	return b
}

func (b *ConfigBuilder) WithBuffers(framer, recv int) *ConfigBuilder {
	b.config.FramerSize = framer
	b.config.RecvBufferSize = recv
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
