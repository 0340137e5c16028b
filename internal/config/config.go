// Package config loads and validates TOML configuration for the relay,
// peers, and the observability endpoints. Missing fields keep their
// defaults, so partial files are fine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// Duration wraps time.Duration so TOML values can be written as strings
// like "30s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the configuration file.
type Config struct {
	Identity      IdentityConfig      `toml:"identity"`
	Relay         RelayConfig         `toml:"relay"`
	Session       SessionConfig       `toml:"session"`
	Log           LogConfig           `toml:"log"`
	Observability ObservabilityConfig `toml:"observability"`
}

// IdentityConfig names this endpoint on the relay.
type IdentityConfig struct {
	// ClientID is the identity peers address messages to. Required for
	// peer commands; the relay server ignores it.
	ClientID string `toml:"client_id"`
}

// RelayConfig covers both sides of the rendezvous: the listen address and
// limiter settings apply to the server, the URL and timeouts to clients.
type RelayConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	URL            string   `toml:"url"`
	MaxConnsPerIP  int      `toml:"max_conns_per_ip"`
	RegisterRate   float64  `toml:"register_rate"`
	RegisterBurst  int      `toml:"register_burst"`
	DialTimeout    Duration `toml:"dial_timeout"`
	WelcomeTimeout Duration `toml:"welcome_timeout"`
}

// SessionConfig tunes key agreement.
type SessionConfig struct {
	CipherSuite      string   `toml:"cipher_suite"`
	MaxRestarts      int      `toml:"max_restarts"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ObservabilityConfig controls the metrics/health HTTP server.
type ObservabilityConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Namespace  string `toml:"namespace"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			ListenAddr:     constants.DefaultRelayAddr,
			URL:            "ws://localhost" + constants.DefaultRelayAddr,
			MaxConnsPerIP:  constants.DefaultMaxConnsPerIP,
			RegisterRate:   constants.DefaultRegisterRate,
			RegisterBurst:  constants.DefaultRegisterBurst,
			DialTimeout:    Duration{constants.RelayRegisterTimeout},
			WelcomeTimeout: Duration{constants.RelayWelcomeTimeout},
		},
		Session: SessionConfig{
			CipherSuite:      "aes-256-gcm",
			MaxRestarts:      constants.DefaultMaxRestarts,
			HandshakeTimeout: Duration{constants.DefaultHandshakeTimeout},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Enabled:    false,
			ListenAddr: ":9090",
			Namespace:  "qkd_go",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value-level constraints. It does not require an identity;
// commands that need one check for it themselves.
func (c *Config) Validate() error {
	if _, err := c.Session.Suite(); err != nil {
		return err
	}
	if c.Session.MaxRestarts < 0 {
		return fmt.Errorf("%w: session.max_restarts must not be negative", qerrors.ErrInvalidConfig)
	}
	if c.Session.HandshakeTimeout.Duration < 0 {
		return fmt.Errorf("%w: session.handshake_timeout must not be negative", qerrors.ErrInvalidConfig)
	}

	if c.Relay.MaxConnsPerIP < 0 {
		return fmt.Errorf("%w: relay.max_conns_per_ip must not be negative", qerrors.ErrInvalidConfig)
	}
	if c.Relay.RegisterRate < 0 {
		return fmt.Errorf("%w: relay.register_rate must not be negative", qerrors.ErrInvalidConfig)
	}
	if c.Relay.RegisterBurst < 0 {
		return fmt.Errorf("%w: relay.register_burst must not be negative", qerrors.ErrInvalidConfig)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "silent", "off":
	default:
		return fmt.Errorf("%w: unknown log.level %q", qerrors.ErrInvalidConfig, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", qerrors.ErrInvalidConfig, c.Log.Format)
	}

	if c.Observability.Enabled && c.Observability.ListenAddr == "" {
		return fmt.Errorf("%w: observability.listen_addr required when enabled", qerrors.ErrInvalidConfig)
	}

	return nil
}

// Suite resolves the configured cipher suite name. Names are matched
// case-insensitively.
func (s SessionConfig) Suite() (constants.CipherSuite, error) {
	switch strings.ToLower(s.CipherSuite) {
	case "", "aes-256-gcm", "aes256gcm", "aes":
		return constants.CipherSuiteAES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305", "chacha":
		return constants.CipherSuiteChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: unknown session.cipher_suite %q", qerrors.ErrInvalidConfig, s.CipherSuite)
	}
}
