package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Relay.ListenAddr != constants.DefaultRelayAddr {
		t.Errorf("expected relay addr %q, got %q", constants.DefaultRelayAddr, cfg.Relay.ListenAddr)
	}
	if cfg.Session.MaxRestarts != constants.DefaultMaxRestarts {
		t.Errorf("expected %d max restarts, got %d", constants.DefaultMaxRestarts, cfg.Session.MaxRestarts)
	}

	suite, err := cfg.Session.Suite()
	if err != nil {
		t.Fatalf("default suite should resolve: %v", err)
	}
	if suite != constants.CipherSuiteAES256GCM {
		t.Errorf("expected AES-256-GCM default, got %v", suite)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[identity]
client_id = "alice"

[session]
cipher_suite = "chacha20-poly1305"
max_restarts = 3

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Identity.ClientID != "alice" {
		t.Errorf("expected client id alice, got %q", cfg.Identity.ClientID)
	}
	suite, err := cfg.Session.Suite()
	if err != nil {
		t.Fatal(err)
	}
	if suite != constants.CipherSuiteChaCha20Poly1305 {
		t.Errorf("expected chacha suite, got %v", suite)
	}
	if cfg.Session.MaxRestarts != 3 {
		t.Errorf("expected 3 max restarts, got %d", cfg.Session.MaxRestarts)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}

	// Untouched sections keep their defaults.
	if cfg.Relay.MaxConnsPerIP != constants.DefaultMaxConnsPerIP {
		t.Errorf("expected default conn cap, got %d", cfg.Relay.MaxConnsPerIP)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected default text format, got %q", cfg.Log.Format)
	}
}

func TestLoadDurations(t *testing.T) {
	path := writeConfig(t, `
[relay]
dial_timeout = "2s"

[session]
handshake_timeout = "45s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Relay.DialTimeout.Duration != 2*time.Second {
		t.Errorf("expected 2s dial timeout, got %v", cfg.Relay.DialTimeout.Duration)
	}
	if cfg.Session.HandshakeTimeout.Duration != 45*time.Second {
		t.Errorf("expected 45s handshake timeout, got %v", cfg.Session.HandshakeTimeout.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, `[session`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestLoadInvalidSuite(t *testing.T) {
	path := writeConfig(t, `
[session]
cipher_suite = "rot13"
`)

	_, err := Load(path)
	if !qerrors.Is(err, qerrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative restarts", func(c *Config) { c.Session.MaxRestarts = -1 }},
		{"negative handshake timeout", func(c *Config) { c.Session.HandshakeTimeout.Duration = -time.Second }},
		{"negative conn cap", func(c *Config) { c.Relay.MaxConnsPerIP = -1 }},
		{"negative register rate", func(c *Config) { c.Relay.RegisterRate = -0.5 }},
		{"negative register burst", func(c *Config) { c.Relay.RegisterBurst = -1 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown format", func(c *Config) { c.Log.Format = "yaml" }},
		{"enabled observability without addr", func(c *Config) {
			c.Observability.Enabled = true
			c.Observability.ListenAddr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !qerrors.Is(err, qerrors.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSuiteNames(t *testing.T) {
	tests := []struct {
		name     string
		expected constants.CipherSuite
	}{
		{"", constants.CipherSuiteAES256GCM},
		{"aes-256-gcm", constants.CipherSuiteAES256GCM},
		{"AES-256-GCM", constants.CipherSuiteAES256GCM},
		{"aes", constants.CipherSuiteAES256GCM},
		{"chacha20-poly1305", constants.CipherSuiteChaCha20Poly1305},
		{"ChaCha20Poly1305", constants.CipherSuiteChaCha20Poly1305},
		{"chacha", constants.CipherSuiteChaCha20Poly1305},
	}

	for _, tt := range tests {
		got, err := SessionConfig{CipherSuite: tt.name}.Suite()
		if err != nil {
			t.Errorf("Suite(%q) returned error: %v", tt.name, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("Suite(%q) = %v, expected %v", tt.name, got, tt.expected)
		}
	}

	if _, err := (SessionConfig{CipherSuite: "des"}).Suite(); err == nil {
		t.Error("expected error for unsupported suite")
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("expected 90s, got %v", d.Duration)
	}

	text, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "1m30s" {
		t.Errorf("expected 1m30s, got %s", text)
	}

	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
