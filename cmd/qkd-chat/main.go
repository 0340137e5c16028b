package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sara-star-quant/qkd-go/internal/config"
	"github.com/sara-star-quant/qkd-go/internal/constants"
	"github.com/sara-star-quant/qkd-go/pkg/metrics"
	"github.com/sara-star-quant/qkd-go/pkg/session"
	pkgversion "github.com/sara-star-quant/qkd-go/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "relay":
		relayCommand()
	case "peer":
		peerCommand()
	case "demo":
		demoCommand()
	case "bench":
		benchCommand()
	case "example":
		exampleCommand()
	case "version":
		fmt.Printf("qkd-chat version %s\n", getVersion())
		if buildTime != "unknown" {
			fmt.Printf("Built: %s\n", buildTime)
		}
		if gitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", gitCommit)
		}
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`qkd-chat - BB84 Quantum Key Distribution Chat & Relay

USAGE:
    qkd-chat <command> [options]

COMMANDS:
    relay     Run a relay server for peer rendezvous
    peer      Connect to a relay and chat over quantum-derived keys
    demo      Run a two-peer handshake walkthrough in one process
    bench     Run handshake and throughput benchmarks
    example   Show example usage with explanations
    version   Print version information
    help      Show this help message

Run 'qkd-chat <command> --help' for more information on a command.

EXAMPLES:
    # Terminal 1: Start a relay
    qkd-chat relay --addr :8765

    # Terminal 2: Register alice and wait for peers
    qkd-chat peer --id alice

    # Terminal 3: Register bob and open a channel to alice
    qkd-chat peer --id bob --peer alice

    # Watch a full handshake, then an intercept-resend attack
    qkd-chat demo --verbose
    qkd-chat demo --eavesdrop

    # Benchmark handshakes and channel throughput
    qkd-chat bench --handshakes 100 --throughput

PROJECT:
    QKD-Go - Simulated BB84 Quantum Key Distribution
    https://github.com/sara-star-quant/qkd-go

    Keys: BB84 exchange with an 11% error-rate abort threshold
    Channel: AES-256-GCM / ChaCha20-Poly1305 with counter-bound nonces`)
}

func relayCommand() {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to TOML config file")
	addr := fs.String("addr", constants.DefaultRelayAddr, "Listen address")
	maxConns := fs.Int("max-conns-per-ip", constants.DefaultMaxConnsPerIP, "Concurrent connections allowed per source IP")
	registerRate := fs.Float64("register-rate", constants.DefaultRegisterRate, "Sustained registrations per second per IP")
	registerBurst := fs.Int("register-burst", constants.DefaultRegisterBurst, "Registration burst allowance per IP")
	obsAddr := fs.String("obs-addr", "", "Observability server address. Empty disables")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error, silent")
	logFormat := fs.String("log-format", "text", "Log format: text or json")

	fs.Usage = func() {
		fmt.Println(`USAGE: qkd-chat relay [options]

Run a relay server. The relay forwards envelopes between registered peers
by identity and never sees key material or plaintext.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Default address (:8765)
    qkd-chat relay

    # Custom address with Prometheus metrics and health endpoints
    qkd-chat relay --addr :9000 --obs-addr :9090

    # From a config file, with the address overridden
    qkd-chat relay --config relay.toml --addr :8765`)
	}

	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Explicit flags override the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Relay.ListenAddr = *addr
		case "max-conns-per-ip":
			cfg.Relay.MaxConnsPerIP = *maxConns
		case "register-rate":
			cfg.Relay.RegisterRate = *registerRate
		case "register-burst":
			cfg.Relay.RegisterBurst = *registerBurst
		case "obs-addr":
			cfg.Observability.Enabled = *obsAddr != ""
			cfg.Observability.ListenAddr = *obsAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runRelay(cfg)
}

func peerCommand() {
	fs := flag.NewFlagSet("peer", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to TOML config file")
	id := fs.String("id", "", "Local identity to register (required)")
	url := fs.String("url", "ws://localhost:8765", "Relay websocket URL")
	peerID := fs.String("peer", "", "Peer to open a channel with on startup")
	cipher := fs.String("cipher", "aes-256-gcm", "Cipher suite: aes-256-gcm or chacha20-poly1305")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error, silent")
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	tracing := fs.String("tracing", "none", "Tracing mode: none, simple, otel (requires -tags otel)")

	fs.Usage = func() {
		fmt.Println(`USAGE: qkd-chat peer [options]

Register an identity with a relay, derive per-peer keys over BB84
exchanges, and chat over the resulting encrypted channels.

Lines typed at the prompt are encrypted and sent to the current peer.
Commands:
    /connect <id>   Open a channel with a peer
    /to <id>        Switch the current peer
    /peers          List identities registered with the relay
    /status         Show session states
    /quit           Exit

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Register and wait for inbound channels
    qkd-chat peer --id alice

    # Register and immediately open a channel to alice
    qkd-chat peer --id bob --peer alice

    # Against a remote relay, with the software cipher
    qkd-chat peer --id bob --url ws://relay.example.net:8765 --cipher chacha20-poly1305`)
	}

	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.Identity.ClientID = *id
		case "url":
			cfg.Relay.URL = *url
		case "cipher":
			cfg.Session.CipherSuite = *cipher
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if cfg.Identity.ClientID == "" {
		fmt.Fprintln(os.Stderr, "Error: peer requires --id (or identity.client_id in the config file)")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runPeer(cfg, *peerID, *tracing)
}

func demoCommand() {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	message := fs.String("message", "Hello over a quantum-keyed channel!", "Message to exchange once the channel is up")
	cipher := fs.String("cipher", "aes-256-gcm", "Cipher suite: aes-256-gcm or chacha20-poly1305")
	verbose := fs.Bool("verbose", false, "Narrate every state transition and envelope")
	eavesdrop := fs.Bool("eavesdrop", false, "Run an intercept-resend attacker on the quantum channel")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error, silent")
	logFormat := fs.String("log-format", "text", "Log format: text or json")

	fs.Usage = func() {
		fmt.Println(`USAGE: qkd-chat demo [options]

Run alice and bob in one process: a full BB84 exchange, key confirmation,
an encrypted message each way, and a replay rejection. With --eavesdrop,
an attacker measures every pulse in transit and the exchange aborts.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Quiet run: handshake, two messages, replay check
    qkd-chat demo

    # Every state transition and envelope
    qkd-chat demo --verbose

    # Watch the error rate jump to ~25% and the session terminate
    qkd-chat demo --eavesdrop --verbose`)
	}

	_ = fs.Parse(os.Args[2:])

	runDemo(*message, *cipher, *verbose, *eavesdrop, *logLevel, *logFormat)
}

func benchCommand() {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	handshakes := fs.Int("handshakes", 0, "Number of handshakes to benchmark (0 = skip)")
	throughput := fs.Bool("throughput", false, "Run channel throughput benchmark")
	size := fs.String("size", "100MB", "Data size for throughput test (e.g., 100MB, 1GB)")
	duration := fs.String("duration", "10s", "Duration cap for throughput test (e.g., 10s, 1m)")
	cipher := fs.String("cipher", "aes-256-gcm", "Cipher suite: aes-256-gcm or chacha20-poly1305")

	fs.Usage = func() {
		fmt.Println(`USAGE: qkd-chat bench [options]

Benchmark full BB84 handshakes and encrypted channel throughput. Both
run peer pairs in process, so results exclude network latency.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Benchmark 100 handshakes
    qkd-chat bench --handshakes 100

    # Channel throughput with ChaCha20-Poly1305
    qkd-chat bench --throughput --cipher chacha20-poly1305

    # Run everything
    qkd-chat bench --handshakes 100 --throughput --size 500MB`)
	}

	_ = fs.Parse(os.Args[2:])

	runBench(*handshakes, *throughput, *size, *duration, *cipher)
}

func exampleCommand() {
	if len(os.Args) > 2 && (os.Args[2] == "--help" || os.Args[2] == "-h") {
		fmt.Println(`USAGE: qkd-chat example

Display examples with code snippets showing how to use the library.

This command shows:
  - Relay plus peer setup
  - Low-level BB84 kernel usage
  - Configuration files
  - Observability wiring
  - Error handling
  - Security considerations`)
		return
	}

	showExamples()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupObservability(logLevel, logFormat, tracing string) (*metrics.Collector, session.ObserverFactory, *metrics.Logger, error) {
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	format, err := parseLogFormat(logFormat)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithFields(metrics.Fields{"app": "qkd-chat"}),
	)
	metrics.SetLogger(logger)

	var tracer metrics.Tracer
	switch strings.ToLower(tracing) {
	case "none":
		tracer = metrics.NoOpTracer{}
	case "simple":
		tracer = metrics.NewSimpleTracer()
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, nil, nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		tracer = metrics.NewOTelTracer("qkd-chat")
	default:
		return nil, nil, nil, fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", tracing)
	}
	metrics.SetTracer(tracer)

	collector := metrics.NewCollector(metrics.Labels{
		"service": "qkd-chat",
	})
	metrics.SetGlobal(collector)

	observerFactory := metrics.NewObserverFactory(collector, tracer, logger)

	return collector, observerFactory, logger, nil
}

func parseLogLevel(level string) (metrics.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return metrics.LevelDebug, nil
	case "info":
		return metrics.LevelInfo, nil
	case "warn", "warning":
		return metrics.LevelWarn, nil
	case "error":
		return metrics.LevelError, nil
	case "silent", "off", "none":
		return metrics.LevelSilent, nil
	default:
		return metrics.LevelInfo, fmt.Errorf("invalid log level: %s (use debug, info, warn, error, silent)", level)
	}
}

func parseLogFormat(format string) (metrics.Format, error) {
	switch strings.ToLower(format) {
	case "text":
		return metrics.FormatText, nil
	case "json":
		return metrics.FormatJSON, nil
	default:
		return metrics.FormatText, fmt.Errorf("invalid log format: %s (use text or json)", format)
	}
}
