package main

import (
	"fmt"
	"strings"
)

func showExamples() {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║      QKD-Go: Interactive Examples                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	examples := []struct {
		title       string
		description string
		code        string
	}{
		{
			title:       "Example 1: Two Peers Over a Relay",
			description: "A relay forwards envelopes by identity; peers derive keys with BB84",
			code: `package main

import (
    "context"
    "fmt"

    "github.com/sara-star-quant/qkd-go/pkg/relay"
    "github.com/sara-star-quant/qkd-go/pkg/session"
)

func main() {
    // RELAY (usually its own process: qkd-chat relay)
    server := relay.NewServer(relay.ServerConfig{})
    go server.ListenAndServe(":8765")

    // PEER
    client, _ := relay.Dial(context.Background(), relay.ClientConfig{
        URL:      "ws://localhost:8765",
        ClientID: "alice",
    })
    registry, _ := session.NewRegistry(session.RegistryConfig{LocalID: "alice"})

    // Pump inbound envelopes through the state machine.
    go func() {
        for {
            env, err := client.Receive()
            if err != nil {
                return
            }
            if res, _ := registry.Dispatch(env); res != nil {
                for _, out := range res.Outbound {
                    client.Send(out)
                }
                if res.Plaintext != nil {
                    fmt.Printf("%s: %s\n", env.From, res.Plaintext)
                }
            }
        }
    }()

    // Open a channel with bob, then send once it reaches ACTIVE.
    sess, _ := registry.Create("bob")
    res, _ := sess.Start()
    for _, out := range res.Outbound {
        client.Send(out)
    }

    // ... once sess.State() == session.StateActive:
    env, _ := registry.Encrypt("bob", []byte("hello bob"))
    client.Send(env)
}`,
		},
		{
			title:       "Example 2: Low-Level BB84 Kernels",
			description: "The exchange, sifting, and distillation steps without any session machinery",
			code: `package main

import (
    "fmt"

    "github.com/sara-star-quant/qkd-go/pkg/bb84"
    "github.com/sara-star-quant/qkd-go/pkg/crypto"
)

func main() {
    engine := bb84.NewEngine(crypto.NewBitSource())

    // ALICE: random bits in random bases, encoded as pulses
    qubits, _ := engine.Generate(256)
    symbols := bb84.EncodeSymbols(qubits) // "|0⟩", "|1⟩", "|+⟩", "|-⟩"

    // BOB: measure each pulse in a random basis
    received, _ := bb84.ParseSymbols(symbols)
    bases, _ := engine.GenerateBases(len(received))
    bits, _ := engine.MeasureAll(received, bases)

    // BOTH: keep only positions where the bases matched
    aSift, bSift, _ := bb84.Sift(bb84.Bits(qubits), bb84.Bases(qubits), bits, bases)
    fmt.Printf("Sifted %d of %d bits\n", len(aSift), len(qubits))
    fmt.Printf("Error rate: %.2f%%\n", bb84.QBER(aSift, bSift))

    // Distill the final 256-bit key
    key, _ := bb84.FinalKey(bb84.ErrorCorrect(aSift))
    fmt.Printf("Key: %d bytes\n", len(key))
}`,
		},
		{
			title:       "Example 3: Configuration Files",
			description: "TOML configuration for the relay and peer commands",
			code: `# qkd.toml
[identity]
client_id = "alice"

[relay]
url = "ws://relay.example.net:8765"
dial_timeout = "10s"

[session]
cipher_suite = "chacha20-poly1305"
max_restarts = 5
handshake_timeout = "30s"

[log]
level = "info"
format = "json"

[observability]
enabled = true
listen_addr = ":9090"

// Loading it:
//
//   cfg, err := config.Load("qkd.toml")
//   if err != nil {
//       log.Fatal(err)
//   }
//   suite, _ := cfg.Session.Suite()
//
// Missing fields keep their defaults, so a partial file is fine.
// The same file serves both commands:
//
//   qkd-chat relay --config qkd.toml
//   qkd-chat peer  --config qkd.toml`,
		},
		{
			title:       "Example 4: Observability",
			description: "Per-session metrics, structured logs, and Prometheus export",
			code: `package main

import (
    "os"

    "github.com/sara-star-quant/qkd-go/pkg/metrics"
    "github.com/sara-star-quant/qkd-go/pkg/session"
)

func main() {
    logger := metrics.NewLogger(
        metrics.WithOutput(os.Stderr),
        metrics.WithLevel(metrics.LevelInfo),
        metrics.WithFields(metrics.Fields{"app": "my-app"}),
    )
    collector := metrics.NewCollector(metrics.Labels{"service": "my-app"})

    // Every session created by the registry reports state changes,
    // handshake latency, QBER, restarts, and traffic counters.
    registry, _ := session.NewRegistry(session.RegistryConfig{
        LocalID:         "alice",
        ObserverFactory: metrics.NewObserverFactory(collector, metrics.NoOpTracer{}, logger),
    })
    _ = registry

    // Prometheus text format on /metrics
    go metrics.ServePrometheus(":9090", collector, "qkd_go")
}`,
		},
		{
			title:       "Example 5: Error Handling",
			description: "Sentinel errors distinguish protocol outcomes worth branching on",
			code: `package main

import (
    "fmt"
    "log"

    qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
    "github.com/sara-star-quant/qkd-go/pkg/protocol"
    "github.com/sara-star-quant/qkd-go/pkg/session"
)

func handle(registry *session.Registry, env *protocol.Envelope) {
    res, err := registry.Dispatch(env)
    switch {
    case qerrors.Is(err, qerrors.ErrReplayDetected):
        // A counter mismatch: duplicate or replayed ciphertext.
        fmt.Println("replay rejected, channel stays up")
    case qerrors.Is(err, qerrors.ErrAuthenticationFailed):
        // Tampered or corrupted ciphertext.
        fmt.Println("authentication failed")
    case qerrors.Is(err, qerrors.ErrSessionTerminated):
        fmt.Println("session is over, create a new one")
    case err != nil:
        log.Printf("dispatch: %v", err)
    }

    // Dropped envelopes are not errors: out-of-order and duplicate
    // handshake messages are fenced silently.
    if res != nil && res.Dropped {
        fmt.Println("envelope ignored by state fencing")
    }
}`,
		},
		{
			title:       "Example 6: Security Considerations",
			description: "What the library does and does not provide",
			code: `// 1. The quantum channel is SIMULATED. Pulses travel as JSON over
//    websockets, so physical eavesdropping detection does not apply to
//    the transport. The BB84 information flow, sampling, and the 11%
//    abort threshold are faithful; the physics is modeled.
//
// 2. The relay is untrusted by design: it sees envelope metadata and
//    ciphertext, never key material or plaintext. It cannot decrypt,
//    inject, or replay into an ACTIVE channel without detection.
//
// 3. There is NO peer authentication. An attacker who can register a
//    peer's identity first receives that peer's envelopes. Bind
//    identities with an external mechanism before trusting them.
//
// 4. Message counters are bound into every AEAD nonce. Replays and
//    reordering fail authentication and surface as ErrReplayDetected.
//    Counters never regress, so a lost message desynchronizes the
//    channel deliberately rather than silently.
//
// 5. Every restarted round discards all prior material and derives a
//    fresh key. Terminated sessions zero their keys.
//
// 6. Sessions cap plaintext at 16 KiB per message and terminate when
//    the counter space is exhausted rather than wrapping.`,
		},
	}

	for i, ex := range examples {
		fmt.Printf("┌%s┐\n", strings.Repeat("─", 58))
		fmt.Printf("│ %s%s │\n", ex.title, strings.Repeat(" ", 58-len(ex.title)-2))
		fmt.Printf("└%s┘\n", strings.Repeat("─", 58))
		fmt.Println()
		fmt.Println(ex.description)
		fmt.Println()
		fmt.Println(ex.code)
		fmt.Println()

		if i < len(examples)-1 {
			fmt.Println()
		}
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Next Steps                             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Try the demo:")
	fmt.Println("  qkd-chat demo --verbose")
	fmt.Println("  qkd-chat demo --eavesdrop")
	fmt.Println()
	fmt.Println("Chat between terminals:")
	fmt.Println("  1. qkd-chat relay")
	fmt.Println("  2. qkd-chat peer --id alice")
	fmt.Println("  3. qkd-chat peer --id bob --peer alice")
	fmt.Println()
	fmt.Println("Run benchmarks:")
	fmt.Println("  qkd-chat bench --handshakes 100 --throughput")
	fmt.Println()
	fmt.Println("Documentation:")
	fmt.Println("  https://github.com/sara-star-quant/qkd-go")
	fmt.Println("  https://pkg.go.dev/github.com/sara-star-quant/qkd-go")
	fmt.Println()
}
