// Package qkdgo provides encrypted peer-to-peer messaging keyed by a
// simulated BB84 quantum key distribution handshake.
//
// Two peers exchange simulated qubit states and measurement bases over an
// untrusted relay, sift the results, estimate the channel error rate, and
// distill a shared 256-bit key. The key then drives an authenticated
// encryption channel with strict message-counter discipline, so replayed
// or reordered ciphertexts are rejected.
//
// # Quick Start
//
// Run a relay, then connect two peers:
//
//	import (
//		"github.com/sara-star-quant/qkd-go/pkg/relay"
//		"github.com/sara-star-quant/qkd-go/pkg/session"
//	)
//
//	// Relay
//	server := relay.NewServer(relay.ServerConfig{})
//	go server.ListenAndServe(":8765")
//
//	// Peer
//	client, _ := relay.Dial(ctx, relay.ClientConfig{
//		URL:      "ws://localhost:8765",
//		ClientID: "alice",
//	})
//	registry, _ := session.NewRegistry(session.RegistryConfig{LocalID: "alice"})
//
//	// Pump inbound envelopes through the state machine.
//	go func() {
//		for {
//			env, err := client.Receive()
//			if err != nil {
//				return
//			}
//			if res, _ := registry.Dispatch(env); res != nil {
//				for _, out := range res.Outbound {
//					client.Send(out)
//				}
//			}
//		}
//	}()
//
//	// Start a handshake with bob, then chat.
//	sess, _ := registry.Create("bob")
//	res, _ := sess.Start()
//	for _, out := range res.Outbound {
//		client.Send(out)
//	}
//
// # Package Structure
//
// The library is organized into several packages:
//
//   - pkg/bb84: Qubit simulation, sifting, error estimation, key distillation
//   - pkg/crypto: Random source, KDF, AEAD construction, RNG self-tests
//   - pkg/session: Handshake state machine, keyed channel, session registry
//   - pkg/protocol: Envelope definitions, payload validation, JSON codec
//   - pkg/relay: Websocket rendezvous server and client
//   - pkg/metrics: Collector, Prometheus export, tracing, logging, health
//   - internal/constants: Protocol parameters and size limits
//   - internal/errors: Sentinel errors and wrapper types
//   - internal/config: TOML configuration
//
// # Security Properties
//
// The handshake and channel provide:
//
//   - Authenticated encryption: AES-256-GCM or ChaCha20-Poly1305
//   - Replay protection: lockstep message counters bound into the AEAD
//   - Tamper evidence: sampled error rate above 11% aborts the round
//   - Key confirmation: both sides prove possession before the channel opens
//   - Fresh keys: every restarted round discards all prior material
//
// The qubit exchange is a simulation running over a classical network; it
// models BB84's information flow and does not provide physical-layer
// eavesdropping detection. Treat the derived key accordingly.
//
// # Testing
//
//	go test ./...                                # All tests
//	go test -fuzz=FuzzDecodeEnvelope ./test/fuzz # Fuzz the codec
//	go test -bench=. ./test/benchmark            # Benchmarks
//
// # References
//
//   - Bennett, Brassard: "Quantum cryptography: Public key distribution
//     and coin tossing" (BB84)
//   - NIST FIPS 202: SHA-3 Standard (SHAKE-256 derivation)
//   - RFC 8439: ChaCha20 and Poly1305 for IETF Protocols
package qkdgo
