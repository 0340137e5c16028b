package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sara-star-quant/qkd-go/internal/config"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/metrics"
	"github.com/sara-star-quant/qkd-go/pkg/relay"
	"github.com/sara-star-quant/qkd-go/pkg/session"
)

func runPeer(cfg *config.Config, peerID, tracing string) {
	_, observerFactory, logger, err := setupObservability(cfg.Log.Level, cfg.Log.Format, tracing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	suite, err := cfg.Session.Suite()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	localID := cfg.Identity.ClientID

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║      QKD-Go Peer                                          ║")
	fmt.Println("║      BB84 key exchange, counter-bound AEAD messaging      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Connecting to %s as %q...\n", cfg.Relay.URL, localID)

	client, err := relay.Dial(context.Background(), relay.ClientConfig{
		URL:              cfg.Relay.URL,
		ClientID:         localID,
		HandshakeTimeout: cfg.Relay.DialTimeout.Duration,
		WelcomeTimeout:   cfg.Relay.WelcomeTimeout.Duration,
		OnServerError: func(msg string) {
			fmt.Printf("\r! relay: %s\n> ", msg)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: relay connection failed: %v\n", err)
		os.Exit(1)
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		LocalID:         localID,
		Suite:           suite,
		MaxRestarts:     cfg.Session.MaxRestarts,
		ObserverFactory: observerFactory,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Registered with relay (cipher: %s)\n", suite)
	fmt.Println("Type a message to send it to the current peer, or a command:")
	fmt.Println("  /connect <id>   open a channel    /peers    list identities")
	fmt.Println("  /to <id>        switch peer       /status   session states")
	fmt.Println("  /quit           exit")
	fmt.Println()

	chat := newChatState()
	var quitting atomic.Bool

	shutdown := func() {
		quitting.Store(true)
		for _, p := range registry.Peers() {
			if s, ok := registry.Get(p); ok {
				if notice, err := s.Terminate("peer disconnected"); err == nil && notice != nil {
					_ = client.Send(notice)
				}
			}
		}
		registry.Close()
		_ = client.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nDisconnecting...")
		shutdown()
		os.Exit(0)
	}()

	// Inbound pump: every received envelope goes through the registry and
	// anything the state machine emits goes back out.
	go func() {
		for {
			env, err := client.Receive()
			if err != nil {
				if quitting.Load() {
					return
				}
				fmt.Fprintf(os.Stderr, "\rRelay connection lost: %v\n", err)
				os.Exit(1)
			}

			res, derr := registry.Dispatch(env)
			if res != nil {
				for _, out := range res.Outbound {
					if err := client.Send(out); err != nil {
						logger.Warn("send failed", metrics.Fields{"to": out.To, "error": err.Error()})
					}
				}
				if res.Plaintext != nil {
					fmt.Printf("\r← [%s] %s\n> ", env.From, res.Plaintext)
				}
				if notice := chat.observe(env.From, res.State); notice != "" {
					fmt.Printf("\r%s\n> ", notice)
				}
			}
			if derr != nil {
				logger.Warn("dispatch failed", metrics.Fields{"from": env.From, "error": derr.Error()})
			}
		}
	}()

	connect := func(target string) {
		if target == localID {
			fmt.Println("! cannot open a channel with yourself")
			return
		}
		sess, err := registry.Create(target)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return
		}
		if sess.State() == session.StateActive {
			chat.setCurrent(target)
			fmt.Printf("✓ Channel with %s already established\n", target)
			return
		}
		res, err := sess.Start()
		if err != nil {
			fmt.Printf("! handshake with %s: %v\n", target, err)
			return
		}
		for _, out := range res.Outbound {
			if err := client.Send(out); err != nil {
				fmt.Printf("! send failed: %v\n", err)
				return
			}
		}
		chat.setCurrent(target)
		fmt.Printf("Opening channel with %s...\n", target)
	}

	if peerID != "" {
		connect(peerID)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			fmt.Println("Disconnecting...")
			shutdown()
			return
		case line == "/peers":
			users := client.Users()
			if len(users) == 0 {
				fmt.Println("No identities registered")
			}
			for _, u := range users {
				marker := " "
				if u == localID {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, u)
			}
		case line == "/status":
			peers := registry.Peers()
			if len(peers) == 0 {
				fmt.Println("No sessions")
			}
			for _, p := range peers {
				if s, ok := registry.Get(p); ok {
					fmt.Printf("  %-16s %-10s %s\n", p, s.Role(), s.State())
				}
			}
		case strings.HasPrefix(line, "/connect "):
			connect(strings.TrimSpace(strings.TrimPrefix(line, "/connect")))
		case strings.HasPrefix(line, "/to "):
			target := strings.TrimSpace(strings.TrimPrefix(line, "/to"))
			if _, ok := registry.Get(target); !ok {
				fmt.Printf("! no session with %s, use /connect first\n", target)
				break
			}
			chat.setCurrent(target)
			fmt.Printf("Now talking to %s\n", target)
		case strings.HasPrefix(line, "/"):
			fmt.Printf("! unknown command: %s\n", line)
		default:
			sendMessage(client, registry, chat, line)
		}
		fmt.Print("> ")
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Input error: %v\n", err)
	}
	fmt.Println("\nDisconnecting...")
	shutdown()
}

func sendMessage(client *relay.Client, registry *session.Registry, chat *chatState, text string) {
	target := chat.current()
	if target == "" {
		fmt.Println("! no peer selected, use /connect <id> first")
		return
	}

	env, err := registry.Encrypt(target, []byte(text))
	switch {
	case qerrors.Is(err, qerrors.ErrSessionNotActive):
		fmt.Printf("! channel with %s not established yet\n", target)
		return
	case qerrors.Is(err, qerrors.ErrSessionNotFound):
		fmt.Printf("! no session with %s, use /connect first\n", target)
		return
	case err != nil:
		fmt.Printf("! encrypt failed: %v\n", err)
		return
	}

	if err := client.Send(env); err != nil {
		fmt.Printf("! send failed: %v\n", err)
	}
}

// chatState tracks the addressee of bare input lines and the last observed
// state per peer, shared between the input loop and the inbound pump.
type chatState struct {
	mu       sync.Mutex
	selected string
	states   map[string]session.State
}

func newChatState() *chatState {
	return &chatState{states: make(map[string]session.State)}
}

func (c *chatState) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *chatState) setCurrent(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = peer
}

// observe records a state transition and returns a user-facing notice for
// the ones worth announcing. The first peer to reach ACTIVE becomes the
// current addressee if none is selected.
func (c *chatState) observe(peer string, st session.State) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.states[peer]
	c.states[peer] = st

	switch {
	case st == session.StateActive && (!seen || prev != session.StateActive):
		if c.selected == "" {
			c.selected = peer
		}
		return fmt.Sprintf("✓ Secure channel with %s established", peer)
	case st == session.StateTerminated && seen && prev != session.StateTerminated:
		return fmt.Sprintf("✗ Session with %s terminated", peer)
	}
	return ""
}
