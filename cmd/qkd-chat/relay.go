package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sara-star-quant/qkd-go/internal/config"
	"github.com/sara-star-quant/qkd-go/pkg/metrics"
	"github.com/sara-star-quant/qkd-go/pkg/relay"
)

func runRelay(cfg *config.Config) {
	collector, _, logger, err := setupObservability(cfg.Log.Level, cfg.Log.Format, "none")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║      QKD-Go Relay Server                                  ║")
	fmt.Println("║      Envelope rendezvous for BB84 peers                   ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	server := relay.NewServer(relay.ServerConfig{
		MaxConnsPerIP: cfg.Relay.MaxConnsPerIP,
		RegisterRate:  cfg.Relay.RegisterRate,
		RegisterBurst: cfg.Relay.RegisterBurst,
		Observer:      metrics.NewRelayObserver(collector, logger),
	})

	if cfg.Observability.Enabled {
		obs := metrics.NewServer(metrics.ServerConfig{
			Collector:        collector,
			Version:          getVersion(),
			Namespace:        cfg.Observability.Namespace,
			EnablePrometheus: true,
			EnableHealth:     true,
		})
		obs.AddHealthCheck("random_source", metrics.RandomSourceCheck())

		go func() {
			if err := obs.ListenAndServe(cfg.Observability.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("observability server error", metrics.Fields{"error": err.Error()})
			}
		}()

		fmt.Printf("✓ Observability server on %s (metrics: /metrics, health: /health)\n", cfg.Observability.ListenAddr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down relay...")
		_ = server.Close()
	}()

	fmt.Printf("✓ Relay listening on %s\n", cfg.Relay.ListenAddr)
	fmt.Printf("  Limits: %d connections per IP, %.1f registrations/sec (burst %d)\n",
		cfg.Relay.MaxConnsPerIP, cfg.Relay.RegisterRate, cfg.Relay.RegisterBurst)
	fmt.Println("Waiting for peers... (Press Ctrl+C to stop)")
	fmt.Println()

	if err := server.ListenAndServe(cfg.Relay.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: relay server: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Relay stopped.")
}
