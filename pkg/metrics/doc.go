// Package metrics provides observability primitives for the qkd-go library.
//
// # Overview
//
// The metrics package offers a complete observability solution including:
//   - Metrics collection (counters, gauges, histograms)
//   - Prometheus-compatible metrics export
//   - Distributed tracing support (OpenTelemetry-compatible interface)
//   - Structured logging with levels
//   - Health check endpoints
//   - Observer implementations for session and relay instrumentation
//
// # Quick Start
//
// Basic usage with global collector:
//
//	import "github.com/sara-star-quant/qkd-go/pkg/metrics"
//
//	// Record metrics
//	metrics.Global().SessionStarted()
//	metrics.Global().HandshakeCompleted(150 * time.Millisecond)
//	metrics.Global().RecordMessageSent(1024)
//
//	// Start Prometheus server
//	go metrics.ServePrometheus(":9090", metrics.Global(), "qkd_go")
//
// # Metrics Collection
//
// The Collector type aggregates metrics from handshake sessions and the relay:
//
//	collector := metrics.NewCollector(metrics.Labels{
//		"instance": "node-1",
//		"region":   "us-west-2",
//	})
//
//	// Session metrics
//	collector.SessionStarted()
//	collector.HandshakeCompleted(d)
//	collector.RecordRestart()
//	collector.RecordQBER(pct)
//
//	// Traffic metrics
//	collector.RecordMessageSent(n)
//	collector.RecordMessageReceived(n)
//
//	// Security metrics
//	collector.RecordReplayBlocked()
//	collector.RecordAuthFailure()
//
//	// Get snapshot
//	snap := collector.Snapshot()
//
// # Observers
//
// SessionObserver and RelayObserver translate lifecycle callbacks into
// metrics, spans, and log lines. Attach them where sessions and relays
// are constructed:
//
//	registry := session.NewRegistry(session.RegistryConfig{
//		LocalID:         "alice",
//		ObserverFactory: metrics.NewObserverFactory(collector, tracer, logger),
//	})
//
//	server := relay.NewServer(relay.ServerConfig{
//		Observer: metrics.NewRelayObserver(collector, logger),
//	})
//
// # Prometheus Export
//
// Export metrics in Prometheus format:
//
//	exporter := metrics.NewPrometheusExporter(collector, "qkd_go")
//	http.Handle("/metrics", exporter.Handler())
//
// # Tracing
//
// The package provides a Tracer interface compatible with OpenTelemetry:
//
//	// Use the simple tracer for testing
//	tracer := metrics.NewSimpleTracer()
//	metrics.SetTracer(tracer)
//
//	// OpenTelemetry adapter (uses global provider)
//	otelTracer := metrics.NewOTelTracer("qkd-go")
//	metrics.SetTracer(otelTracer)
//	// Build with -tags otel to enable the adapter.
//
//	// Start spans
//	ctx, end := metrics.StartSpan(ctx, metrics.SpanHandshakeInitiator)
//	defer end(nil) // or end(err) on error
//
// # Structured Logging
//
// The Logger provides structured logging with levels:
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//		metrics.WithFields(metrics.Fields{"service": "qkd-go"}),
//	)
//
//	logger.Info("session established", metrics.Fields{
//		"session_id": sessionID,
//		"cipher":     "chacha20poly1305",
//	})
//
//	// Child loggers
//	sessionLog := logger.Named("session").With(metrics.Fields{"id": sessionID})
//	sessionLog.Debug("encrypting payload")
//
// # Health Checks
//
// Provide health check endpoints for Kubernetes and load balancers:
//
//	health := metrics.NewHealthCheck(collector, "1.0.0")
//	health.AddCheck("rng", metrics.RandomSourceCheck())
//	health.AddCheck("relay", metrics.ConnectivityCheck("localhost:8765", time.Second))
//
//	http.Handle("/health", health.Handler())
//	http.Handle("/healthz", health.LivenessHandler())
//	http.Handle("/readyz", health.ReadinessHandler())
//
// # Observability Server
//
// Start a complete observability server:
//
//	server := metrics.NewServer(metrics.ServerConfig{
//		Collector:        collector,
//		Version:          "1.0.0",
//		Namespace:        "qkd_go",
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//
//	go server.ListenAndServe(":9090")
//
// This provides:
//   - /metrics - Prometheus metrics
//   - /health  - Detailed health status
//   - /healthz - Kubernetes liveness probe
//   - /readyz  - Kubernetes readiness probe
package metrics
