package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters from sessions, the handshake engine, and
// the relay transport.
type Collector struct {
	// Session metrics
	sessionsActive   atomic.Uint64
	sessionsTotal    atomic.Uint64
	sessionsFailed   atomic.Uint64
	handshakesDone   atomic.Uint64
	handshakeLatency *Histogram

	// Key agreement metrics
	restarts         atomic.Uint64
	qberEstimates    *Histogram
	envelopesDropped atomic.Uint64

	// Traffic metrics
	messagesSent  atomic.Uint64
	messagesRecv  atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// Security metrics
	replaysBlocked atomic.Uint64
	authFailures   atomic.Uint64

	// Error metrics
	encryptErrors  atomic.Uint64
	decryptErrors  atomic.Uint64
	protocolErrors atomic.Uint64

	// Relay metrics
	relayClients      atomic.Uint64
	framesRelayed     atomic.Uint64
	relayBytes        atomic.Uint64
	relayErrors       atomic.Uint64
	connLimitHits     atomic.Uint64
	registerLimitHits atomic.Uint64

	// Performance histograms
	encryptLatency *Histogram
	decryptLatency *Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		qberEstimates:    NewHistogram(QBERBuckets),
		encryptLatency:   NewHistogram(LatencyBuckets),
		decryptLatency:   NewHistogram(LatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
	}
}

// Default bucket configurations for histograms.
var (
	// HandshakeLatencyBuckets for full key agreement duration (milliseconds).
	HandshakeLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

	// LatencyBuckets for encrypt/decrypt operations (microseconds).
	LatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

	// QBERBuckets for observed error rate estimates (percent). The 11
	// boundary matches the abort threshold.
	QBERBuckets = []float64{0.5, 1, 2, 5, 8, 11, 15, 25, 50}
)

// --- Session Metrics ---

// SessionStarted increments active and total session counters.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionEnded decrements active session counter.
func (c *Collector) SessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// SessionFailed records a session that ended without ever delivering a key.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
}

// HandshakeCompleted records one successful key agreement and its duration.
func (c *Collector) HandshakeCompleted(d time.Duration) {
	c.handshakesDone.Add(1)
	c.handshakeLatency.Observe(float64(d.Milliseconds()))
}

// --- Key Agreement Metrics ---

// RecordRestart increments the handshake restart counter.
func (c *Collector) RecordRestart() {
	c.restarts.Add(1)
}

// RecordQBER records an observed error rate estimate in percent.
func (c *Collector) RecordQBER(percent float64) {
	c.qberEstimates.Observe(percent)
}

// RecordEnvelopeDropped increments the dropped-envelope counter.
func (c *Collector) RecordEnvelopeDropped() {
	c.envelopesDropped.Add(1)
}

// --- Traffic Metrics ---

// RecordMessageSent counts one encrypted message and its ciphertext size.
func (c *Collector) RecordMessageSent(bytes uint64) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(bytes)
}

// RecordMessageReceived counts one decrypted message and its ciphertext size.
func (c *Collector) RecordMessageReceived(bytes uint64) {
	c.messagesRecv.Add(1)
	c.bytesReceived.Add(bytes)
}

// --- Security Metrics ---

// RecordReplayBlocked increments the replay rejection counter.
func (c *Collector) RecordReplayBlocked() {
	c.replaysBlocked.Add(1)
}

// RecordAuthFailure increments the authentication failure counter.
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Add(1)
}

// --- Error Metrics ---

// RecordEncryptError increments encryption error counter.
func (c *Collector) RecordEncryptError() {
	c.encryptErrors.Add(1)
}

// RecordDecryptError increments decryption error counter.
func (c *Collector) RecordDecryptError() {
	c.decryptErrors.Add(1)
}

// RecordProtocolError increments protocol error counter.
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Add(1)
}

// --- Relay Metrics ---

// RelayClientConnected increments the connected relay client gauge.
func (c *Collector) RelayClientConnected() {
	c.relayClients.Add(1)
}

// RelayClientDisconnected decrements the connected relay client gauge.
func (c *Collector) RelayClientDisconnected() {
	for {
		current := c.relayClients.Load()
		if current == 0 {
			return
		}
		if c.relayClients.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// RecordFrameRelayed counts one forwarded frame and its payload size.
func (c *Collector) RecordFrameRelayed(payloadBytes uint64) {
	c.framesRelayed.Add(1)
	c.relayBytes.Add(payloadBytes)
}

// RecordRelayError increments the failed-delivery counter.
func (c *Collector) RecordRelayError() {
	c.relayErrors.Add(1)
}

// RecordConnLimitHit counts a connection refused by the per-IP cap.
func (c *Collector) RecordConnLimitHit() {
	c.connLimitHits.Add(1)
}

// RecordRegisterLimitHit counts a registration refused by the token bucket.
func (c *Collector) RecordRegisterLimitHit() {
	c.registerLimitHits.Add(1)
}

// --- Performance Metrics ---

// RecordEncryptLatency records encryption operation latency.
func (c *Collector) RecordEncryptLatency(d time.Duration) {
	c.encryptLatency.Observe(float64(d.Microseconds()))
}

// RecordDecryptLatency records decryption operation latency.
func (c *Collector) RecordDecryptLatency(d time.Duration) {
	c.decryptLatency.Observe(float64(d.Microseconds()))
}

// --- Snapshot ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	// Timestamp of the snapshot
	Timestamp time.Time

	// Uptime since collector creation
	Uptime time.Duration

	// Session metrics
	SessionsActive      uint64
	SessionsTotal       uint64
	SessionsFailed      uint64
	HandshakesCompleted uint64

	// Key agreement metrics
	Restarts         uint64
	EnvelopesDropped uint64

	// Traffic metrics
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64

	// Security metrics
	ReplaysBlocked uint64
	AuthFailures   uint64

	// Error metrics
	EncryptErrors  uint64
	DecryptErrors  uint64
	ProtocolErrors uint64

	// Relay metrics
	RelayClients      uint64
	FramesRelayed     uint64
	RelayBytes        uint64
	RelayErrors       uint64
	ConnLimitHits     uint64
	RegisterLimitHits uint64

	// Histogram summaries
	HandshakeLatency HistogramSummary
	QBER             HistogramSummary
	EncryptLatency   HistogramSummary
	DecryptLatency   HistogramSummary

	// Labels
	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.createdAt),
		SessionsActive:      c.sessionsActive.Load(),
		SessionsTotal:       c.sessionsTotal.Load(),
		SessionsFailed:      c.sessionsFailed.Load(),
		HandshakesCompleted: c.handshakesDone.Load(),
		Restarts:            c.restarts.Load(),
		EnvelopesDropped:    c.envelopesDropped.Load(),
		MessagesSent:        c.messagesSent.Load(),
		MessagesReceived:    c.messagesRecv.Load(),
		BytesSent:           c.bytesSent.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		ReplaysBlocked:      c.replaysBlocked.Load(),
		AuthFailures:        c.authFailures.Load(),
		EncryptErrors:       c.encryptErrors.Load(),
		DecryptErrors:       c.decryptErrors.Load(),
		ProtocolErrors:      c.protocolErrors.Load(),
		RelayClients:        c.relayClients.Load(),
		FramesRelayed:       c.framesRelayed.Load(),
		RelayBytes:          c.relayBytes.Load(),
		RelayErrors:         c.relayErrors.Load(),
		ConnLimitHits:       c.connLimitHits.Load(),
		RegisterLimitHits:   c.registerLimitHits.Load(),
		HandshakeLatency:    c.handshakeLatency.Summary(),
		QBER:                c.qberEstimates.Summary(),
		EncryptLatency:      c.encryptLatency.Summary(),
		DecryptLatency:      c.decryptLatency.Summary(),
		Labels:              c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.sessionsActive.Store(0)
	c.sessionsTotal.Store(0)
	c.sessionsFailed.Store(0)
	c.handshakesDone.Store(0)
	c.restarts.Store(0)
	c.envelopesDropped.Store(0)
	c.messagesSent.Store(0)
	c.messagesRecv.Store(0)
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.replaysBlocked.Store(0)
	c.authFailures.Store(0)
	c.encryptErrors.Store(0)
	c.decryptErrors.Store(0)
	c.protocolErrors.Store(0)
	c.relayClients.Store(0)
	c.framesRelayed.Store(0)
	c.relayBytes.Store(0)
	c.relayErrors.Store(0)
	c.connLimitHits.Store(0)
	c.registerLimitHits.Store(0)
	c.handshakeLatency.Reset()
	c.qberEstimates.Reset()
	c.encryptLatency.Reset()
	c.decryptLatency.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollector = NewCollector(Labels{"instance": "default"})
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollector = c
}
