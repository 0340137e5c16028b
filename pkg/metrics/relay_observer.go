package metrics

import "github.com/sara-star-quant/qkd-go/pkg/relay"

// RelayObserver implements relay.Observer, recording relay server metrics
// and logging notable events.
type RelayObserver struct {
	collector *Collector
	logger    *Logger
}

var _ relay.Observer = (*RelayObserver)(nil)

// NewRelayObserver creates a relay observer. Nil arguments fall back to
// the package globals.
func NewRelayObserver(collector *Collector, logger *Logger) *RelayObserver {
	if collector == nil {
		collector = Global()
	}
	if logger == nil {
		logger = GetLogger()
	}

	return &RelayObserver{
		collector: collector,
		logger:    logger.Named("relay"),
	}
}

// OnClientRegistered records a join.
func (o *RelayObserver) OnClientRegistered(clientID string, total int) {
	o.collector.RelayClientConnected()
	o.logger.Info("client registered", Fields{"client": clientID, "online": total})
}

// OnClientDisconnected records a leave.
func (o *RelayObserver) OnClientDisconnected(clientID string, total int) {
	o.collector.RelayClientDisconnected()
	o.logger.Info("client disconnected", Fields{"client": clientID, "online": total})
}

// OnFrameRelayed records a forwarded frame.
func (o *RelayObserver) OnFrameRelayed(from, to string, payloadBytes int) {
	o.collector.RecordFrameRelayed(uint64(payloadBytes))
	o.logger.Debug("frame relayed", Fields{"from": from, "to": to, "bytes": payloadBytes})
}

// OnRelayError records a frame that could not be delivered.
func (o *RelayObserver) OnRelayError(clientID, message string) {
	o.collector.RecordRelayError()
	o.logger.Warn("delivery failed", Fields{"client": clientID, "error": message})
}

// OnConnectionRateLimit records a connection refused by the per-IP cap.
func (o *RelayObserver) OnConnectionRateLimit(ip string) {
	o.collector.RecordConnLimitHit()
	o.logger.Warn("connection limit reached", Fields{"remote_ip": ip})
}

// OnRegisterRateLimit records a registration refused by the token bucket.
func (o *RelayObserver) OnRegisterRateLimit(ip string) {
	o.collector.RecordRegisterLimitHit()
	o.logger.Warn("registration rate limited", Fields{"remote_ip": ip})
}
