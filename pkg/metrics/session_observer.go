package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/sara-star-quant/qkd-go/pkg/protocol"
	"github.com/sara-star-quant/qkd-go/pkg/session"
)

// SessionObserver implements session.Observer, recording metrics, traces,
// and logs for one session. Attach via session.Config.Observer or a
// registry ObserverFactory.
type SessionObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	peerID    string

	// Handshake span, open from first start until completion or end.
	// Observer callbacks are serialized by the session, so no lock.
	endSpan   SpanEnder
	completed bool
}

// SessionObserverConfig configures a session observer. Nil fields fall
// back to the package globals.
type SessionObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	PeerID    string
}

// NewSessionObserver creates a session observer.
func NewSessionObserver(cfg SessionObserverConfig) *SessionObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	logger := cfg.Logger.Named("session")
	if cfg.PeerID != "" {
		logger = logger.With(Fields{"peer": cfg.PeerID})
	}

	return &SessionObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    logger,
		peerID:    cfg.PeerID,
	}
}

// NewObserverFactory returns a session.ObserverFactory producing one
// observer per registry session, labeled with the session's peer.
func NewObserverFactory(collector *Collector, tracer Tracer, logger *Logger) session.ObserverFactory {
	return func(s *session.Session) session.Observer {
		return NewSessionObserver(SessionObserverConfig{
			Collector: collector,
			Tracer:    tracer,
			Logger:    logger,
			PeerID:    s.PeerID(),
		})
	}
}

var _ session.Observer = (*SessionObserver)(nil)

// OnSessionStart opens the handshake span and counts the session.
func (o *SessionObserver) OnSessionStart(role session.Role) {
	o.collector.SessionStarted()

	name := SpanHandshakeInitiator
	if role == session.RoleResponder {
		name = SpanHandshakeResponder
	}
	_, o.endSpan = o.tracer.StartSpan(context.Background(), name, WithSpanKind(SpanKindServer))

	o.logger.Info("session started", Fields{"role": role.String()})
}

// OnStateChange narrates handshake progress at debug level.
func (o *SessionObserver) OnStateChange(from, to session.State) {
	o.logger.Debug("state change", Fields{"from": from.String(), "to": to.String()})
}

// OnHandshakeComplete records the agreement and closes the handshake span.
func (o *SessionObserver) OnHandshakeComplete(elapsed time.Duration, restarts int) {
	o.completed = true
	o.collector.HandshakeCompleted(elapsed)

	if o.endSpan != nil {
		o.endSpan(nil)
		o.endSpan = nil
	}

	o.logger.Info("handshake completed", Fields{
		"duration": elapsed.String(),
		"restarts": restarts,
	})
}

// OnRestart counts an abandoned round.
func (o *SessionObserver) OnRestart(reason string) {
	o.collector.RecordRestart()
	o.logger.Warn("handshake round restarted", Fields{"reason": reason})
}

// OnEnvelopeDropped counts an envelope discarded unprocessed.
func (o *SessionObserver) OnEnvelopeDropped(t protocol.MessageType, state session.State) {
	o.collector.RecordEnvelopeDropped()
	o.logger.Debug("envelope dropped", Fields{
		"envelope_type": string(t),
		"state":         state.String(),
	})
}

// OnQBER records an error rate estimate.
func (o *SessionObserver) OnQBER(percent float64) {
	o.collector.RecordQBER(percent)
	o.logger.Debug("error rate estimated", Fields{"qber_percent": percent})
}

// OnEncrypt traces and times one encryption.
func (o *SessionObserver) OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanEncrypt)

	return ctx, func(err error) {
		o.collector.RecordEncryptLatency(time.Since(start))

		if err != nil {
			o.collector.RecordEncryptError()
			o.logger.Debug("encrypt failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordMessageSent(uint64(plaintextLen))
		}

		endSpan(err)
	}
}

// OnDecrypt traces and times one decryption.
func (o *SessionObserver) OnDecrypt(ctx context.Context, ciphertextLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanDecrypt)

	return ctx, func(err error) {
		o.collector.RecordDecryptLatency(time.Since(start))

		if err != nil {
			o.collector.RecordDecryptError()
			o.logger.Debug("decrypt failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordMessageReceived(uint64(ciphertextLen))
		}

		endSpan(err)
	}
}

// OnReplayDetected counts a rejected replay.
func (o *SessionObserver) OnReplayDetected() {
	o.collector.RecordReplayBlocked()
	o.logger.Warn("replayed message rejected")
}

// OnAuthFailure counts an authentication failure.
func (o *SessionObserver) OnAuthFailure() {
	o.collector.RecordAuthFailure()
	o.logger.Warn("message authentication failed")
}

// OnProtocolError counts a protocol violation.
func (o *SessionObserver) OnProtocolError(err error) {
	o.collector.RecordProtocolError()
	o.logger.Error("protocol error", Fields{"error": err.Error()})
}

// OnSessionEnd closes the books for the session. A session that never
// delivered a key counts as failed.
func (o *SessionObserver) OnSessionEnd(reason string) {
	o.collector.SessionEnded()
	if !o.completed {
		o.collector.SessionFailed()
	}

	if o.endSpan != nil {
		var spanErr error
		if !o.completed {
			spanErr = errors.New(reason)
		}
		o.endSpan(spanErr)
		o.endSpan = nil
	}

	o.logger.Info("session ended", Fields{"reason": reason})
}

// Logger returns the observer's logger for custom logging.
func (o *SessionObserver) Logger() *Logger {
	return o.logger
}
