package session

import (
	"context"
	"time"

	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// Observer provides hooks for session lifecycle, metrics, and tracing.
// Implementations should be lightweight; callbacks may run on hot paths
// and are invoked with the session mutex held.
type Observer interface {
	OnSessionStart(role Role)
	OnStateChange(from, to State)
	OnHandshakeComplete(elapsed time.Duration, restarts int)
	OnRestart(reason string)
	OnEnvelopeDropped(t protocol.MessageType, state State)
	OnQBER(percent float64)
	OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error))
	OnDecrypt(ctx context.Context, ciphertextLen int) (context.Context, func(error))
	OnReplayDetected()
	OnAuthFailure()
	OnProtocolError(err error)
	OnSessionEnd(reason string)
}

// ObserverFactory builds a per-session observer.
type ObserverFactory func(session *Session) Observer

// NopObserver is an Observer that ignores every event. It is the default
// when no observer is configured.
type NopObserver struct{}

func (NopObserver) OnSessionStart(Role)                                 {}
func (NopObserver) OnStateChange(State, State)                          {}
func (NopObserver) OnHandshakeComplete(time.Duration, int)              {}
func (NopObserver) OnRestart(string)                                    {}
func (NopObserver) OnEnvelopeDropped(protocol.MessageType, State)       {}
func (NopObserver) OnQBER(float64)                                      {}
func (NopObserver) OnReplayDetected()                                   {}
func (NopObserver) OnAuthFailure()                                      {}
func (NopObserver) OnProtocolError(error)                               {}
func (NopObserver) OnSessionEnd(string)                                 {}

func (NopObserver) OnEncrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopObserver) OnDecrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}
