// registry.go tracks the sessions of one endpoint, at most one per peer.
//
// The registry is a plain value owned by its creator and passed by
// reference. It routes inbound envelopes to the addressed session, creating
// responder sessions implicitly when an unknown peer requests one, and
// reaps handshakes that stall past their deadline. Reaping is driven by the
// caller's ticker; the registry runs no goroutines of its own.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/bb84"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// RegistryConfig carries the parameters shared by every session the
// registry creates.
type RegistryConfig struct {
	// LocalID is this endpoint's identity. Required.
	LocalID string

	// Suite selects the AEAD cipher for all sessions. Zero selects
	// AES-256-GCM.
	Suite constants.CipherSuite

	// MaxRestarts bounds consecutive failed rounds per session. Zero
	// selects the default budget.
	MaxRestarts int

	// Engine supplies randomness for all sessions. Nil selects the
	// system random source.
	Engine *bb84.Engine

	// Observer receives events from every session.
	Observer Observer

	// ObserverFactory builds a per-session observer and takes precedence
	// over Observer when set.
	ObserverFactory ObserverFactory
}

// Registry owns the sessions of one endpoint. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	config   RegistryConfig
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.LocalID == "" {
		return nil, fmt.Errorf("session: registry requires a local identity")
	}
	return &Registry{
		config:   config,
		sessions: make(map[string]*Session),
	}, nil
}

// LocalID returns the identity the registry answers for.
func (r *Registry) LocalID() string {
	return r.config.LocalID
}

// Create returns the session for the peer, creating one if none exists.
// A terminated session is replaced by a fresh one, so at most one live
// session exists per peer.
func (r *Registry) Create(peerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, qerrors.ErrRegistryClosed
	}
	if s, ok := r.sessions[peerID]; ok && s.State() != StateTerminated {
		return s, nil
	}
	return r.createLocked(peerID)
}

// createLocked builds and registers a new session for the peer.
func (r *Registry) createLocked(peerID string) (*Session, error) {
	s, err := NewSession(Config{
		LocalID:     r.config.LocalID,
		PeerID:      peerID,
		Suite:       r.config.Suite,
		MaxRestarts: r.config.MaxRestarts,
		Engine:      r.config.Engine,
	})
	if err != nil {
		return nil, err
	}
	if observer := observerFromConfig(r.config, s); observer != nil {
		s.SetObserver(observer)
	}
	r.sessions[peerID] = s
	return s, nil
}

// observerFromConfig resolves the observer for a new session.
func observerFromConfig(config RegistryConfig, session *Session) Observer {
	if config.ObserverFactory != nil {
		return config.ObserverFactory(session)
	}
	return config.Observer
}

// Get returns the session for the peer, if any.
func (r *Registry) Get(peerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peerID]
	return s, ok
}

// Remove terminates the peer's session, zeroing its secrets, and drops it
// from the registry.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[peerID]; ok {
		_, _ = s.Terminate("removed from registry")
		delete(r.sessions, peerID)
	}
}

// Dispatch routes an inbound envelope to the session addressed by its
// sender. A session_request from an unknown peer creates the responder
// session implicitly; any other envelope from an unknown peer is an error.
func (r *Registry) Dispatch(env *protocol.Envelope) (*Result, error) {
	if env == nil {
		return nil, qerrors.ErrInvalidEnvelope
	}

	r.mu.RLock()
	closed := r.closed
	s, ok := r.sessions[env.From]
	r.mu.RUnlock()

	if closed {
		return nil, qerrors.ErrRegistryClosed
	}
	if !ok {
		if env.Type != protocol.MessageTypeSessionRequest {
			return nil, qerrors.ErrSessionNotFound
		}
		var err error
		s, err = r.Create(env.From)
		if err != nil {
			return nil, err
		}
	}
	return s.Dispatch(env)
}

// Encrypt encrypts plaintext for the peer over its established session.
func (r *Registry) Encrypt(peerID string, plaintext []byte) (*protocol.Envelope, error) {
	s, ok := r.Get(peerID)
	if !ok {
		return nil, qerrors.ErrSessionNotFound
	}
	return s.EncryptMessage(plaintext)
}

// Reap removes terminated sessions and terminates sessions stuck in a
// non-terminal, non-active state for longer than maxAge. ACTIVE sessions
// are never reaped. Returns the number of sessions removed.
func (r *Registry) Reap(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for peerID, s := range r.sessions {
		switch state := s.State(); {
		case state == StateTerminated:
			delete(r.sessions, peerID)
			reaped++
		case state != StateActive && time.Since(s.LastTransition()) > maxAge:
			_, _ = s.Terminate("handshake deadline exceeded")
			delete(r.sessions, peerID)
			reaped++
		}
	}
	return reaped
}

// Peers returns the peer identities with registered sessions, sorted.
func (r *Registry) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]string, 0, len(r.sessions))
	for peerID := range r.sessions {
		peers = append(peers, peerID)
	}
	sort.Strings(peers)
	return peers
}

// RegistryStats summarizes the registry's sessions by state.
type RegistryStats struct {
	Sessions    int // total registered sessions
	Active      int
	Handshaking int // neither active nor terminated
	Terminated  int
}

// Stats returns a snapshot of session counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Sessions: len(r.sessions)}
	for _, s := range r.sessions {
		switch s.State() {
		case StateActive:
			stats.Active++
		case StateTerminated:
			stats.Terminated++
		default:
			stats.Handshaking++
		}
	}
	return stats
}

// Close terminates every session and refuses further work.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for peerID, s := range r.sessions {
		_, _ = s.Terminate("registry closed")
		delete(r.sessions, peerID)
	}
}
