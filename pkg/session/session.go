// Package session implements the QKD handshake state machine, the keyed
// secure channel, and the per-peer session registry.
//
// A Session walks two peers through a simulated BB84 exchange to agree on a
// 256-bit key, verifies the agreement by hash comparison, and then carries
// chat traffic over an AEAD channel with lockstep message counters.
//
// The package provides:
//   - A single dispatch function over (state, envelope type) pairs
//   - Silent fencing of envelopes the current state does not expect
//   - Automatic restart on quality or confirmation failure, with a budget
//   - Replay protection through strict counter lockstep
//   - Zeroization of key material on termination
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/bb84"
	"github.com/sara-star-quant/qkd-go/pkg/crypto"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// State represents the current state of a session.
type State int32

const (
	// StateIdle indicates a fresh session with no round in progress
	StateIdle State = iota

	// StateRequested indicates this side sent a session_request and is
	// waiting for the peer to accept
	StateRequested

	// StateExchanging indicates qubit states, bases, and measurements are
	// in flight
	StateExchanging

	// StateSifted indicates sifting completed; passed through on the way
	// to the quality check
	StateSifted

	// StateQBERCheck indicates the sampled error estimate is pending
	StateQBERCheck

	// StateErrorCorrection indicates block correction and key derivation
	// are running; passed through on the way to confirmation
	StateErrorCorrection

	// StateKeyConfirm indicates confirmation hashes are in flight
	StateKeyConfirm

	// StateActive indicates the key is agreed and the channel is live
	StateActive

	// StateTerminated indicates the session ended; terminal
	StateTerminated
)

// String returns the protocol name for the session state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequested:
		return "REQUESTED"
	case StateExchanging:
		return "EXCHANGING"
	case StateSifted:
		return "SIFTED"
	case StateQBERCheck:
		return "QBER_CHECK"
	case StateErrorCorrection:
		return "ERROR_CORRECTION"
	case StateKeyConfirm:
		return "KEY_CONFIRM"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Terminal returns true if no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// Role indicates which side of the current round this endpoint plays.
// Roles can swap across restarts: the restarting side initiates the next
// round.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Config carries the parameters for a new session. LocalID and PeerID are
// required; everything else has defaults.
type Config struct {
	LocalID string
	PeerID  string

	// Suite selects the AEAD cipher for the secure channel. Both peers
	// must be configured with the same suite; it is not negotiated.
	// Zero selects AES-256-GCM.
	Suite constants.CipherSuite

	// MaxRestarts bounds consecutive failed rounds before the session
	// terminates. Zero selects the default budget.
	MaxRestarts int

	// Engine supplies randomness for the BB84 exchange. Nil selects the
	// system random source.
	Engine *bb84.Engine

	// Observer receives lifecycle and metrics events. Nil disables.
	Observer Observer
}

// Session is one end of a QKD handshake with a single peer. All methods are
// safe for concurrent use.
type Session struct {
	mu sync.Mutex

	localID string
	peerID  string
	id      string // current round identifier, adopted or generated
	role    Role
	state   State

	suite    constants.CipherSuite
	engine   *bb84.Engine
	codec    *protocol.Codec
	observer Observer
	started  bool // first round has begun; gates the start event

	// Round buffers, cleared on restart and termination.
	qubits    []bb84.Qubit // initiator: prepared states; responder: decoded peer states
	ownBases  []bb84.Basis // responder's measurement bases
	ownBits   []uint8      // responder's measurement outcomes
	peerBases []bb84.Basis // initiator: bases announced by the peer
	sifted    []uint8      // working key bits after sifting and sample removal

	candidate   []byte // 32-byte candidate key awaiting confirmation
	confirmHash []byte // confirmation hash of the candidate

	finalKey []byte        // adopted key backing the channel
	channel  *KeyedChannel // non-nil only while ACTIVE

	restarts    int // consecutive failed rounds since the last ACTIVE
	maxRestarts int

	createdAt     time.Time
	roundStart    time.Time
	transitionAt  time.Time
	establishedAt time.Time
}

// NewSession creates a session in IDLE with the given configuration.
func NewSession(config Config) (*Session, error) {
	if config.LocalID == "" || config.PeerID == "" {
		return nil, fmt.Errorf("session: local and peer identity required")
	}
	if config.LocalID == config.PeerID {
		return nil, fmt.Errorf("session: peer identity equals local identity")
	}

	suite := config.Suite
	if suite == 0 {
		suite = constants.CipherSuiteAES256GCM
	}
	if !suite.IsSupported() {
		return nil, qerrors.NewCryptoError("NewSession", qerrors.ErrUnsupportedCipherSuite)
	}

	maxRestarts := config.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = constants.DefaultMaxRestarts
	}

	engine := config.Engine
	if engine == nil {
		engine = bb84.NewEngine(nil)
	}

	var observer Observer = NopObserver{}
	if config.Observer != nil {
		observer = config.Observer
	}

	now := time.Now()
	return &Session{
		localID:      config.LocalID,
		peerID:       config.PeerID,
		role:         RoleResponder,
		state:        StateIdle,
		suite:        suite,
		engine:       engine,
		codec:        protocol.NewCodec(),
		observer:     observer,
		maxRestarts:  maxRestarts,
		createdAt:    now,
		transitionAt: now,
	}, nil
}

// SetObserver replaces the session observer. Should be called during
// initialization, before any envelopes are dispatched.
func (s *Session) SetObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if observer == nil {
		observer = NopObserver{}
	}
	s.observer = observer
}

// LocalID returns this endpoint's identity.
func (s *Session) LocalID() string {
	return s.localID
}

// PeerID returns the peer's identity.
func (s *Session) PeerID() string {
	return s.peerID
}

// ID returns the current round identifier. Empty until a round starts.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role this endpoint plays in the current round.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Restarts returns the number of consecutive failed rounds.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// LastTransition returns the time of the most recent state change.
func (s *Session) LastTransition() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionAt
}

// Key returns a copy of the agreed session key, or nil if the session is
// not ACTIVE.
func (s *Session) Key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.finalKey == nil {
		return nil
	}
	key := make([]byte, len(s.finalKey))
	copy(key, s.finalKey)
	return key
}

// Stats reports a snapshot of session counters.
type Stats struct {
	State            State
	Role             Role
	Restarts         int
	MessagesSent     uint32
	MessagesReceived uint32
	Age              time.Duration
	Established      time.Duration // zero unless the session reached ACTIVE
}

// Stats returns current session statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		State:    s.state,
		Role:     s.role,
		Restarts: s.restarts,
		Age:      time.Since(s.createdAt),
	}
	if s.channel != nil {
		st.MessagesSent, st.MessagesReceived = s.channel.Counters()
	}
	if !s.establishedAt.IsZero() {
		st.Established = time.Since(s.establishedAt)
	}
	return st
}

// setStateLocked transitions the state and stamps the transition time.
func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.transitionAt = time.Now()
	s.observer.OnStateChange(from, to)
}

// clearRoundLocked zeroes and drops every transient buffer of the current
// round, including any adopted key and live channel.
func (s *Session) clearRoundLocked() {
	for i := range s.qubits {
		s.qubits[i] = bb84.Qubit{}
	}
	s.qubits = nil
	s.ownBases = nil
	s.peerBases = nil

	crypto.ZeroizeMultiple(s.ownBits, s.sifted)
	s.ownBits = nil
	s.sifted = nil

	crypto.ZeroizeMultiple(s.candidate, s.confirmHash, s.finalKey)
	s.candidate = nil
	s.confirmHash = nil
	s.finalKey = nil

	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
}

// Start begins a round as initiator. Only valid from IDLE; the returned
// result carries the session_request envelope to transmit.
func (s *Session) Start() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, qerrors.NewProtocolError(s.state.String(), qerrors.ErrInvalidState)
	}

	s.role = RoleInitiator
	s.id = uuid.NewString()
	s.roundStart = time.Now()
	if !s.started {
		s.started = true
		s.observer.OnSessionStart(s.role)
	}
	s.setStateLocked(StateRequested)

	request, err := s.envelopeLocked(protocol.MessageTypeSessionRequest, nil)
	if err != nil {
		return nil, err
	}
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{request},
	}, nil
}

// Terminate ends the session from any state, zeroing all secret material.
// The returned envelope notifies the peer and may be nil if no round ever
// started or the session was already terminated.
func (s *Session) Terminate(reason string) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return nil, nil
	}

	var env *protocol.Envelope
	if s.id != "" {
		var err error
		env, err = s.envelopeLocked(protocol.MessageTypeTerminate, &protocol.TerminatePayload{Reason: reason})
		if err != nil {
			env = nil
		}
	}

	s.terminateLocked(reason)
	return env, nil
}

// terminateLocked clears all state and moves to TERMINATED.
func (s *Session) terminateLocked(reason string) {
	s.clearRoundLocked()
	s.setStateLocked(StateTerminated)
	s.observer.OnSessionEnd(reason)
}

// EncryptMessage encrypts plaintext for the peer over the established
// channel and wraps it in a secure_message envelope. Only valid while
// ACTIVE.
func (s *Session) EncryptMessage(plaintext []byte) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.channel == nil {
		return nil, qerrors.ErrSessionNotActive
	}

	_, done := s.observer.OnEncrypt(context.Background(), len(plaintext))
	payload, err := s.channel.Encrypt(plaintext)
	done(err)
	if err != nil {
		return nil, err
	}

	return s.envelopeLocked(protocol.MessageTypeSecure, payload)
}

// envelopeLocked builds an outbound envelope for the current round.
func (s *Session) envelopeLocked(t protocol.MessageType, payload interface{ Validate() error }) (*protocol.Envelope, error) {
	return protocol.NewEnvelope(t, s.localID, s.peerID, s.id, payload)
}
