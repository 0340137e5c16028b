// handshake.go implements the QKD handshake state machine.
//
// The machine is a single dispatch function over the explicit
// (state, envelope type) pair. Each accepted envelope advances the state
// and may produce outbound envelopes; everything else is dropped silently.
// There are no per-message-type mutating methods, so the complete set of
// legal transitions is readable in one switch.
//
// Several states are passed through within a single dispatch call rather
// than resting: sifting continues directly into the quality check, and the
// initiator's quality check continues through error correction into key
// confirmation. The resting states are REQUESTED, EXCHANGING, QBER_CHECK
// (responder only), KEY_CONFIRM, and ACTIVE.
//
// Failure handling: a quality or confirmation failure abandons the round
// and restarts from scratch, with the restarting side initiating the next
// round. After the restart budget is spent the session terminates instead.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/bb84"
	"github.com/sara-star-quant/qkd-go/pkg/crypto"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// Result carries everything one dispatch step produced.
type Result struct {
	// State is the session state after the step.
	State State

	// Outbound holds envelopes to transmit to the peer, in order.
	Outbound []*protocol.Envelope

	// Plaintext is the decrypted content of a secure_message, nil for
	// every other envelope type.
	Plaintext []byte

	// Dropped reports that the envelope was ignored by state fencing.
	Dropped bool

	// Restarted reports that this step abandoned the current round.
	Restarted bool
}

// Dispatch processes one inbound envelope against the current state.
//
// Envelopes the current state does not expect are dropped silently with
// Dropped set; this fences against reordered and duplicated deliveries
// without surfacing errors for them. Errors are returned only for envelopes
// the state does accept but cannot process: malformed payloads, failed
// decrypts, and internal failures.
func (s *Session) Dispatch(env *protocol.Envelope) (*Result, error) {
	if env == nil {
		return nil, qerrors.ErrInvalidEnvelope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return s.dropLocked(env), nil
	}
	if env.From != s.peerID || env.To != s.localID {
		return s.dropLocked(env), nil
	}

	// Terminate and restart cut across the per-round fencing below.
	switch env.Type {
	case protocol.MessageTypeTerminate:
		s.terminateLocked("peer terminated: " + terminateReason(s.codec, env))
		return &Result{State: s.state}, nil

	case protocol.MessageTypeRestart:
		if s.state == StateIdle || env.SessionID != s.id {
			return s.dropLocked(env), nil
		}
		return s.handlePeerRestartLocked(env)

	case protocol.MessageTypeSessionRequest:
		switch s.state {
		case StateIdle:
			return s.handleRequestLocked(env)
		case StateRequested:
			// Simultaneous initiation. The peer with the smaller
			// identity keeps the initiator role; the other yields
			// and answers the request as responder.
			if s.localID < s.peerID {
				return s.dropLocked(env), nil
			}
			s.clearRoundLocked()
			return s.handleRequestLocked(env)
		default:
			return s.dropLocked(env), nil
		}
	}

	// Everything else is scoped to the current round.
	if env.SessionID != s.id {
		return s.dropLocked(env), nil
	}

	switch {
	case s.state == StateRequested && env.Type == protocol.MessageTypeSessionAccept:
		return s.handleAcceptLocked()

	case s.state == StateExchanging && env.Type == protocol.MessageTypeBases:
		return s.handleBasesLocked(env)

	case s.state == StateExchanging && env.Type == protocol.MessageTypeStates:
		return s.handleStatesLocked(env)

	case s.state == StateExchanging && env.Type == protocol.MessageTypeMeasurements:
		return s.handleMeasurementsLocked(env)

	case s.state == StateQBERCheck && env.Type == protocol.MessageTypeSample:
		return s.handleSampleLocked(env)

	case s.state == StateKeyConfirm && env.Type == protocol.MessageTypeVerification:
		return s.handleVerificationLocked(env)

	case s.state == StateKeyConfirm && env.Type == protocol.MessageTypeConfirmed:
		return s.handleConfirmedLocked()

	case s.state == StateActive && env.Type == protocol.MessageTypeSecure:
		return s.handleSecureLocked(env)

	default:
		return s.dropLocked(env), nil
	}
}

// handleRequestLocked accepts an inbound session_request: adopt the round
// identifier, generate measurement bases, and announce them.
func (s *Session) handleRequestLocked(env *protocol.Envelope) (*Result, error) {
	s.role = RoleResponder
	s.id = env.SessionID
	s.roundStart = time.Now()
	if !s.started {
		s.started = true
		s.observer.OnSessionStart(s.role)
	}

	bases, err := s.engine.GenerateBases(constants.KeyLength)
	if err != nil {
		return nil, err
	}
	s.ownBases = bases

	accept, err := s.envelopeLocked(protocol.MessageTypeSessionAccept, nil)
	if err != nil {
		return nil, err
	}
	announce, err := s.envelopeLocked(protocol.MessageTypeBases, &protocol.BasesPayload{
		Bases: bb84.BasesToInts(bases),
	})
	if err != nil {
		return nil, err
	}

	s.setStateLocked(StateExchanging)
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{accept, announce},
	}, nil
}

// handleAcceptLocked reacts to the peer accepting our request: prepare the
// qubit states and transmit their symbols.
func (s *Session) handleAcceptLocked() (*Result, error) {
	qs, err := s.engine.Generate(constants.KeyLength)
	if err != nil {
		return nil, err
	}
	s.qubits = qs

	states, err := s.envelopeLocked(protocol.MessageTypeStates, &protocol.StatesPayload{
		Symbols: bb84.EncodeSymbols(qs),
	})
	if err != nil {
		return nil, err
	}

	s.setStateLocked(StateExchanging)
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{states},
	}, nil
}

// handleBasesLocked processes the peer's announced bases (initiator side):
// measure our own prepared qubits under them and report the outcomes.
func (s *Session) handleBasesLocked(env *protocol.Envelope) (*Result, error) {
	if s.role != RoleInitiator || s.qubits == nil || s.peerBases != nil {
		return s.dropLocked(env), nil
	}

	var p protocol.BasesPayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}
	bases, err := bb84.BasesFromInts(p.Bases)
	if err != nil {
		return nil, s.protoErrLocked(err)
	}
	s.peerBases = bases

	measured, err := s.engine.MeasureAll(s.qubits, bases)
	if err != nil {
		return nil, err
	}

	report, err := s.envelopeLocked(protocol.MessageTypeMeasurements, &protocol.MeasurementsPayload{
		Bits: bitsToInts(measured),
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{report},
	}, nil
}

// handleStatesLocked processes the peer's transmitted qubit states
// (responder side): decode the symbols, measure each under our own basis,
// and report the outcomes.
func (s *Session) handleStatesLocked(env *protocol.Envelope) (*Result, error) {
	if s.role != RoleResponder || s.ownBases == nil || s.qubits != nil {
		return s.dropLocked(env), nil
	}

	var p protocol.StatesPayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}
	qs, err := bb84.ParseSymbols(p.Symbols)
	if err != nil {
		return nil, s.protoErrLocked(err)
	}
	s.qubits = qs

	bits, err := s.engine.MeasureAll(qs, s.ownBases)
	if err != nil {
		return nil, err
	}
	s.ownBits = bits

	report, err := s.envelopeLocked(protocol.MessageTypeMeasurements, &protocol.MeasurementsPayload{
		Bits: bitsToInts(bits),
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{report},
	}, nil
}

// handleMeasurementsLocked sifts once the peer's measurement outcomes
// arrive. Both sides keep their own bits at the positions where the two
// basis lists agree; the peer's sifted outcomes feed the error estimate.
//
// The initiator then drives sampling: reveal a random sample of the sifted
// key, prune it, and continue optimistically through error correction into
// key confirmation. The responder rests in QBER_CHECK until the revealed
// sample arrives, unless the sifted key is too short to spend bits on
// estimation, in which case both sides skip sampling entirely.
func (s *Session) handleMeasurementsLocked(env *protocol.Envelope) (*Result, error) {
	if s.role == RoleInitiator {
		if s.qubits == nil || s.peerBases == nil {
			return s.dropLocked(env), nil
		}
	} else {
		if s.qubits == nil || s.ownBits == nil {
			return s.dropLocked(env), nil
		}
	}

	var p protocol.MeasurementsPayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}
	peerBits := bitsFromInts(p.Bits)

	var ownBits []uint8
	var ownBases, peerBases []bb84.Basis
	if s.role == RoleInitiator {
		ownBits = bb84.Bits(s.qubits)
		ownBases = bb84.Bases(s.qubits)
		peerBases = s.peerBases
	} else {
		ownBits = s.ownBits
		ownBases = s.ownBases
		peerBases = bb84.Bases(s.qubits)
	}

	own, theirs, err := bb84.Sift(ownBits, ownBases, peerBits, peerBases)
	if err != nil {
		return nil, s.protoErrLocked(err)
	}
	s.sifted = own
	s.setStateLocked(StateSifted)

	s.observer.OnQBER(bb84.QBER(own, theirs))
	s.setStateLocked(StateQBERCheck)

	if len(s.sifted) < constants.MinSiftedForSampling {
		return s.completeKeyLocked(nil)
	}

	if s.role == RoleResponder {
		return &Result{State: s.state}, nil
	}

	k := bb84.SampleSize(len(s.sifted))
	indices, err := s.engine.SampleIndices(len(s.sifted), k)
	if err != nil {
		return nil, err
	}
	bits := make([]int, len(indices))
	for i, idx := range indices {
		bits[i] = int(s.sifted[idx])
	}
	sample, err := s.envelopeLocked(protocol.MessageTypeSample, &protocol.SamplePayload{
		Indices: indices,
		Bits:    bits,
	})
	if err != nil {
		return nil, err
	}
	s.sifted = bb84.RemoveIndices(s.sifted, indices)

	return s.completeKeyLocked(sample)
}

// handleSampleLocked checks the revealed sample against our own sifted bits
// (responder side). An error rate above the threshold abandons the round;
// otherwise the sampled positions are pruned and the key completes.
func (s *Session) handleSampleLocked(env *protocol.Envelope) (*Result, error) {
	var p protocol.SamplePayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}

	// Both sides compute the same sifted length, so the sample size is
	// not negotiable.
	if len(p.Indices) != bb84.SampleSize(len(s.sifted)) {
		return nil, s.protoErrLocked(qerrors.ErrInvalidPayload)
	}
	if p.Indices[len(p.Indices)-1] >= len(s.sifted) {
		return nil, s.protoErrLocked(qerrors.ErrInvalidPayload)
	}

	errs := 0
	for i, idx := range p.Indices {
		if s.sifted[idx] != uint8(p.Bits[i]) {
			errs++
		}
	}
	rate := float64(errs) / float64(len(p.Indices))
	s.observer.OnQBER(rate * 100)

	if rate > constants.QBERThreshold {
		return s.restartLocked(fmt.Sprintf("sample error rate %.2f above threshold", rate))
	}

	s.sifted = bb84.RemoveIndices(s.sifted, p.Indices)
	return s.completeKeyLocked(nil)
}

// completeKeyLocked runs error correction and key derivation over the
// remaining sifted bits, then emits our confirmation hash. The optional
// prefix envelope is transmitted first.
func (s *Session) completeKeyLocked(prefix *protocol.Envelope) (*Result, error) {
	s.setStateLocked(StateErrorCorrection)

	corrected := bb84.ErrorCorrect(s.sifted)
	crypto.Zeroize(s.sifted)
	s.sifted = corrected

	key, err := bb84.FinalKey(corrected)
	if err != nil {
		return nil, err
	}
	s.candidate = key

	hash, err := crypto.ConfirmationHash(key)
	if err != nil {
		return nil, err
	}
	s.confirmHash = hash

	s.setStateLocked(StateKeyConfirm)
	verification, err := s.envelopeLocked(protocol.MessageTypeVerification, &protocol.VerificationPayload{
		Hash: hex.EncodeToString(hash),
	})
	if err != nil {
		return nil, err
	}

	out := make([]*protocol.Envelope, 0, 2)
	if prefix != nil {
		out = append(out, prefix)
	}
	out = append(out, verification)
	return &Result{State: s.state, Outbound: out}, nil
}

// handleVerificationLocked compares the peer's confirmation hash with ours.
// A match adopts the key and confirms back; a mismatch abandons the round.
func (s *Session) handleVerificationLocked(env *protocol.Envelope) (*Result, error) {
	var p protocol.VerificationPayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}
	peerHash, err := p.HashBytes()
	if err != nil {
		return nil, s.protoErrLocked(err)
	}

	if !crypto.ConstantTimeCompare(peerHash, s.confirmHash) {
		return s.restartLocked("key confirmation mismatch")
	}

	if err := s.adoptKeyLocked(); err != nil {
		return nil, err
	}
	confirmed, err := s.envelopeLocked(protocol.MessageTypeConfirmed, nil)
	if err != nil {
		return nil, err
	}
	return &Result{
		State:    s.state,
		Outbound: []*protocol.Envelope{confirmed},
	}, nil
}

// handleConfirmedLocked adopts the key once the peer has confirmed it
// against our verification hash.
func (s *Session) handleConfirmedLocked() (*Result, error) {
	if err := s.adoptKeyLocked(); err != nil {
		return nil, err
	}
	return &Result{State: s.state}, nil
}

// handleSecureLocked decrypts a chat message over the established channel.
func (s *Session) handleSecureLocked(env *protocol.Envelope) (*Result, error) {
	var p protocol.SecurePayload
	if err := s.codec.DecodePayload(env, &p); err != nil {
		return nil, s.protoErrLocked(err)
	}

	_, done := s.observer.OnDecrypt(context.Background(), len(p.Ciphertext)/2)
	plaintext, err := s.channel.Decrypt(&p)
	done(err)
	if err != nil {
		switch {
		case qerrors.Is(err, qerrors.ErrReplayDetected):
			s.observer.OnReplayDetected()
		case qerrors.Is(err, qerrors.ErrAuthenticationFailed):
			s.observer.OnAuthFailure()
		}
		return nil, err
	}

	return &Result{State: s.state, Plaintext: plaintext}, nil
}

// adoptKeyLocked promotes the candidate key to the session key, opens the
// channel, and moves to ACTIVE.
func (s *Session) adoptKeyLocked() error {
	channel, err := NewKeyedChannel(s.candidate, s.suite)
	if err != nil {
		return err
	}

	s.finalKey = s.candidate
	s.candidate = nil
	s.channel = channel

	restarts := s.restarts
	s.restarts = 0
	s.establishedAt = time.Now()
	s.setStateLocked(StateActive)
	s.observer.OnHandshakeComplete(time.Since(s.roundStart), restarts)
	return nil
}

// restartLocked abandons the current round: clear every buffer, take the
// initiator role, and open a fresh round with a new identifier. Once the
// budget of consecutive failed rounds is spent the session terminates
// instead.
func (s *Session) restartLocked(reason string) (*Result, error) {
	s.restarts++
	s.observer.OnRestart(reason)

	if s.restarts >= s.maxRestarts {
		return s.terminateWithNoticeLocked("restart budget exhausted")
	}

	// The restart notice closes the old round; the request opens the new.
	notice, err := s.envelopeLocked(protocol.MessageTypeRestart, &protocol.RestartPayload{Reason: reason})
	if err != nil {
		return nil, err
	}

	s.clearRoundLocked()
	s.role = RoleInitiator
	s.id = uuid.NewString()
	s.roundStart = time.Now()
	s.setStateLocked(StateRequested)

	request, err := s.envelopeLocked(protocol.MessageTypeSessionRequest, nil)
	if err != nil {
		return nil, err
	}
	return &Result{
		State:     s.state,
		Outbound:  []*protocol.Envelope{notice, request},
		Restarted: true,
	}, nil
}

// handlePeerRestartLocked clears the round and waits for the peer's fresh
// request. The peer becomes the next round's initiator.
func (s *Session) handlePeerRestartLocked(env *protocol.Envelope) (*Result, error) {
	reason := "peer requested restart"
	var p protocol.RestartPayload
	if len(env.Payload) > 0 && s.codec.DecodePayload(env, &p) == nil && p.Reason != "" {
		reason = "peer requested restart: " + p.Reason
	}

	s.restarts++
	s.observer.OnRestart(reason)

	if s.restarts >= s.maxRestarts {
		return s.terminateWithNoticeLocked("restart budget exhausted")
	}

	s.clearRoundLocked()
	s.role = RoleResponder
	s.id = ""
	s.setStateLocked(StateIdle)
	return &Result{State: s.state, Restarted: true}, nil
}

// terminateWithNoticeLocked terminates the session and, when a round is in
// flight, notifies the peer.
func (s *Session) terminateWithNoticeLocked(reason string) (*Result, error) {
	var out []*protocol.Envelope
	if s.id != "" {
		notice, err := s.envelopeLocked(protocol.MessageTypeTerminate, &protocol.TerminatePayload{Reason: reason})
		if err == nil {
			out = append(out, notice)
		}
	}
	s.terminateLocked(reason)
	return &Result{State: s.state, Outbound: out}, nil
}

// dropLocked records a fenced envelope and leaves the state untouched.
func (s *Session) dropLocked(env *protocol.Envelope) *Result {
	s.observer.OnEnvelopeDropped(env.Type, s.state)
	return &Result{State: s.state, Dropped: true}
}

// protoErrLocked reports and wraps a protocol-level processing failure.
func (s *Session) protoErrLocked(err error) error {
	s.observer.OnProtocolError(err)
	return qerrors.NewProtocolError(s.state.String(), err)
}

// terminateReason extracts the reason from a session_terminated envelope,
// tolerating a missing payload.
func terminateReason(codec *protocol.Codec, env *protocol.Envelope) string {
	var p protocol.TerminatePayload
	if len(env.Payload) > 0 && codec.DecodePayload(env, &p) == nil && p.Reason != "" {
		return p.Reason
	}
	return "no reason given"
}

func bitsToInts(bits []uint8) []int {
	out := make([]int, len(bits))
	for i, b := range bits {
		out[i] = int(b)
	}
	return out
}

func bitsFromInts(vs []int) []uint8 {
	out := make([]uint8, len(vs))
	for i, v := range vs {
		out[i] = uint8(v)
	}
	return out
}
