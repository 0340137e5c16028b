// Package protocol defines the envelope vocabulary for the QKD handshake.
//
// This file (messages.go) implements the message flow:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- session_request ----------> |
//	    |                                      |
//	    | <------- session_accept ------------ |
//	    | <------- qkd_bases ----------------- |
//	    |                                      |
//	    | -------- qkd_states --------------->  |
//	    | -------- qkd_measurements ---------> |
//	    |                                      |
//	    | <------- qkd_measurements ---------- |
//	    |                                      |
//	    | -------- qber_sample --------------> |
//	    |                                      |
//	    | <------> key_verification <--------> |
//	    | <------> key_confirmed <-----------> |
//	    |                                      |
//	    |    === Session Active ===            |
//
// Envelopes are JSON objects routed by peer identity; the relay treats them
// as opaque. Once a session is active, secure_message envelopes carry the
// encrypted channel payload.
package protocol

import (
	"encoding/hex"
	"encoding/json"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// MessageType identifies the type of protocol envelope.
type MessageType string

// Envelope types for session setup, key exchange, and secure messaging.
const (
	// MessageTypeSessionRequest asks a peer to begin a key exchange.
	MessageTypeSessionRequest MessageType = "session_request"
	// MessageTypeSessionAccept agrees to a requested exchange.
	MessageTypeSessionAccept MessageType = "session_accept"
	// MessageTypeStates carries the initiator's encoded qubit symbols.
	MessageTypeStates MessageType = "qkd_states"
	// MessageTypeBases carries one side's basis choices.
	MessageTypeBases MessageType = "qkd_bases"
	// MessageTypeMeasurements carries one side's measurement outcomes.
	MessageTypeMeasurements MessageType = "qkd_measurements"
	// MessageTypeSample reveals sampled sifted positions for error estimation.
	MessageTypeSample MessageType = "qber_sample"
	// MessageTypeVerification carries the key-confirmation hash.
	MessageTypeVerification MessageType = "key_verification"
	// MessageTypeConfirmed acknowledges a matching confirmation hash.
	MessageTypeConfirmed MessageType = "key_confirmed"
	// MessageTypeRestart abandons the current round and starts over.
	MessageTypeRestart MessageType = "session_restart"
	// MessageTypeTerminate ends the session permanently.
	MessageTypeTerminate MessageType = "session_terminated"
	// MessageTypeSecure carries an encrypted channel payload.
	MessageTypeSecure MessageType = "secure_message"

	// messageTypeBasesAlias is the legacy spelling of MessageTypeBases,
	// accepted on decode and normalized.
	messageTypeBasesAlias MessageType = "basis_exchange"
)

// IsValid reports whether mt is a known envelope type.
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeSessionRequest, MessageTypeSessionAccept,
		MessageTypeStates, MessageTypeBases, MessageTypeMeasurements,
		MessageTypeSample, MessageTypeVerification, MessageTypeConfirmed,
		MessageTypeRestart, MessageTypeTerminate, MessageTypeSecure:
		return true
	default:
		return false
	}
}

// String returns the wire name of the message type.
func (mt MessageType) String() string {
	return string(mt)
}

// Envelope is the routed protocol message. From and To are peer identities;
// SessionID ties the envelope to one exchange round. The payload is decoded
// lazily by type.
type Envelope struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope frame. Payload contents are validated by the
// per-type payload structs.
func (e *Envelope) Validate() error {
	if !e.Type.IsValid() {
		return qerrors.ErrUnknownMessageType
	}
	if e.From == "" || e.To == "" {
		return qerrors.ErrInvalidEnvelope
	}
	if e.SessionID == "" {
		return qerrors.ErrInvalidEnvelope
	}
	return nil
}

// StatesPayload carries the initiator's encoded qubit states.
type StatesPayload struct {
	// Symbols are the ket-notation state encodings, one per pulse.
	Symbols []string `json:"symbols"`
}

// Validate checks that a full exchange worth of symbols is present.
func (p *StatesPayload) Validate() error {
	if len(p.Symbols) != constants.KeyLength {
		return qerrors.ErrInvalidPayload
	}
	return nil
}

// BasesPayload carries one side's basis choices as wire integers
// (0 for Z, 1 for X).
type BasesPayload struct {
	Bases []int `json:"bases"`
}

// Validate checks length and the basis value range.
func (p *BasesPayload) Validate() error {
	if len(p.Bases) != constants.KeyLength {
		return qerrors.ErrInvalidPayload
	}
	for _, b := range p.Bases {
		if b != 0 && b != 1 {
			return qerrors.ErrInvalidPayload
		}
	}
	return nil
}

// MeasurementsPayload carries one side's measurement outcomes.
type MeasurementsPayload struct {
	Bits []int `json:"bits"`
}

// Validate checks length and the bit value range.
func (p *MeasurementsPayload) Validate() error {
	if len(p.Bits) != constants.KeyLength {
		return qerrors.ErrInvalidPayload
	}
	for _, b := range p.Bits {
		if b != 0 && b != 1 {
			return qerrors.ErrInvalidBit
		}
	}
	return nil
}

// SamplePayload reveals sampled sifted positions and their bit values for
// error estimation. Indices refer to positions in the sifted key and are
// sent in ascending order.
type SamplePayload struct {
	Indices []int `json:"indices"`
	Bits    []int `json:"bits"`
}

// Validate checks structural consistency. Range checks against the local
// sifted key happen at the session layer, which knows the key length.
func (p *SamplePayload) Validate() error {
	if len(p.Indices) == 0 || len(p.Indices) != len(p.Bits) {
		return qerrors.ErrInvalidPayload
	}
	prev := -1
	for _, idx := range p.Indices {
		if idx <= prev {
			return qerrors.ErrInvalidPayload
		}
		prev = idx
	}
	for _, b := range p.Bits {
		if b != 0 && b != 1 {
			return qerrors.ErrInvalidBit
		}
	}
	return nil
}

// VerificationPayload carries the hex-encoded key-confirmation hash.
type VerificationPayload struct {
	Hash string `json:"hash"`
}

// Validate checks that the hash is a well-formed confirmation digest.
func (p *VerificationPayload) Validate() error {
	raw, err := hex.DecodeString(p.Hash)
	if err != nil || len(raw) != constants.ConfirmHashSize {
		return qerrors.ErrInvalidPayload
	}
	return nil
}

// HashBytes decodes the confirmation hash. Validate must have passed.
func (p *VerificationPayload) HashBytes() ([]byte, error) {
	raw, err := hex.DecodeString(p.Hash)
	if err != nil {
		return nil, qerrors.ErrInvalidPayload
	}
	return raw, nil
}

// RestartPayload optionally explains why the sender restarted.
type RestartPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Validate bounds the reason text.
func (p *RestartPayload) Validate() error {
	if len(p.Reason) > 256 {
		return qerrors.ErrInvalidPayload
	}
	return nil
}

// TerminatePayload optionally explains why the sender terminated.
type TerminatePayload struct {
	Reason string `json:"reason,omitempty"`
}

// Validate bounds the reason text.
func (p *TerminatePayload) Validate() error {
	if len(p.Reason) > 256 {
		return qerrors.ErrInvalidPayload
	}
	return nil
}

// SecurePayload is one encrypted channel message. Nonce, Tag, and
// Ciphertext are hex-encoded; Counter is the lockstep message counter the
// receiver must match before attempting decryption.
type SecurePayload struct {
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
	Counter    uint32 `json:"counter"`
}

// Validate checks field shapes: a 12-byte nonce, a 16-byte tag, and a
// non-empty ciphertext within the plaintext ceiling.
func (p *SecurePayload) Validate() error {
	nonce, err := hex.DecodeString(p.Nonce)
	if err != nil || len(nonce) != constants.AESNonceSize {
		return qerrors.ErrInvalidPayload
	}
	tag, err := hex.DecodeString(p.Tag)
	if err != nil || len(tag) != constants.AESTagSize {
		return qerrors.ErrInvalidPayload
	}
	ct, err := hex.DecodeString(p.Ciphertext)
	if err != nil || len(ct) == 0 || len(ct) > constants.MaxPlaintextSize {
		return qerrors.ErrInvalidPayload
	}
	return nil
}
