// codec.go implements serialization and deserialization of protocol envelopes.
//
// Wire Format:
//
// Envelopes are single JSON objects:
//
//	{
//	  "type":       "qkd_bases",
//	  "from":       "alice",
//	  "to":         "bob",
//	  "session_id": "…",
//	  "payload":    { … }
//	}
//
// The payload object is type-specific and validated on both encode and
// decode. The transport delivers whole envelopes, so no stream framing is
// needed; envelopes above MaxEnvelopeSize bytes are rejected before
// parsing.
package protocol

import (
	"encoding/json"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// payloadValidator is implemented by every typed payload.
type payloadValidator interface {
	Validate() error
}

// Codec provides envelope serialization and deserialization.
type Codec struct{}

// NewCodec creates a new protocol codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes an envelope, enforcing the size ceiling.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, qerrors.ErrInvalidEnvelope
	}
	if len(data) > constants.MaxEnvelopeSize {
		return nil, qerrors.ErrEnvelopeTooLarge
	}
	return data, nil
}

// Decode parses an envelope. The legacy basis_exchange type is normalized
// to qkd_bases; unknown types are rejected.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	if len(data) > constants.MaxEnvelopeSize {
		return nil, qerrors.ErrEnvelopeTooLarge
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, qerrors.ErrInvalidEnvelope
	}

	if env.Type == messageTypeBasesAlias {
		env.Type = MessageTypeBases
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodePayload parses and validates an envelope's payload into dst.
func (c *Codec) DecodePayload(env *Envelope, dst payloadValidator) error {
	if len(env.Payload) == 0 {
		return qerrors.ErrInvalidPayload
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return qerrors.ErrInvalidPayload
	}
	return dst.Validate()
}

// NewEnvelope builds an envelope with a validated, marshaled payload.
// A nil payload produces a bare envelope (session_request, session_accept,
// key_confirmed carry no payload).
func NewEnvelope(t MessageType, from, to, sessionID string, payload payloadValidator) (*Envelope, error) {
	env := &Envelope{
		Type:      t,
		From:      from,
		To:        to,
		SessionID: sessionID,
	}

	if payload != nil {
		if err := payload.Validate(); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, qerrors.ErrInvalidPayload
		}
		env.Payload = raw
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Reply builds an envelope answering env: same session, sender and
// recipient swapped.
func Reply(env *Envelope, t MessageType, payload payloadValidator) (*Envelope, error) {
	return NewEnvelope(t, env.To, env.From, env.SessionID, payload)
}
