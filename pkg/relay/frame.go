// Package relay implements the websocket rendezvous server and client that
// carry protocol envelopes between peers.
//
// The relay never inspects envelope contents. Clients register an identity,
// learn who else is online, and exchange opaque payloads addressed by
// identity. All key agreement and encryption happen end to end in the
// session layer; a compromised relay can drop or reorder traffic but cannot
// read or forge messages that pass authentication.
package relay

import (
	"encoding/json"

	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// Frame types. The transport frame vocabulary is distinct from the protocol
// envelope types it carries.
const (
	// FrameRegister is a client's first frame, announcing its identity.
	FrameRegister = "register"
	// FrameWelcome acknowledges a successful registration.
	FrameWelcome = "welcome"
	// FrameUsers broadcasts the connected identities on every join and leave.
	FrameUsers = "users"
	// FrameRelay carries an opaque payload to or from an addressed peer.
	FrameRelay = "relay"
	// FrameError reports a routing or registration failure to one client.
	FrameError = "error"
)

// Frame is one relay transport message.
//
// Direction determines which fields are set: register carries ClientID,
// relay carries To and Payload on the way in and From and Payload on the
// way out, users carries Users, and welcome and error carry Message.
type Frame struct {
	Type     string          `json:"type"`
	ClientID string          `json:"client_id,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Message  string          `json:"message,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields required for the frame's type.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameRegister:
		if f.ClientID == "" {
			return qerrors.ErrInvalidFrame
		}
	case FrameRelay:
		if len(f.Payload) == 0 {
			return qerrors.ErrInvalidFrame
		}
	case FrameWelcome, FrameUsers, FrameError:
	default:
		return qerrors.ErrInvalidFrame
	}
	return nil
}

// decodeFrame parses raw frame bytes.
func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, qerrors.ErrInvalidFrame
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// encodeFrame serializes a frame for the wire.
func encodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, qerrors.ErrInvalidFrame
	}
	return data, nil
}
