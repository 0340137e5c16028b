// Package errors defines custom error types for the QKD-Go handshake and
// messaging system. These errors provide detailed information for debugging
// while maintaining security by not leaking key material in error messages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the BB84 exchange
var (
	// ErrInvalidSymbol indicates an unrecognized qubit symbol on the wire
	ErrInvalidSymbol = errors.New("bb84: invalid qubit symbol")

	// ErrInvalidBasis indicates an unrecognized basis label
	ErrInvalidBasis = errors.New("bb84: invalid basis")

	// ErrInvalidBit indicates a bit value outside {0,1}
	ErrInvalidBit = errors.New("bb84: invalid bit value")

	// ErrLengthMismatch indicates paired sequences of different lengths
	ErrLengthMismatch = errors.New("bb84: sequence length mismatch")
)

// Sentinel errors for cryptographic operations
var (
	// ErrInvalidKeySize indicates that a key has an incorrect size
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrUnsupportedCipherSuite indicates an unknown cipher suite identifier
	ErrUnsupportedCipherSuite = errors.New("crypto: unsupported cipher suite")

	// ErrRandomFailure indicates the random source could not be read
	ErrRandomFailure = errors.New("crypto: random source failure")

	// ErrAuthenticationFailed indicates AEAD authentication/decryption failed
	ErrAuthenticationFailed = errors.New("aead: authentication failed")

	// ErrInvalidNonce indicates the nonce size is incorrect
	ErrInvalidNonce = errors.New("aead: invalid nonce size")

	// ErrCiphertextTooShort indicates ciphertext is too short to be valid
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")

	// ErrCounterExhausted indicates the message counter reached its ceiling
	ErrCounterExhausted = errors.New("aead: message counter exhausted")
)

// Sentinel errors for protocol envelope handling
var (
	// ErrInvalidEnvelope indicates a protocol envelope is malformed
	ErrInvalidEnvelope = errors.New("protocol: invalid envelope")

	// ErrUnknownMessageType indicates an unrecognized envelope type
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrEnvelopeTooLarge indicates an envelope exceeds the maximum size
	ErrEnvelopeTooLarge = errors.New("protocol: envelope too large")

	// ErrInvalidPayload indicates an envelope payload failed validation
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Sentinel errors for session operations
var (
	// ErrInvalidState indicates an operation that the current session state
	// does not allow
	ErrInvalidState = errors.New("session: invalid state for operation")

	// ErrReplayDetected indicates a message counter mismatch on decrypt
	ErrReplayDetected = errors.New("session: counter mismatch, replay detected")

	// ErrSessionTerminated indicates the session was explicitly terminated
	ErrSessionTerminated = errors.New("session: terminated")

	// ErrSessionNotActive indicates secure messaging before key agreement
	ErrSessionNotActive = errors.New("session: not active")

	// ErrSessionNotFound indicates no session exists for the peer
	ErrSessionNotFound = errors.New("session: no session for peer")

	// ErrInvalidPlaintext indicates a plaintext that is empty or exceeds
	// the size limit
	ErrInvalidPlaintext = errors.New("session: plaintext empty or too large")

	// ErrRegistryClosed indicates an operation on a closed registry
	ErrRegistryClosed = errors.New("session: registry closed")
)

// Sentinel errors for relay operations
var (
	// ErrRelayClosed indicates the relay connection has been closed
	ErrRelayClosed = errors.New("relay: connection closed")

	// ErrInvalidFrame indicates a malformed relay transport frame
	ErrInvalidFrame = errors.New("relay: invalid frame")

	// ErrNotRegistered indicates a frame arrived before registration
	ErrNotRegistered = errors.New("relay: client not registered")

	// ErrUnknownPeer indicates the addressed peer is not connected
	ErrUnknownPeer = errors.New("relay: unknown peer")

	// ErrRegistrationFailed indicates the register/welcome exchange failed
	ErrRegistrationFailed = errors.New("relay: registration failed")

	// ErrRateLimited indicates the relay refused a connection or frame
	// because a limit was hit
	ErrRateLimited = errors.New("relay: rate limited")
)

// Sentinel errors for configuration
var (
	// ErrInvalidConfig indicates a configuration value failed validation
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with the session state it occurred in
type ProtocolError struct {
	State string // Session state name (e.g., "EXCHANGING")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.State, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(state string, err error) *ProtocolError {
	return &ProtocolError{State: state, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
