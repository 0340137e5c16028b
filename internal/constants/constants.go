// Package constants defines protocol parameters and security constants for the
// QKD-Go handshake and messaging system.
//
// The BB84 parameters mirror the simulated exchange: 256 raw qubits per round,
// a revealed-sample error estimate, and a 256-bit final key. None of them are
// tunable on the wire; both peers must agree on this file.
package constants

import "time"

// Protocol version and identification
const (
	// ProtocolVersion is the current version of the QKD handshake protocol
	ProtocolVersion uint16 = 0x0001

	// ProtocolName is used for domain separation in key derivation
	ProtocolName = "QKD-GO-v1"
)

// BB84 exchange parameters
const (
	// KeyLength is the number of raw (bit, basis) pairs generated per round
	KeyLength = 256

	// MinSiftedForSampling is the sifted-key length below which QBER sampling
	// is skipped entirely (too few bits to spend on estimation)
	MinSiftedForSampling = 20

	// MinSampleSize is the floor on the number of revealed sample positions
	MinSampleSize = 5

	// SampleDivisor sizes the revealed sample at ceil(len/SampleDivisor)
	SampleDivisor = 4

	// QBERThreshold is the maximum tolerated error rate over the revealed
	// sample. Above this the round is abandoned and restarted.
	QBERThreshold = 0.11

	// CorrectionBlockSize is the majority-vote block length for error
	// correction. A final partial block is left unmodified.
	CorrectionBlockSize = 3

	// AmplifiedBits is the privacy-amplification output length in bits
	AmplifiedBits = 256
)

// Symmetric encryption parameters
const (
	// SessionKeySize is the size of the final session key in bytes
	SessionKeySize = 32

	// AESKeySize is the size of AES-256 keys in bytes
	AESKeySize = 32

	// AESNonceSize is the size of AEAD nonces in bytes (96 bits, shared by
	// AES-GCM and ChaCha20-Poly1305)
	AESNonceSize = 12

	// AESTagSize is the size of the AEAD authentication tag in bytes
	AESTagSize = 16

	// ConfirmInputSize is how many leading key bytes feed the
	// key-confirmation hash
	ConfirmInputSize = 16

	// ConfirmHashSize is the size of the key-confirmation hash in bytes
	ConfirmHashSize = 32
)

// Key derivation domain tags (SHAKE-256)
const (
	// DomainSeparatorAmplify is used for privacy amplification
	DomainSeparatorAmplify = "QKD-GO-v1-Amplify"

	// DomainSeparatorNonce is used for per-message nonce derivation
	DomainSeparatorNonce = "QKD-GO-v1-Nonce"

	// DomainSeparatorConfirm is used for the key-confirmation hash
	DomainSeparatorConfirm = "QKD-GO-v1-Confirm"
)

// Session parameters
const (
	// DefaultMaxRestarts is the number of consecutive failed rounds
	// (QBER or confirmation) tolerated before a session terminates
	DefaultMaxRestarts = 5

	// DefaultHandshakeTimeout bounds how long a session may sit in a
	// non-terminal, non-active state between transitions
	DefaultHandshakeTimeout = 30 * time.Second

	// MaxCounter is the message-counter ceiling; the channel refuses to
	// encrypt past it rather than wrap the 4-byte wire counter
	MaxCounter = 1<<32 - 1
)

// Message size limits
const (
	// MaxEnvelopeSize is the maximum encoded size of a protocol envelope
	MaxEnvelopeSize = 65536

	// MaxPlaintextSize is the maximum plaintext accepted for encryption;
	// hex expansion and envelope framing must stay under MaxEnvelopeSize
	MaxPlaintextSize = 16384

	// MaxFrameSize bounds a relay transport frame: an envelope plus the
	// frame wrapper
	MaxFrameSize = MaxEnvelopeSize + 1024
)

// Relay transport parameters
const (
	// DefaultRelayAddr is the default listen address of the relay server
	DefaultRelayAddr = ":8765"

	// RelayRegisterTimeout bounds the wait for a connection's first frame,
	// which must be a registration
	RelayRegisterTimeout = 10 * time.Second

	// RelayWelcomeTimeout bounds a client's wait for the welcome frame
	// after registering
	RelayWelcomeTimeout = 10 * time.Second

	// RelayPingInterval is how often the server pings an idle connection
	RelayPingInterval = 20 * time.Second

	// RelayPongWait is how long a connection may go without traffic or a
	// pong before it is dropped. Must exceed RelayPingInterval.
	RelayPongWait = 30 * time.Second

	// RelayWriteTimeout bounds a single frame write
	RelayWriteTimeout = 10 * time.Second

	// DefaultMaxConnsPerIP caps concurrent relay connections per source
	// address. Zero disables the cap.
	DefaultMaxConnsPerIP = 8

	// DefaultRegisterRate is the sustained registration rate the relay
	// accepts, in registrations per second
	DefaultRegisterRate = 5.0

	// DefaultRegisterBurst is the registration token-bucket size
	DefaultRegisterBurst = 10
)

// CipherSuite identifiers
type CipherSuite uint16

const (
	// CipherSuiteAES256GCM uses AES-256-GCM for symmetric encryption
	CipherSuiteAES256GCM CipherSuite = 0x0001

	// CipherSuiteChaCha20Poly1305 uses ChaCha20-Poly1305 for symmetric encryption
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0002
)

// String returns a human-readable name for the cipher suite
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is supported
func (cs CipherSuite) IsSupported() bool {
	return cs == CipherSuiteAES256GCM || cs == CipherSuiteChaCha20Poly1305
}
