// channel.go implements the keyed secure channel layered over an agreed
// session key.
//
// Nonce Discipline:
//
// Every message derives a fresh 12-byte nonce from the message counter and
// one random byte (SHAKE-256, domain separated). The counter advances in
// lockstep on both ends, one increment per message with no gaps, which
// assumes in-order lossless delivery from the transport. The explicit nonce
// still travels with each message, so a decrypt failure never desynchronizes
// the AEAD itself, only the counter check.
//
// Replay Protection:
//
// A counter mismatch rejects the message before any cryptographic work.
// This is deliberately strict: there is no acceptance window. A replayed,
// reordered, or dropped message surfaces immediately as ErrReplayDetected.
package session

import (
	"encoding/hex"
	"sync"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/crypto"
	"github.com/sara-star-quant/qkd-go/pkg/protocol"
)

// KeyedChannel encrypts and decrypts chat messages under an agreed session
// key with lockstep counters. Safe for concurrent use.
type KeyedChannel struct {
	mu          sync.Mutex
	aead        *crypto.AEAD
	suite       constants.CipherSuite
	sendCounter uint32
	recvCounter uint32
	closed      bool
}

// NewKeyedChannel creates a channel from a 32-byte session key. The key is
// expanded into the cipher state; the caller retains ownership of the key
// bytes and is responsible for zeroing them.
func NewKeyedChannel(key []byte, suite constants.CipherSuite) (*KeyedChannel, error) {
	aead, err := crypto.NewAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	return &KeyedChannel{
		aead:  aead,
		suite: suite,
	}, nil
}

// Encrypt seals plaintext under the current send counter and advances it.
//
// The returned payload carries the nonce, tag, ciphertext, and counter with
// binary fields hex-encoded for transport.
func (c *KeyedChannel) Encrypt(plaintext []byte) (*protocol.SecurePayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, qerrors.ErrSessionTerminated
	}
	if len(plaintext) == 0 || len(plaintext) > constants.MaxPlaintextSize {
		return nil, qerrors.ErrInvalidPlaintext
	}
	if c.sendCounter == constants.MaxCounter {
		return nil, qerrors.NewCryptoError("Encrypt", qerrors.ErrCounterExhausted)
	}

	var random [1]byte
	if err := crypto.SecureRandom(random[:]); err != nil {
		return nil, err
	}

	counter := c.sendCounter
	nonce, err := crypto.DeriveNonce(counter, random[0])
	if err != nil {
		return nil, err
	}

	sealed, err := c.aead.SealPooled(nonce, plaintext, nil)
	if err != nil {
		return nil, err
	}

	split := len(sealed) - constants.AESTagSize
	payload := &protocol.SecurePayload{
		Nonce:      hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(sealed[split:]),
		Ciphertext: hex.EncodeToString(sealed[:split]),
		Counter:    counter,
	}
	crypto.PutCryptoBuffer(sealed)

	c.sendCounter++
	return payload, nil
}

// Decrypt opens a secure payload. The counter must equal the expected
// receive counter exactly; a mismatch returns ErrReplayDetected before any
// cryptographic verification. On success the receive counter advances.
func (c *KeyedChannel) Decrypt(payload *protocol.SecurePayload) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, qerrors.ErrSessionTerminated
	}
	if payload == nil {
		return nil, qerrors.ErrInvalidPayload
	}

	if payload.Counter != c.recvCounter {
		return nil, qerrors.ErrReplayDetected
	}

	nonce, err := hex.DecodeString(payload.Nonce)
	if err != nil {
		return nil, qerrors.NewCryptoError("Decrypt", err)
	}
	if len(nonce) != constants.AESNonceSize {
		return nil, qerrors.NewCryptoError("Decrypt", qerrors.ErrInvalidNonce)
	}
	ciphertext, err := hex.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, qerrors.NewCryptoError("Decrypt", err)
	}
	tag, err := hex.DecodeString(payload.Tag)
	if err != nil {
		return nil, qerrors.NewCryptoError("Decrypt", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.OpenWithNonce(nonce, sealed, nil)
	if err != nil {
		return nil, err
	}

	c.recvCounter++
	return plaintext, nil
}

// Counters returns the current send and receive counters.
func (c *KeyedChannel) Counters() (send, recv uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCounter, c.recvCounter
}

// Suite returns the channel's cipher suite.
func (c *KeyedChannel) Suite() constants.CipherSuite {
	return c.suite
}

// Close marks the channel unusable and drops the cipher state. Closing an
// already closed channel is a no-op.
func (c *KeyedChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.aead = nil
}
