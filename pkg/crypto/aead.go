// Package crypto implements authenticated encryption (AEAD) for secure messages.
//
// This file (aead.go) wraps AES-256-GCM and ChaCha20-Poly1305 behind one
// explicit-nonce interface.
//
// Mathematical Foundation:
//
// AES-256-GCM (Galois/Counter Mode):
//   - Encryption: CTR mode with AES-256
//   - Authentication: GHASH over GF(2^128)
//   - Output: ciphertext || tag(16 bytes)
//
// ChaCha20-Poly1305:
//   - Encryption: ChaCha20 stream cipher
//   - Authentication: Poly1305 one-time MAC
//   - Constant-time without hardware acceleration
//
// Nonce Discipline:
//
// Nonces are derived by the caller (see DeriveNonce) from the message counter
// plus a random byte and passed in explicitly; this type never invents a
// nonce. With a 96-bit nonce the single-key safety bound of 2^32 messages is
// enforced upstream by the 4-byte counter ceiling.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// AEAD provides authenticated encryption with associated data.
// It supports AES-256-GCM and ChaCha20-Poly1305 cipher suites.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite
}

// NewAEAD creates a new AEAD cipher with the specified suite and key.
//
// Parameters:
//   - suite: The cipher suite to use
//   - key: 32-byte encryption key
//
// Returns an error if the key size is wrong or the suite is unsupported.
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	if len(key) != constants.AESKeySize {
		return nil, qerrors.NewCryptoError("NewAEAD", qerrors.ErrInvalidKeySize)
	}

	var aead cipher.AEAD
	var err error

	switch suite {
	case constants.CipherSuiteAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	case constants.CipherSuiteChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	default:
		return nil, qerrors.NewCryptoError("NewAEAD", qerrors.ErrUnsupportedCipherSuite)
	}

	return &AEAD{
		cipher: aead,
		suite:  suite,
	}, nil
}

// SealWithNonce encrypts plaintext with the provided 12-byte nonce.
// The returned slice is ciphertext || tag; the nonce is NOT prepended.
// Nonce uniqueness per key is the caller's responsibility.
func (a *AEAD) SealWithNonce(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AESNonceSize {
		return nil, qerrors.NewCryptoError("SealWithNonce", qerrors.ErrInvalidNonce)
	}

	return a.cipher.Seal(nil, nonce, plaintext, additionalData), nil
}

// OpenWithNonce decrypts ciphertext || tag with the provided 12-byte nonce.
// On authentication failure no plaintext bytes are returned.
func (a *AEAD) OpenWithNonce(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AESNonceSize {
		return nil, qerrors.NewCryptoError("OpenWithNonce", qerrors.ErrInvalidNonce)
	}
	if len(ciphertext) < constants.AESTagSize {
		return nil, qerrors.NewCryptoError("OpenWithNonce", qerrors.ErrCiphertextTooShort)
	}

	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.NewCryptoError("OpenWithNonce", qerrors.ErrAuthenticationFailed)
	}

	return plaintext, nil
}

// Suite returns the cipher suite in use.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the tag size added to each sealed message.
func (a *AEAD) Overhead() int {
	return a.cipher.Overhead()
}

// NonceSize returns the required nonce size in bytes.
func (a *AEAD) NonceSize() int {
	return a.cipher.NonceSize()
}
