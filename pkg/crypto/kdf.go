// Package crypto implements key derivation functions using SHAKE-256 (SHA-3 XOF).
//
// This file (kdf.go) uses SHAKE-256 (FIPS 202), an extendable-output function (XOF) based on the
// Keccak sponge construction. It provides 256-bit security against collision
// and preimage attacks, and 128-bit security against length-extension attacks.
//
// Mathematical Foundation:
//
// SHAKE-256 uses the Keccak-f[1600] permutation with rate r = 1088 and
// capacity c = 512. The sponge construction:
//
// 1. Absorb: Process message blocks through the permutation
// 2. Squeeze: Extract arbitrary-length output
//
// Security Properties:
//   - 256-bit preimage and collision resistance
//   - Extendable output: can generate arbitrary length keys
//   - No length-extension attacks (unlike SHA-2)
//   - Domain separation prevents key/message confusion
//
// Usage in QKD-Go:
// The same construction backs three derivations with distinct domain tags:
// privacy amplification of the sifted bit string, per-message nonce
// derivation, and the key-confirmation hash.
package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// DeriveKey derives a key using SHAKE-256 with domain separation.
//
// The derivation follows the construction:
//
//	output = SHAKE-256(
//	    domain_separator_length || domain_separator ||
//	    input_length || input,
//	    output_length
//	)
//
// Length prefixes are 4-byte big-endian integers to ensure unambiguous parsing.
//
// Parameters:
//   - domain: Domain separation string (prevents cross-protocol attacks)
//   - input: Secret input material to derive from
//   - outputLen: Desired output length in bytes
//
// Returns:
//   - derived: The derived key material
//   - error: Non-nil if parameters are invalid
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 { // Max 1MB
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()

	// Write domain separator with length prefix
	domainBytes := []byte(domain)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	// Write input with length prefix
	binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
	h.Write(lenBuf)
	h.Write(input)

	// Extract output
	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// DeriveKeyMultiple derives a key from multiple inputs with domain separation.
//
// Each input is length-prefixed, and the input count is absorbed before the
// inputs, so no concatenation of distinct input lists can collide.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 {
		return nil, qerrors.NewCryptoError("DeriveKeyMultiple", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	lenBuf := make([]byte, 4)

	// Write domain separator with length prefix
	domainBytes := []byte(domain)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	// Write number of inputs
	binary.BigEndian.PutUint32(lenBuf, uint32(len(inputs)))
	h.Write(lenBuf)

	// Write each input with length prefix
	for _, input := range inputs {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
		h.Write(lenBuf)
		h.Write(input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output)

	return output, nil
}

// DeriveNonce derives a 12-byte AEAD nonce for one secure message.
//
// The nonce binds the message counter (4 bytes big-endian) and one byte of
// fresh randomness under the nonce domain tag:
//
//	nonce = SHAKE-256(tag || counter_be32 || random_byte)[:12]
//
// The random byte makes nonces unpredictable to an observer who knows the
// counter; uniqueness per key still rests on the counter discipline, which
// is why the channel refuses counter reuse.
func DeriveNonce(counter uint32, random byte) ([]byte, error) {
	counterBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(counterBytes, counter)

	return DeriveKeyMultiple(constants.DomainSeparatorNonce,
		[][]byte{counterBytes, {random}}, constants.AESNonceSize)
}

// ConfirmationHash computes the key-confirmation digest both peers exchange
// before adopting a candidate key. Only the first ConfirmInputSize bytes of
// the candidate feed the hash, so the digest confirms agreement without
// revealing material that the channel keys depend on alone.
func ConfirmationHash(candidate []byte) ([]byte, error) {
	if len(candidate) < constants.ConfirmInputSize {
		return nil, qerrors.NewCryptoError("ConfirmationHash", qerrors.ErrInvalidKeySize)
	}

	return DeriveKey(constants.DomainSeparatorConfirm,
		candidate[:constants.ConfirmInputSize], constants.ConfirmHashSize)
}

// Amplify compresses a packed bit string into uniformly distributed key
// material under the privacy-amplification domain tag. The output length is
// the amplified key size in bytes.
func Amplify(packed []byte) ([]byte, error) {
	return DeriveKey(constants.DomainSeparatorAmplify, packed,
		constants.AmplifiedBits/8)
}
