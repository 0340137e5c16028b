// Package crypto implements cryptographic primitives for QKD-Go.
//
// This file (buffer_pool.go) provides buffer pooling to reduce memory
// allocations during encryption, which matters once a channel carries
// sustained message traffic. The pool uses size classes covering typical
// sealed-message sizes.
package crypto

import (
	"sync"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// BufferPool provides pooled byte slices for cryptographic operations.
type BufferPool struct {
	// Small ciphertext buffers (typical messages up to 1KB)
	small sync.Pool

	// Medium ciphertext buffers (up to the plaintext ceiling, 16KB)
	medium sync.Pool

	// Large ciphertext buffers (up to 64KB, oversize payload headroom)
	large sync.Pool
}

// Buffer size class thresholds. Sealed output is plaintext plus tag; the
// nonce travels separately and is never part of the ciphertext buffer.
const (
	smallCryptoBufferSize  = 1024 + constants.AESTagSize
	mediumCryptoBufferSize = constants.MaxPlaintextSize + constants.AESTagSize
	largeCryptoBufferSize  = 64*1024 + constants.AESTagSize
)

// globalCryptoPool is the default crypto buffer pool instance.
var globalCryptoPool = NewBufferPool()

// NewBufferPool creates a new crypto buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, smallCryptoBufferSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, mediumCryptoBufferSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, largeCryptoBufferSize)
				return &buf
			},
		},
	}
}

// GetCiphertext returns a ciphertext buffer of at least the requested size.
// The size should include space for tag overhead.
func (p *BufferPool) GetCiphertext(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte

	switch {
	case size <= smallCryptoBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumCryptoBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeCryptoBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// Too large for pool, allocate directly
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// PutCiphertext returns a ciphertext buffer to the pool.
func (p *BufferPool) PutCiphertext(buf []byte) {
	if buf == nil {
		return
	}

	bufCap := cap(buf)
	if bufCap == 0 {
		return
	}

	// Extend slice to full capacity for zeroing
	buf = buf[:bufCap]

	// Zero before returning to pool (clear any key material)
	for i := range buf {
		buf[i] = 0
	}

	bufPtr := &buf

	switch bufCap {
	case smallCryptoBufferSize:
		p.small.Put(bufPtr)
	case mediumCryptoBufferSize:
		p.medium.Put(bufPtr)
	case largeCryptoBufferSize:
		p.large.Put(bufPtr)
	// Non-standard sizes are not returned to pool
	}
}

// GetCryptoBuffer returns a buffer from the global crypto pool.
func GetCryptoBuffer(size int) []byte {
	return globalCryptoPool.GetCiphertext(size)
}

// PutCryptoBuffer returns a buffer to the global crypto pool.
func PutCryptoBuffer(buf []byte) {
	globalCryptoPool.PutCiphertext(buf)
}

// SealPooled encrypts into a pooled ciphertext buffer using the provided
// nonce. The returned slice is ciphertext || tag; the caller must call
// PutCryptoBuffer on it once the bytes have been copied out or encoded.
func (a *AEAD) SealPooled(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AESNonceSize {
		return nil, qerrors.NewCryptoError("SealPooled", qerrors.ErrInvalidNonce)
	}

	ciphertext := GetCryptoBuffer(len(plaintext) + a.cipher.Overhead())

	// Encrypt in place into the pooled buffer
	a.cipher.Seal(ciphertext[:0], nonce, plaintext, additionalData)

	return ciphertext, nil
}
