// Package crypto provides cryptographic primitives for the QKD-Go system.
// This package wraps Go's standard library cryptographic functions with
// additional safety checks and consistent error handling.
//
// Security Note: All random number generation uses crypto/rand which provides
// cryptographically secure random bytes from the operating system's CSPRNG.
package crypto

import (
	"crypto/rand"
	"io"
	"sync"

	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// SecureRandom reads cryptographically secure random bytes into the provided slice.
// It uses crypto/rand.Read which sources entropy from the OS CSPRNG.
//
// This function will only return an error if the system's random number generator
// fails, which should be treated as a critical system failure.
func SecureRandom(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return qerrors.NewCryptoError("SecureRandom", err)
	}
	return nil
}

// SecureRandomBytes returns n cryptographically secure random bytes.
// Returns an error if the system's CSPRNG fails.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MustSecureRandom reads cryptographically secure random bytes into the provided slice.
// It panics if the system's CSPRNG fails, as this indicates a critical system failure.
//
// Use this function only in contexts where CSPRNG failure should be unrecoverable.
func MustSecureRandom(b []byte) {
	if err := SecureRandom(b); err != nil {
		panic("crypto: failed to read from CSPRNG: " + err.Error())
	}
}

// MustSecureRandomBytes returns n cryptographically secure random bytes.
// It panics if the system's CSPRNG fails.
func MustSecureRandomBytes(n int) []byte {
	b := make([]byte, n)
	MustSecureRandom(b)
	return b
}

// Reader is an io.Reader that returns cryptographically secure random bytes.
// It wraps crypto/rand.Reader for consistent error handling.
var Reader = rand.Reader

// bitBufferSize is the refill granularity of a BitSource in bytes.
const bitBufferSize = 64

// BitSource draws uniform independent bits from a cryptographic reader.
// Each call to Bit consumes one bit of entropy; bytes are fetched from the
// underlying reader in bitBufferSize chunks and consumed LSB-first.
//
// A BitSource built with NewBitSource reads from the OS CSPRNG and routes
// refills through the RNG health checks when those are enabled. A source
// built with NewBitSourceFrom reads the given reader verbatim, which makes
// exchanges deterministic in tests.
//
// BitSource is safe for concurrent use.
type BitSource struct {
	mu      sync.Mutex
	r       io.Reader
	checked bool
	buf     [bitBufferSize]byte
	rem     int // unread bits remaining in buf
}

// NewBitSource returns a BitSource backed by the OS CSPRNG.
func NewBitSource() *BitSource {
	return &BitSource{r: rand.Reader, checked: true}
}

// NewBitSourceFrom returns a BitSource backed by the given reader.
// Intended for deterministic tests; health checks are bypassed.
func NewBitSourceFrom(r io.Reader) *BitSource {
	return &BitSource{r: r}
}

// Bit returns one uniform random bit.
func (s *BitSource) Bit() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitLocked()
}

// Bits returns n uniform random bits.
func (s *BitSource) Bits(n int) ([]uint8, error) {
	out := make([]uint8, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		b, err := s.bitLocked()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (s *BitSource) bitLocked() (uint8, error) {
	if s.rem == 0 {
		if err := s.refillLocked(); err != nil {
			return 0, err
		}
	}
	idx := len(s.buf)*8 - s.rem
	b := (s.buf[idx/8] >> (uint(idx) % 8)) & 1
	s.rem--
	return b, nil
}

func (s *BitSource) refillLocked() error {
	if s.checked {
		if err := SecureRandomChecked(s.buf[:]); err != nil {
			return err
		}
	} else {
		if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
			return qerrors.NewCryptoError("BitSource", err)
		}
	}
	s.rem = len(s.buf) * 8
	return nil
}

// ConstantTimeCompare compares two byte slices in constant time.
// Returns true if the slices are equal, false otherwise.
// This prevents timing attacks when comparing secrets.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

// Zeroize securely erases sensitive data from memory by overwriting with zeros.
// This should be called on sensitive keys and secrets when they are no longer needed.
//
// Note: The Go runtime may have already copied the data, and the compiler may
// optimize away the zeroing. For maximum security, consider using memory
// protections at the OS level in production deployments.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroizeMultiple securely erases multiple byte slices.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
