package bb84

import (
	"fmt"
	"sort"

	"github.com/sara-star-quant/qkd-go/internal/constants"
	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
	"github.com/sara-star-quant/qkd-go/pkg/crypto"
)

// Engine drives one side of a BB84 exchange. It owns the random source used
// for bit and basis generation and for simulated measurement collapse; the
// reconciliation kernels (Sift, QBER, ErrorCorrect, PrivacyAmplify,
// FinalKey) are pure functions and live at package level.
//
// An Engine is safe for concurrent use; its randomness comes from the
// underlying bit source, which serializes draws internally.
type Engine struct {
	src *crypto.BitSource
}

// NewEngine creates an Engine backed by the given bit source.
// A nil source selects the OS CSPRNG.
func NewEngine(src *crypto.BitSource) *Engine {
	if src == nil {
		src = crypto.NewBitSource()
	}
	return &Engine{src: src}
}

// Bit draws one uniform random bit.
func (e *Engine) Bit() (uint8, error) {
	return e.src.Bit()
}

// Basis draws one uniform random basis.
func (e *Engine) Basis() (Basis, error) {
	b, err := e.src.Bit()
	if err != nil {
		return 0, err
	}
	return Basis(b), nil
}

// Generate draws n independent (bit, basis) pairs for transmission.
func (e *Engine) Generate(n int) ([]Qubit, error) {
	qs := make([]Qubit, n)
	for i := range qs {
		bit, err := e.src.Bit()
		if err != nil {
			return nil, err
		}
		basis, err := e.src.Bit()
		if err != nil {
			return nil, err
		}
		qs[i] = Qubit{Bit: bit, Basis: Basis(basis)}
	}
	return qs, nil
}

// GenerateBases draws n independent measurement bases.
func (e *Engine) GenerateBases(n int) ([]Basis, error) {
	bs := make([]Basis, n)
	for i := range bs {
		b, err := e.Basis()
		if err != nil {
			return nil, err
		}
		bs[i] = b
	}
	return bs, nil
}

// Measure measures one qubit in the given basis. A matching basis
// reproduces the encoded bit; a mismatched basis collapses to a fresh
// uniform bit.
func (e *Engine) Measure(q Qubit, basis Basis) (uint8, error) {
	if basis == q.Basis {
		return q.Bit, nil
	}
	return e.src.Bit()
}

// MeasureAll measures each qubit in the corresponding basis.
func (e *Engine) MeasureAll(qs []Qubit, bases []Basis) ([]uint8, error) {
	if len(qs) != len(bases) {
		return nil, fmt.Errorf("%w: %d qubits, %d bases",
			qerrors.ErrLengthMismatch, len(qs), len(bases))
	}
	out := make([]uint8, len(qs))
	for i, q := range qs {
		bit, err := e.Measure(q, bases[i])
		if err != nil {
			return nil, err
		}
		out[i] = bit
	}
	return out, nil
}

// Intn draws a uniform integer in [0, n) by rejection sampling over the
// minimal bit width, so no modulo bias is introduced.
func (e *Engine) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("bb84: Intn bound %d out of range", n)
	}
	if n == 1 {
		return 0, nil
	}

	width := 0
	for 1<<width < n {
		width++
	}

	for {
		v := 0
		for i := 0; i < width; i++ {
			b, err := e.src.Bit()
			if err != nil {
				return 0, err
			}
			v = v<<1 | int(b)
		}
		if v < n {
			return v, nil
		}
	}
}

// SampleIndices selects k distinct indices from [0, n) uniformly at random
// and returns them in ascending order.
func (e *Engine) SampleIndices(n, k int) ([]int, error) {
	if k < 0 || k > n {
		return nil, fmt.Errorf("%w: sample %d of %d", qerrors.ErrLengthMismatch, k, n)
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	// Partial Fisher-Yates: after i swaps the first i entries are a
	// uniform k-subset prefix.
	for i := 0; i < k; i++ {
		j, err := e.Intn(n - i)
		if err != nil {
			return nil, err
		}
		idx[i], idx[i+j] = idx[i+j], idx[i]
	}

	sample := idx[:k]
	sort.Ints(sample)
	return sample, nil
}

// SampleSize returns how many sifted positions to reveal for error
// estimation: zero when the sifted key is too short to spare any bits,
// otherwise a quarter of it (rounded up) with a floor of MinSampleSize.
func SampleSize(sifted int) int {
	if sifted < constants.MinSiftedForSampling {
		return 0
	}
	size := (sifted + constants.SampleDivisor - 1) / constants.SampleDivisor
	if size < constants.MinSampleSize {
		size = constants.MinSampleSize
	}
	return size
}

// Sift keeps the positions where both sides chose the same basis,
// preserving order, and returns each side's kept bit subsequence.
// All four inputs must have equal length.
func Sift(aBits []uint8, aBases []Basis, bBits []uint8, bBases []Basis) ([]uint8, []uint8, error) {
	n := len(aBits)
	if len(aBases) != n || len(bBits) != n || len(bBases) != n {
		return nil, nil, fmt.Errorf("%w: %d/%d bits, %d/%d bases",
			qerrors.ErrLengthMismatch, len(aBits), len(bBits), len(aBases), len(bBases))
	}

	aSift := make([]uint8, 0, n)
	bSift := make([]uint8, 0, n)
	for i := 0; i < n; i++ {
		if aBases[i] == bBases[i] {
			aSift = append(aSift, aBits[i])
			bSift = append(bSift, bBits[i])
		}
	}
	return aSift, bSift, nil
}

// QBER returns the quantum bit error rate between two sifted sequences as
// a percentage. Empty or unequal-length input carries no information to
// trust and rates as 100.
func QBER(aSift, bSift []uint8) float64 {
	if len(aSift) == 0 || len(aSift) != len(bSift) {
		return 100.0
	}

	mismatches := 0
	for i := range aSift {
		if aSift[i] != bSift[i] {
			mismatches++
		}
	}
	return float64(mismatches) / float64(len(aSift)) * 100
}

// ErrorCorrect smooths residual errors by majority voting over consecutive
// blocks of CorrectionBlockSize bits: every bit in a full block is replaced
// by the block's majority value. A trailing partial block is left unchanged.
// Each peer applies this to its own sifted bits independently; when a
// block's majorities differ across peers the outputs still disagree, which
// the key-confirmation exchange catches.
func ErrorCorrect(bits []uint8) []uint8 {
	out := make([]uint8, len(bits))
	copy(out, bits)

	block := constants.CorrectionBlockSize
	for i := 0; i+block <= len(out); i += block {
		ones := 0
		for j := i; j < i+block; j++ {
			if out[j] == 1 {
				ones++
			}
		}
		var majority uint8
		if ones*2 > block {
			majority = 1
		}
		for j := i; j < i+block; j++ {
			out[j] = majority
		}
	}
	return out
}

// RemoveIndices returns bits with the positions named in indices deleted.
// Indices must be ascending and in range; order of the surviving bits is
// preserved.
func RemoveIndices(bits []uint8, indices []int) []uint8 {
	if len(indices) == 0 {
		out := make([]uint8, len(bits))
		copy(out, bits)
		return out
	}

	out := make([]uint8, 0, len(bits))
	next := 0
	for i, b := range bits {
		if next < len(indices) && indices[next] == i {
			next++
			continue
		}
		out = append(out, b)
	}
	return out
}

// PackBits packs a bit string into bytes MSB-first. Trailing bits that do
// not complete a full byte are dropped, not padded.
func PackBits(bits []uint8) []byte {
	n := len(bits) / 8
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b |= bits[i*8+j] << (7 - j)
		}
		out[i] = b
	}
	return out
}

// UnpackBits expands bytes into a bit string MSB-first.
func UnpackBits(data []byte) []uint8 {
	out := make([]uint8, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			out[i*8+j] = (b >> (7 - j)) & 1
		}
	}
	return out
}

// PrivacyAmplify compresses a reconciled bit string into AmplifiedBits
// uniformly distributed key bits:
//
//  1. Pack the bits into bytes, dropping any trailing partial byte.
//  2. Hash the byte string under the amplification domain tag.
//  3. Expand the digest back into bits, truncated to AmplifiedBits.
//
// Fewer than eight input bits pack to nothing and yield an empty result.
func PrivacyAmplify(bits []uint8) ([]uint8, error) {
	packed := PackBits(bits)
	if len(packed) == 0 {
		return nil, nil
	}

	hashed, err := crypto.Amplify(packed)
	if err != nil {
		return nil, err
	}

	out := UnpackBits(hashed)
	if len(out) > constants.AmplifiedBits {
		out = out[:constants.AmplifiedBits]
	}
	return out, nil
}

// FinalKey derives the session key from a reconciled bit string: privacy
// amplification, byte packing, zero-padding if fewer than SessionKeySize
// bytes were produced, truncation to exactly SessionKeySize bytes.
func FinalKey(bits []uint8) ([]byte, error) {
	amplified, err := PrivacyAmplify(bits)
	if err != nil {
		return nil, err
	}

	key := make([]byte, constants.SessionKeySize)
	copy(key, PackBits(amplified))
	return key, nil
}
