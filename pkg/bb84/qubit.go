// Package bb84 implements a simulated BB84 quantum key distribution exchange.
//
// BB84 derives a shared secret from randomly basis-encoded bits: the
// initiator encodes each random bit in a randomly chosen basis, the
// responder measures each incoming state in its own random basis, and the
// two sides then discard every position where their basis choices differed.
// Basis mismatch statistics over a revealed sample expose eavesdropping or
// channel noise as an elevated error rate.
//
// # Protocol Outline
//
//  1. Generation: the initiator draws n random (bit, basis) pairs and
//     transmits each as one of four state symbols.
//  2. Measurement: the responder draws n random bases and measures each
//     received state; a matching basis reproduces the encoded bit, a
//     mismatched basis yields a uniform random bit.
//  3. Sifting: both sides reveal bases and keep only the positions where
//     the bases agreed.
//  4. Error estimation: a revealed sample of sifted positions estimates
//     the quantum bit error rate (QBER).
//  5. Reconciliation and amplification: block majority voting smooths
//     residual errors, then a hash compresses the bit string into
//     uniformly distributed key material.
//
// # Simulation Model
//
// No physical qubit dynamics are simulated. Measurement collapse in a
// mismatched basis is modeled as a fresh uniform coin flip, which is the
// only property the key-derivation statistics depend on. All randomness
// comes from a cryptographically secure bit source.
package bb84

import (
	"fmt"

	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// Basis identifies the encoding or measurement basis of one qubit.
type Basis uint8

const (
	// BasisZ is the rectilinear (computational) basis.
	BasisZ Basis = 0

	// BasisX is the diagonal (Hadamard) basis.
	BasisX Basis = 1
)

// String returns the conventional one-letter basis label.
func (b Basis) String() string {
	if b == BasisX {
		return "X"
	}
	return "Z"
}

// Int returns the wire representation of the basis (0 for Z, 1 for X).
func (b Basis) Int() int {
	return int(b)
}

// BasisFromInt converts a wire value back to a Basis.
func BasisFromInt(v int) (Basis, error) {
	switch v {
	case 0:
		return BasisZ, nil
	case 1:
		return BasisX, nil
	default:
		return 0, fmt.Errorf("%w: %d", qerrors.ErrInvalidBasis, v)
	}
}

// BasesFromInts converts a wire basis list back to Basis values.
func BasesFromInts(vs []int) ([]Basis, error) {
	out := make([]Basis, len(vs))
	for i, v := range vs {
		b, err := BasisFromInt(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// BasesToInts converts Basis values to their wire representation.
func BasesToInts(bs []Basis) []int {
	out := make([]int, len(bs))
	for i, b := range bs {
		out[i] = b.Int()
	}
	return out
}

// Qubit is one simulated quantum state as a (bit, basis) pair. Qubits exist
// only during generation and measurement and are never persisted.
type Qubit struct {
	Bit   uint8
	Basis Basis
}

// State symbols in ket notation. A bit encoded in the Z basis transmits as
// |0⟩ or |1⟩; a bit encoded in the X basis transmits as |+⟩ or |-⟩.
const (
	SymbolZero  = "|0⟩"
	SymbolOne   = "|1⟩"
	SymbolPlus  = "|+⟩"
	SymbolMinus = "|-⟩"

	// symbolMinusAlt is the U+2212 minus-sign spelling of SymbolMinus,
	// accepted on decode for interoperability with typeset senders.
	symbolMinusAlt = "|−⟩"
)

// Symbol returns the wire symbol encoding this qubit's (bit, basis) pair.
func (q Qubit) Symbol() string {
	if q.Basis == BasisZ {
		if q.Bit == 0 {
			return SymbolZero
		}
		return SymbolOne
	}
	if q.Bit == 0 {
		return SymbolPlus
	}
	return SymbolMinus
}

// ParseSymbol decodes a wire symbol back into a (bit, basis) pair.
// Unknown symbols are rejected.
func ParseSymbol(s string) (Qubit, error) {
	switch s {
	case SymbolZero:
		return Qubit{Bit: 0, Basis: BasisZ}, nil
	case SymbolOne:
		return Qubit{Bit: 1, Basis: BasisZ}, nil
	case SymbolPlus:
		return Qubit{Bit: 0, Basis: BasisX}, nil
	case SymbolMinus, symbolMinusAlt:
		return Qubit{Bit: 1, Basis: BasisX}, nil
	default:
		return Qubit{}, fmt.Errorf("%w: %q", qerrors.ErrInvalidSymbol, s)
	}
}

// EncodeSymbols encodes a qubit sequence as wire symbols.
func EncodeSymbols(qs []Qubit) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Symbol()
	}
	return out
}

// ParseSymbols decodes a wire symbol sequence. The first invalid symbol
// aborts the decode.
func ParseSymbols(ss []string) ([]Qubit, error) {
	out := make([]Qubit, len(ss))
	for i, s := range ss {
		q, err := ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Bits extracts the bit sequence from a qubit sequence.
func Bits(qs []Qubit) []uint8 {
	out := make([]uint8, len(qs))
	for i, q := range qs {
		out[i] = q.Bit
	}
	return out
}

// Bases extracts the basis sequence from a qubit sequence.
func Bases(qs []Qubit) []Basis {
	out := make([]Basis, len(qs))
	for i, q := range qs {
		out[i] = q.Basis
	}
	return out
}
