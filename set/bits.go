// Package set implements packed bit-vectors used by dataflow analysis.
//
// A Bits value is a fixed-width vector over caller-provided word storage.
// The mutating set operations are word-parallel and report whether any bit
// changed, which is what iterative dataflow wants from its primitives.
package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Bits struct {
		b []uint64
	}
)

// WordsFor returns the number of machine words needed for n bits.
func WordsFor(n int) int {
	return (n + 63) / 64
}

// Wrap makes a bit-vector over the given storage.
func Wrap(words []uint64) Bits {
	return Bits{b: words}
}

func (s Bits) Set(i int) {
	s.b[i/64] |= 1 << (i % 64)
}

func (s Bits) Clear(i int) {
	s.b[i/64] &^= 1 << (i % 64)
}

func (s Bits) IsSet(i int) bool {
	i, j := i/64, i%64

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

// Or sets s |= x and reports whether s changed.
func (s Bits) Or(x Bits) bool {
	var changed uint64

	for i, w := range x.b {
		q := s.b[i] | w
		changed |= s.b[i] ^ q
		s.b[i] = q
	}

	return changed != 0
}

// And sets s &= x and reports whether s changed.
func (s Bits) And(x Bits) bool {
	var changed uint64

	for i, w := range x.b {
		q := s.b[i] & w
		changed |= s.b[i] ^ q
		s.b[i] = q
	}

	return changed != 0
}

// AndNot sets s &^= x and reports whether s changed.
func (s Bits) AndNot(x Bits) bool {
	var changed uint64

	for i, w := range x.b {
		q := s.b[i] &^ w
		changed |= s.b[i] ^ q
		s.b[i] = q
	}

	return changed != 0
}

// Xor sets s ^= x and reports whether s changed.
func (s Bits) Xor(x Bits) bool {
	var changed uint64

	for i, w := range x.b {
		q := s.b[i] ^ w
		changed |= s.b[i] ^ q
		s.b[i] = q
	}

	return changed != 0
}

// LiveIn sets s = (out | gen) &^ kill and reports whether s changed.
// The three-source form keeps the liveness fixed point branchless.
func (s Bits) LiveIn(out, gen, kill Bits) bool {
	var changed uint64

	for i := range s.b {
		q := (out.b[i] | gen.b[i]) &^ kill.b[i]
		changed |= s.b[i] ^ q
		s.b[i] = q
	}

	return changed != 0
}

func (s Bits) CopyFrom(x Bits) {
	copy(s.b, x.b)
}

func (s Bits) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s Bits) Size() (r int) {
	for _, w := range s.b {
		r += bits.OnesCount64(w)
	}

	return r
}

func (s Bits) IsEmpty() bool {
	for _, w := range s.b {
		if w != 0 {
			return false
		}
	}

	return true
}

// Equal reports whether two vectors of the same width carry the same bits.
func (s Bits) Equal(x Bits) bool {
	for i, w := range s.b {
		if w != x.b[i] {
			return false
		}
	}

	return true
}

func (s Bits) Range(f func(i int) bool) {
	for i, w := range s.b {
		if w == 0 {
			continue
		}

		for j := bits.TrailingZeros64(w); j < bits.Len64(w); j++ {
			if w&(1<<j) == 0 {
				continue
			}

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s Bits) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)

		return true
	})

	b = e.AppendBreak(b)

	return b
}
