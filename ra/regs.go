package ra

import (
	"github.com/xantares/asmjit/cc"
)

type (
	// RegStats is a packed per-kind summary: which kinds were used,
	// precolored, or clobbered. Propagated instruction -> block -> func.
	RegStats uint32

	// RegMask holds one physical-register mask per register kind.
	RegMask [cc.MaxKinds]uint32

	// RegCount holds one small counter per register kind.
	RegCount [cc.MaxKinds]uint8
)

const (
	statsPrecolored = 0
	statsClobbered  = 8
	statsUsed       = 16
)

func (s *RegStats) Reset()                  { *s = 0 }
func (s *RegStats) CombineWith(x RegStats)  { *s |= x }
func (s *RegStats) MakeUsed(k cc.Kind)      { *s |= 1 << (statsUsed + uint(k)) }
func (s *RegStats) MakePrecolored(k cc.Kind) { *s |= 1 << (statsPrecolored + uint(k)) }
func (s *RegStats) MakeClobbered(k cc.Kind) { *s |= 1 << (statsClobbered + uint(k)) }

func (s RegStats) HasUsed() bool       { return s&(0xFF<<statsUsed) != 0 }
func (s RegStats) HasPrecolored() bool { return s&(0xFF<<statsPrecolored) != 0 }
func (s RegStats) HasClobbered() bool  { return s&(0xFF<<statsClobbered) != 0 }

func (s RegStats) UsedKind(k cc.Kind) bool       { return s&(1<<(statsUsed+uint(k))) != 0 }
func (s RegStats) PrecoloredKind(k cc.Kind) bool { return s&(1<<(statsPrecolored+uint(k))) != 0 }
func (s RegStats) ClobberedKind(k cc.Kind) bool  { return s&(1<<(statsClobbered+uint(k))) != 0 }

func (m *RegMask) Reset() {
	for i := range m {
		m[i] = 0
	}
}

func (m RegMask) IsEmpty() bool {
	var x uint32

	for _, v := range m {
		x |= v
	}

	return x == 0
}

func (m *RegMask) Or(x RegMask) {
	for i, v := range x {
		m[i] |= v
	}
}

func (m *RegMask) And(x RegMask) {
	for i, v := range x {
		m[i] &= v
	}
}

func (m *RegMask) AndNot(x RegMask) {
	for i, v := range x {
		m[i] &^= v
	}
}

func (c *RegCount) Reset() {
	for i := range c {
		c[i] = 0
	}
}

func (c *RegCount) Add(k cc.Kind, n int) {
	c[k] += uint8(n)
}

func (c RegCount) Get(k cc.Kind) int {
	return int(c[k])
}

// IndexFrom builds per-kind start indexes from per-kind counts, so that
// kind groups are laid out back to back.
func (c *RegCount) IndexFrom(count RegCount) {
	x := count[0]
	y := count[1] + x
	z := count[2] + y

	*c = RegCount{0, x, y, z}
}
