package ra

import (
	"github.com/xantares/asmjit/cc"
)

type (
	// JumpType classifies how an instruction leaves its block.
	JumpType uint8

	// OpRole describes how one operand position uses its register:
	// role flags plus optional fixed physical ids (AnyReg means any).
	OpRole struct {
		RPhys uint8
		WPhys uint8
		Flags TiedFlags
	}

	// Arch is the only architecture-specific dependency of the pass.
	// Swapping the adapter swaps targets.
	Arch interface {
		Name() string

		// RegCount returns the number of machine registers of a kind,
		// zero for kinds the target does not have.
		RegCount(kind cc.Kind) int

		// Allocable returns the mask of registers of a kind the
		// allocator may freely assign.
		Allocable(kind cc.Kind) uint32

		// Volatile returns the registers of a kind clobbered by a call.
		Volatile(kind cc.Kind) uint32

		// OnInst tags every register the instruction touches into tb
		// and classifies the instruction's jump type. It is the place
		// where fixed-register architecture quirks live.
		OnInst(n *cc.Node, tb *TiedBuilder) (JumpType, error)
	}
)

const (
	JumpNone JumpType = iota
	JumpConditional
	JumpDirect
)

// AnyReg is the "no fixed register" sentinel for physical ids.
const AnyReg uint8 = 0xFF
