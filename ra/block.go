package ra

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/set"
)

type (
	BlockFlags uint32

	// Block is one basic block of the function's control-flow graph.
	Block struct {
		ID    int
		Flags BlockFlags

		// First and Last bound the block's nodes, both inclusive.
		First, Last *cc.Node

		// Weight grows by one for each loop containing the block,
		// a later spill-cost heuristic.
		Weight int

		// POVOrder is the block's position in the post-order view.
		POVOrder int

		Stats RegStats

		// IDom is the immediate dominator; the entry block points at
		// itself.
		IDom *Block

		// Loop is the innermost loop containing the block, nil outside
		// of any loop.
		Loop *Loop

		// Predecessors and Successors are kept symmetric and
		// duplicate-free; use appendSuccessor/prependSuccessor.
		// Successors[0] is the fall-through after a conditional jump.
		Predecessors []*Block
		Successors   []*Block

		In, Out, Gen, Kill set.Bits
	}

	LoopFlags uint32

	// Loop is one natural loop discovered from back-edges.
	Loop struct {
		ID     int
		Flags  LoopFlags
		Parent *Loop

		Header *Block
		body   set.Bits // block ids
	}
)

const (
	BlockConstructed BlockFlags = 1 << iota
	BlockSinglePass
	BlockHasLiveness
	BlockHasFixedRegs
	BlockHasFuncCalls
)

const (
	LoopHasNested LoopFlags = 1 << iota
)

func (b *Block) Has(f BlockFlags) bool { return b.Flags&f != 0 }
func (b *Block) add(f BlockFlags)      { b.Flags |= f }

func (b *Block) IsConstructed() bool { return b.Has(BlockConstructed) }

func (b *Block) makeConstructed(stats RegStats) {
	b.Flags |= BlockConstructed
	b.Stats.CombineWith(stats)
}

func (b *Block) IsEntry() bool { return len(b.Predecessors) == 0 }
func (b *Block) IsExit() bool  { return len(b.Successors) == 0 }

func (b *Block) hasSuccessor(x *Block) bool {
	for _, s := range b.Successors {
		if s == x {
			return true
		}
	}

	return false
}

// appendSuccessor connects b -> s on both sides.
func (b *Block) appendSuccessor(s *Block) {
	if b.hasSuccessor(s) {
		return
	}

	b.Successors = append(b.Successors, s)
	s.Predecessors = append(s.Predecessors, b)
}

// prependSuccessor is appendSuccessor placing s first. Used for the
// fall-through block after a conditional jump target has been added.
func (b *Block) prependSuccessor(s *Block) {
	if b.hasSuccessor(s) {
		return
	}

	b.Successors = append([]*Block{s}, b.Successors...)
	s.Predecessors = append(s.Predecessors, b)
}

func (b *Block) TlogAppend(w []byte) []byte {
	var e tlwire.Encoder

	w = e.AppendMap(w, 3)

	w = e.AppendKeyInt(w, "id", b.ID)
	w = e.AppendKeyInt(w, "pov", b.POVOrder)
	w = e.AppendKeyInt(w, "succ", len(b.Successors))

	return w
}
