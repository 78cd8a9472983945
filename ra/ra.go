// Package ra implements the register-allocation pass framework: control
// flow graph construction over the code-compiler node list, post-order
// view, dominator tree, natural loops, and live-variable analysis over
// packed bit-vectors. Register assignment itself plugs in behind this
// analysis and is not part of the package.
package ra

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/arena"
	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/set"
)

// Stable error values exposed to the code-compiler driver.
var (
	ErrNoHeapMemory       = arena.ErrNoMemory
	ErrInvalidArch        = errors.New("invalid architecture")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrInvalidVirtID      = errors.New("invalid virtual register id")
	ErrInvalidState       = errors.New("invalid state")
	ErrOverlappedRegs     = errors.New("overlapped fixed registers")
)

type (
	// Pass runs register-allocation analysis one function at a time.
	// A Pass owns no memory between runs: everything it builds lives in
	// the arena handed to RunOnFunction and dies with it.
	Pass struct {
		// Observer, when set, runs after a successful analysis and
		// before the pass tears its structures down. It is the only
		// window where callers may inspect blocks and liveness.
		Observer func(p *Pass)

		arch Arch
		cc   *cc.Compiler

		arena *arena.Arena
		fn    *cc.Func
		stop  *cc.Node

		blocks []*Block
		exits  []*Block
		pov    []*Block
		loops  []*Loop

		workRegs   []*WorkReg
		workByKind [cc.MaxKinds][]*WorkReg

		// Side tables keyed by virtual id, the per-pass replacement for
		// back-pointers inside VirtReg. Dropped wholesale on exit.
		workOf  []*WorkReg
		tiedIdx []int

		blockOfLabel []*Block

		// raData is keyed by node position stamp, assigned during the
		// CFG scan.
		raData []*Data

		archRegCount RegCount
		allocable    RegMask
		clobberedAll RegMask
		nodesCount   int

		// Visitor marks for dominator queries, one generation per
		// query instead of a mutable timestamp on the block.
		mark    []uint64
		markGen uint64

		blockSlab *arena.Slab[Block]
		loopSlab  *arena.Slab[Loop]
		workSlab  *arena.Slab[WorkReg]
		dataSlab  *arena.Slab[Data]

		tiedChunk []TiedReg

		tb TiedBuilder
	}
)

// New creates a pass for one target architecture over the compiler's
// virtual-register and label tables.
func New(arch Arch, c *cc.Compiler) (*Pass, error) {
	if arch == nil {
		return nil, ErrInvalidArch
	}

	return &Pass{arch: arch, cc: c}, nil
}

// Blocks exposes the block list while the pass holds it, i.e. inside the
// Observer window; after RunOnFunction returns everything is torn down.
func (p *Pass) Blocks() []*Block     { return p.blocks }
func (p *Pass) Exits() []*Block      { return p.exits }
func (p *Pass) POV() []*Block        { return p.pov }
func (p *Pass) Loops() []*Loop       { return p.loops }
func (p *Pass) WorkRegs() []*WorkReg { return p.workRegs }

// Entry returns the entry block, blocks[0] by construction.
func (p *Pass) Entry() *Block {
	return p.blocks[0]
}

// Data returns the per-instruction record attached during CFG
// construction, nil for nodes that carry none.
func (p *Pass) Data(n *cc.Node) *Data {
	return p.data(n)
}

// WorkRegOf maps a virtual id to its work register, nil if the function
// never references it.
func (p *Pass) WorkRegOf(virtID int) *WorkReg {
	if virtID < 0 || virtID >= len(p.workOf) {
		return nil
	}

	return p.workOf[virtID]
}

// RunOnFunction runs the five analysis steps on fn. All pass-owned
// structures are allocated from a; the arena is reset before return, no
// matter whether the pass succeeded, and with it every side table the
// pass kept for the function's virtual registers.
func (p *Pass) RunOnFunction(ctx context.Context, a *arena.Arena, fn *cc.Func) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "ra: run on function", "name", fn.Name)
	defer tr.Finish("err", &err)

	if fn == nil || fn.First == nil || fn.End == nil {
		return errors.Wrap(ErrInvalidState, "no function body")
	}

	p.init(a, fn)

	defer func() {
		p.onDone()
		p.resetTables()
		a.Reset()
	}()

	err = p.constructCFG(ctx)
	if err != nil {
		return errors.Wrap(err, "construct cfg")
	}

	err = p.constructPOV(ctx)
	if err != nil {
		return errors.Wrap(err, "construct pov")
	}

	err = p.constructDOM(ctx)
	if err != nil {
		return errors.Wrap(err, "construct dom")
	}

	err = p.constructLoops(ctx)
	if err != nil {
		return errors.Wrap(err, "construct loops")
	}

	err = p.constructLiveness(ctx)
	if err != nil {
		return errors.Wrap(err, "construct liveness")
	}

	if p.Observer != nil {
		p.Observer(p)
	}

	return nil
}

func (p *Pass) init(a *arena.Arena, fn *cc.Func) {
	p.arena = a
	p.fn = fn
	p.stop = fn.End.Next

	p.blockSlab = arena.NewSlab[Block](a)
	p.loopSlab = arena.NewSlab[Loop](a)
	p.workSlab = arena.NewSlab[WorkReg](a)
	p.dataSlab = arena.NewSlab[Data](a)

	n := p.cc.VirtRegCount()

	p.workOf = make([]*WorkReg, n)
	p.tiedIdx = make([]int, n)

	for i := range p.tiedIdx {
		p.tiedIdx[i] = -1
	}

	p.archRegCount.Reset()
	p.allocable.Reset()
	p.clobberedAll.Reset()

	for k := cc.Kind(0); k < cc.MaxKinds; k++ {
		p.archRegCount.Add(k, p.arch.RegCount(k))
		p.allocable[k] = p.arch.Allocable(k)
	}
}

// onDone publishes the prolog/epilog contract to the function. It runs
// even when a step failed, on whatever was computed so far.
func (p *Pass) onDone() {
	var frame cc.FrameHint

	for _, b := range p.blocks {
		for k := cc.Kind(0); k < cc.MaxKinds; k++ {
			if b.Stats.UsedKind(k) {
				frame.Used[k] |= p.allocable[k]
			}
		}

		if b.Has(BlockHasFuncCalls) {
			frame.HasCalls = true
		}
	}

	frame.Clobbered = [cc.MaxKinds]uint32(p.clobberedAll)

	p.fn.Frame = frame
}

// resetTables drops every side table so no virtual register keeps a link
// into the pass after return.
func (p *Pass) resetTables() {
	p.blocks = nil
	p.exits = nil
	p.pov = nil
	p.loops = nil
	p.workRegs = nil

	for k := range p.workByKind {
		p.workByKind[k] = nil
	}

	p.workOf = nil
	p.tiedIdx = nil
	p.blockOfLabel = nil
	p.raData = nil
	p.mark = nil
	p.markGen = 0
	p.tiedChunk = nil

	p.blockSlab = nil
	p.loopSlab = nil
	p.workSlab = nil
	p.dataSlab = nil

	p.fn = nil
	p.stop = nil
	p.arena = nil
}

func (p *Pass) kindOf(virtID int) cc.Kind {
	return p.cc.VirtRegAt(virtID).Kind
}

// workRegOf returns the work register of v, creating it on first use.
// The work id is the register's bit position in every liveness vector.
func (p *Pass) workRegOf(v *cc.VirtReg) (*WorkReg, error) {
	if w := p.workOf[v.ID]; w != nil {
		return w, nil
	}

	w, err := p.workSlab.New()
	if err != nil {
		return nil, errors.Wrap(ErrNoHeapMemory, "work reg")
	}

	w.WorkID = len(p.workRegs)
	w.VirtID = v.ID
	w.Kind = v.Kind

	p.workRegs = append(p.workRegs, w)
	p.workByKind[v.Kind] = append(p.workByKind[v.Kind], w)
	p.workOf[v.ID] = w

	return w, nil
}

func (p *Pass) newBlock(initial *cc.Node) (*Block, error) {
	b, err := p.blockSlab.New()
	if err != nil {
		return nil, errors.Wrap(ErrNoHeapMemory, "block")
	}

	b.ID = len(p.blocks)
	b.First = initial
	b.Last = initial
	b.POVOrder = -1

	p.blocks = append(p.blocks, b)

	return b, nil
}

// newBlockOrMergeWith resolves a label node to a block: the label's own
// block if it has one, otherwise a block shared with neighboring labels
// found by walking backwards over label/align/comment nodes, otherwise a
// fresh one. All labels passed over are attached to the result.
func (p *Pass) newBlockOrMergeWith(label *cc.Node) (*Block, error) {
	if b := p.labelBlock(label); b != nil {
		return b, nil
	}

	node := label.Prev
	pending := 0

	var b *Block

	for node != nil {
		if node.Kind == cc.NodeLabel {
			b = p.labelBlock(node)
			if b != nil {
				break
			}

			pending++
		} else if !node.Informative() {
			break
		}

		node = node.Prev
	}

	if b == nil {
		var err error

		b, err = p.newBlock(nil)
		if err != nil {
			return nil, err
		}
	}

	p.setLabelBlock(label, b)
	node = label

	for pending > 0 {
		node = node.Prev

		for node.Kind != cc.NodeLabel {
			node = node.Prev
		}

		p.setLabelBlock(node, b)
		pending--
	}

	if b.First == nil {
		b.First = node
		b.Last = label
	}

	return b, nil
}

func (p *Pass) labelBlock(label *cc.Node) *Block {
	if label.LabelID < 0 || label.LabelID >= len(p.blockOfLabel) {
		return nil
	}

	return p.blockOfLabel[label.LabelID]
}

func (p *Pass) setLabelBlock(label *cc.Node, b *Block) {
	for label.LabelID >= len(p.blockOfLabel) {
		p.blockOfLabel = append(p.blockOfLabel, nil)
	}

	p.blockOfLabel[label.LabelID] = b
}

func (p *Pass) setData(n *cc.Node, d *Data) {
	for n.Pos > len(p.raData) {
		p.raData = append(p.raData, nil)
	}

	p.raData[n.Pos-1] = d
}

func (p *Pass) data(n *cc.Node) *Data {
	if n.Pos < 1 || n.Pos > len(p.raData) {
		return nil
	}

	return p.raData[n.Pos-1]
}

const tiedChunkLen = 256

// tiedSlice bump-allocates a tied-register slice charged to the arena.
func (p *Pass) tiedSlice(n int) ([]TiedReg, error) {
	if err := p.arena.Charge(n * 16); err != nil {
		return nil, err
	}

	if n > len(p.tiedChunk) {
		l := tiedChunkLen
		if n > l {
			l = n
		}

		p.tiedChunk = make([]TiedReg, l)
	}

	s := p.tiedChunk[:n:n]
	p.tiedChunk = p.tiedChunk[n:]

	return s, nil
}

// liveBits allocates one liveness vector sized to the work-register count.
func (p *Pass) liveBits(n int) (set.Bits, error) {
	w, err := p.arena.Words(set.WordsFor(n))
	if err != nil {
		return set.Bits{}, errors.Wrap(ErrNoHeapMemory, "live bits")
	}

	return set.Wrap(w), nil
}
