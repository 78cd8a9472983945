package ra

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/set"
)

type (
	TiedFlags uint16

	// TiedReg is one instruction's combined view of one virtual
	// register: every operand referencing the same register coalesces
	// into a single entry.
	TiedReg struct {
		VirtID int
		Flags  TiedFlags

		// AllocableRegs is the intersection of the architectural
		// allocable set for the register's kind with per-operand
		// constraints.
		AllocableRegs uint32

		// RefCount is how many operands of the instruction refer to
		// the register.
		RefCount uint8

		// RPhys and WPhys are fixed physical ids, AnyReg if free.
		RPhys uint8
		WPhys uint8
	}

	// Data is the pass's per-instruction record: the tied-register
	// array grouped by kind, fixed in/out masks, call clobbers, and a
	// snapshot of the live set taken during the liveness scan.
	Data struct {
		Tied []TiedReg

		TiedIndex RegCount
		TiedCount RegCount

		InRegs        RegMask
		OutRegs       RegMask
		ClobberedRegs RegMask

		Liveness set.Bits
	}

	// WorkReg is the dense handle of a virtual register referenced by
	// the current function; WorkID is its bit in every liveness vector.
	WorkReg struct {
		WorkID int
		VirtID int
		Kind   cc.Kind
	}
)

const (
	TiedR TiedFlags = 1 << iota // register read
	TiedW                       // register write
	TiedRMem                    // read can go through memory
	TiedWMem                    // write can go through memory
	TiedRFunc                   // function argument in register
	TiedWFunc                   // function return value in register
	TiedWExclusive              // exclusive write operand

	TiedX = TiedR | TiedW // register read-write
)

func (t *TiedReg) IsReadOnly() bool  { return t.Flags&TiedX == TiedR }
func (t *TiedReg) IsWriteOnly() bool { return t.Flags&TiedX == TiedW }
func (t *TiedReg) IsReadWrite() bool { return t.Flags&TiedX == TiedX }

func (t *TiedReg) HasRPhys() bool { return t.RPhys != AnyReg }
func (t *TiedReg) HasWPhys() bool { return t.WPhys != AnyReg }

// FindTied returns the instruction's tied entry for a virtual id.
func (d *Data) FindTied(virtID int) *TiedReg {
	for i := range d.Tied {
		if d.Tied[i].VirtID == virtID {
			return &d.Tied[i]
		}
	}

	return nil
}

// TiedOfKind returns the kind's slice of the tied array.
func (d *Data) TiedOfKind(k cc.Kind) []TiedReg {
	i := d.TiedIndex.Get(k)

	return d.Tied[i : i+d.TiedCount.Get(k)]
}

func (t TiedReg) TlogAppend(w []byte) []byte {
	var e tlwire.Encoder

	w = e.AppendMap(w, 4)

	w = e.AppendKeyInt(w, "virt", t.VirtID)
	w = e.AppendKeyInt(w, "flags", int(t.Flags))
	w = e.AppendKeyInt(w, "r", int(t.RPhys))
	w = e.AppendKeyInt(w, "w", int(t.WPhys))

	return w
}

// TiedBuilder accumulates the tied registers of one instruction before
// they are stored into its Data record.
type TiedBuilder struct {
	pass  *Pass
	block *Block

	Stats RegStats

	tmp [maxTied]TiedReg
	n   int
}

const maxTied = 80

func (tb *TiedBuilder) reset(p *Pass, b *Block) {
	tb.pass = p
	tb.block = b
	tb.Stats.Reset()
	tb.n = 0
}

func (tb *TiedBuilder) Total() int { return tb.n }

// Tmp returns the accumulated entry at i, for adapters that refine roles
// after adding them (single-register collapse).
func (tb *TiedBuilder) Tmp(i int) *TiedReg { return &tb.tmp[i] }

// AddRole records a register use with the architectural allocable set of
// the register's kind and the role's fixed ids.
func (tb *TiedBuilder) AddRole(virtID int, role OpRole) error {
	v := tb.pass.cc.VirtRegAt(virtID)
	if v == nil {
		return errors.Wrap(ErrInvalidVirtID, "virt %d", virtID)
	}

	return tb.Add(v, role.Flags, tb.pass.allocable[v.Kind], role.RPhys, role.WPhys)
}

// Allocable exposes the architectural allocable mask of a kind to the
// adapter.
func (tb *TiedBuilder) Allocable(k cc.Kind) uint32 {
	return tb.pass.allocable[k]
}

// KindOf resolves a virtual id to its register kind.
func (tb *TiedBuilder) KindOf(virtID int) (cc.Kind, error) {
	v := tb.pass.cc.VirtRegAt(virtID)
	if v == nil {
		return 0, errors.Wrap(ErrInvalidVirtID, "virt %d", virtID)
	}

	return v.Kind, nil
}

// AddByID resolves the virtual id through the compiler table and adds it.
func (tb *TiedBuilder) AddByID(virtID int, flags TiedFlags, allocable uint32, rPhys, wPhys uint8) error {
	v := tb.pass.cc.VirtRegAt(virtID)
	if v == nil {
		return errors.Wrap(ErrInvalidVirtID, "virt %d", virtID)
	}

	return tb.Add(v, flags, allocable, rPhys, wPhys)
}

// Add records one register use. A repeated use of the same virtual
// register within the instruction coalesces: flags accumulate, the
// allocable mask intersects, and conflicting fixed writes are an error.
func (tb *TiedBuilder) Add(v *cc.VirtReg, flags TiedFlags, allocable uint32, rPhys, wPhys uint8) error {
	tb.Stats.MakeUsed(v.Kind)

	if rPhys != AnyReg || wPhys != AnyReg {
		tb.Stats.MakePrecolored(v.Kind)
	}

	p := tb.pass

	if _, err := p.workRegOf(v); err != nil {
		return err
	}

	idx := p.tiedIdx[v.ID]
	if idx < 0 {
		if tb.n == maxTied {
			return errors.Wrap(ErrInvalidState, "too many tied registers")
		}

		p.tiedIdx[v.ID] = tb.n

		tb.tmp[tb.n] = TiedReg{
			VirtID:        v.ID,
			Flags:         flags,
			AllocableRegs: allocable,
			RefCount:      1,
			RPhys:         rPhys,
			WPhys:         wPhys,
		}
		tb.n++

		return nil
	}

	t := &tb.tmp[idx]

	if wPhys != AnyReg {
		if t.WPhys != AnyReg && t.WPhys != wPhys {
			return errors.Wrap(ErrOverlappedRegs, "virt %d: w%d vs w%d", v.ID, t.WPhys, wPhys)
		}

		t.WPhys = wPhys
	}

	if rPhys != AnyReg && t.RPhys == AnyReg {
		t.RPhys = rPhys
	}

	t.RefCount++
	t.Flags |= flags
	t.AllocableRegs &= allocable

	return nil
}

// storeTo freezes the accumulated set into the node's Data record,
// grouped by register kind, and clears the per-instruction scratch.
func (tb *TiedBuilder) storeTo(n *cc.Node) error {
	p := tb.pass

	d, err := p.dataSlab.New()
	if err != nil {
		return errors.Wrap(ErrNoHeapMemory, "ra data")
	}

	var count RegCount

	for i := 0; i < tb.n; i++ {
		count.Add(p.kindOf(tb.tmp[i].VirtID), 1)
	}

	d.TiedCount = count
	d.TiedIndex.IndexFrom(count)

	d.Tied, err = p.tiedSlice(tb.n)
	if err != nil {
		return err
	}

	var fill RegCount

	for i := 0; i < tb.n; i++ {
		t := tb.tmp[i]
		k := p.kindOf(t.VirtID)

		pos := d.TiedIndex.Get(k) + fill.Get(k)
		fill.Add(k, 1)

		if t.RPhys != AnyReg {
			d.InRegs[k] |= 1 << t.RPhys
		}

		if t.WPhys != AnyReg {
			d.OutRegs[k] |= 1 << t.WPhys
		}

		if t.RPhys != AnyReg || t.WPhys != AnyReg {
			tb.block.add(BlockHasFixedRegs)
		}

		d.Tied[pos] = t

		p.tiedIdx[t.VirtID] = -1
	}

	p.setData(n, d)

	return nil
}
