// Package arm is a stub ARM64 backend: enough of an instruction table and
// an adapter to drive the register-allocation framework, without the
// encoder behind it.
package arm

import (
	"strings"

	"tlog.app/go/errors"

	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/ra"
)

const (
	KindGp cc.Kind = iota
	KindVec
)

type (
	ID int

	Inst struct {
		Name string

		// Write marks the first operand as a destination.
		Write bool

		Jump ra.JumpType
	}

	// Arch adapts the stub table to the register-allocation pass.
	Arch struct{}
)

const (
	InstNone ID = iota

	InstAdd
	InstAnd
	InstB
	InstBEq
	InstBNe
	InstCmp
	InstEor
	InstMov
	InstMul
	InstOrr
	InstRet
	InstSub

	instCount
)

var insts = [instCount]Inst{
	InstNone: {},

	InstAdd: {Name: "add", Write: true},
	InstAnd: {Name: "and", Write: true},
	InstB:   {Name: "b", Jump: ra.JumpDirect},
	InstBEq: {Name: "b.eq", Jump: ra.JumpConditional},
	InstBNe: {Name: "b.ne", Jump: ra.JumpConditional},
	InstCmp: {Name: "cmp"},
	InstEor: {Name: "eor", Write: true},
	InstMov: {Name: "mov", Write: true},
	InstMul: {Name: "mul", Write: true},
	InstOrr: {Name: "orr", Write: true},
	InstRet: {Name: "ret"},
	InstSub: {Name: "sub", Write: true},
}

func New() *Arch {
	return &Arch{}
}

func (a *Arch) Name() string { return "arm64" }

func (a *Arch) RegCount(kind cc.Kind) int {
	switch kind {
	case KindGp, KindVec:
		return 32
	}

	return 0
}

func (a *Arch) Allocable(kind cc.Kind) uint32 {
	switch kind {
	case KindGp:
		// sp/x31 and the frame pointer stay out of the pool.
		return ^uint32(0) &^ (1<<31 | 1<<29)
	case KindVec:
		return ^uint32(0)
	}

	return 0
}

func (a *Arch) Volatile(kind cc.Kind) uint32 {
	switch kind {
	case KindGp:
		return 1<<18 - 1
	case KindVec:
		return ^uint32(0)
	}

	return 0
}

func (a *Arch) OnInst(n *cc.Node, tb *ra.TiedBuilder) (ra.JumpType, error) {
	id := ID(n.InstID)

	if id <= InstNone || id >= instCount {
		return 0, errors.Wrap(ra.ErrInvalidInstruction, "inst %d", n.InstID)
	}

	info := &insts[id]

	for i, op := range n.Ops {
		switch {
		case op.IsReg():
			flags := ra.TiedR
			if i == 0 && info.Write {
				flags = ra.TiedW
			}

			err := tb.AddRole(op.VirtID, ra.OpRole{RPhys: ra.AnyReg, WPhys: ra.AnyReg, Flags: flags})
			if err != nil {
				return 0, err
			}

		case op.IsMem():
			if op.BaseID >= 0 {
				err := tb.AddRole(op.BaseID, ra.OpRole{RPhys: ra.AnyReg, WPhys: ra.AnyReg, Flags: ra.TiedR})
				if err != nil {
					return 0, err
				}
			}

			if op.IndexID >= 0 {
				err := tb.AddRole(op.IndexID, ra.OpRole{RPhys: ra.AnyReg, WPhys: ra.AnyReg, Flags: ra.TiedR})
				if err != nil {
					return 0, err
				}
			}
		}
	}

	return info.Jump, nil
}

// IDByName resolves a stub-table mnemonic.
func IDByName(name string) (ID, bool) {
	name = strings.ToLower(name)

	for id := InstNone + 1; id < instCount; id++ {
		if insts[id].Name == name {
			return id, true
		}
	}

	return 0, false
}
