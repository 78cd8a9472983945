package x86

import (
	"tlog.app/go/errors"

	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/ra"
)

type (
	// Arch adapts the x86/x86-64 instruction database to the
	// register-allocation pass.
	Arch struct {
		mode Mode
	}
)

// New creates the adapter for one target mode.
func New(mode Mode) *Arch {
	return &Arch{mode: mode}
}

func (a *Arch) Name() string {
	if a.mode == Mode64 {
		return "x86_64"
	}

	return "x86"
}

func (a *Arch) RegCount(kind cc.Kind) int {
	switch kind {
	case KindGp, KindVec:
		if a.mode == Mode64 {
			return 16
		}

		return 8
	case KindMm, KindK:
		return 8
	}

	return 0
}

func (a *Arch) Allocable(kind cc.Kind) uint32 {
	switch kind {
	case KindGp:
		// The stack pointer is never allocable.
		return bitsN(a.RegCount(kind)) &^ (1 << IDSp)
	case KindK:
		// k0 is not a writable mask register.
		return bitsN(a.RegCount(kind)) &^ 1
	}

	return bitsN(a.RegCount(kind))
}

func (a *Arch) Volatile(kind cc.Kind) uint32 {
	switch kind {
	case KindGp:
		m := uint32(1<<IDAx | 1<<IDCx | 1<<IDDx)
		if a.mode == Mode64 {
			m |= 1<<IDSi | 1<<IDDi | 1<<IDR8 | 1<<IDR9 | 1<<IDR10 | 1<<IDR11
		}

		return m
	}

	return a.Allocable(kind)
}

// Shorthands for the operand-role tables.
func opR(id uint8) ra.OpRole { return ra.OpRole{RPhys: id, WPhys: ra.AnyReg, Flags: ra.TiedR} }
func opW(id uint8) ra.OpRole { return ra.OpRole{RPhys: ra.AnyReg, WPhys: id, Flags: ra.TiedW} }
func opX(id uint8) ra.OpRole { return ra.OpRole{RPhys: id, WPhys: id, Flags: ra.TiedX} }
func opNone() ra.OpRole      { return ra.OpRole{RPhys: ra.AnyReg, WPhys: ra.AnyReg} }

const anyR = ra.AnyReg

var (
	rwiR  = [6]ra.OpRole{opR(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR)}
	rwiW  = [6]ra.OpRole{opW(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR)}
	rwiX  = [6]ra.OpRole{opX(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR)}
	rwiXX = [6]ra.OpRole{opX(anyR), opX(anyR), opR(anyR), opR(anyR), opR(anyR), opR(anyR)}
)

func ops(roles ...ra.OpRole) [6]ra.OpRole {
	r := rwiR

	copy(r[:], roles)

	return r
}

// opRoles returns the per-operand role vector for one instruction. The
// fixed-register special cases are normative for the x86 family; every
// other instruction derives its roles from the common-data bits.
func opRoles(id ID, info *Inst, opsArr []cc.Operand) [6]ra.OpRole {
	common := info.Common

	if !common.FixedRM {
		switch {
		case common.Use&UseXX != 0:
			return rwiXX
		case common.Use&UseX != 0:
			return rwiX
		case common.Use&UseW != 0:
			return rwiW
		case common.Use&UseR != 0:
			return rwiR
		}

		return rwiX
	}

	switch id {
	case InstAaa, InstAad, InstAam, InstAas, InstDaa, InstDas:
		return ops(opX(IDAx))

	case InstCpuid:
		return ops(opX(IDAx), opW(IDBx), opX(IDCx), opW(IDDx))

	case InstCbw, InstCdqe, InstCwde:
		return ops(opX(IDAx))

	case InstCdq, InstCwd, InstCqo:
		return ops(opW(IDDx), opR(IDAx))

	case InstCmpxchg:
		return ops(opX(anyR), opR(anyR), opX(IDAx))

	case InstCmpxchg8b, InstCmpxchg16b:
		return ops(opNone(), opX(IDDx), opX(IDAx), opR(IDCx), opR(IDBx))

	case InstDiv, InstIdiv:
		if len(opsArr) == 2 {
			return ops(opX(IDAx), opR(anyR))
		}

		return ops(opX(IDDx), opX(IDAx), opR(anyR))

	case InstImul:
		if len(opsArr) == 2 {
			return rwiX
		}

		if len(opsArr) == 3 && !(opsArr[0].IsReg() && opsArr[1].IsReg() && (opsArr[2].IsReg() || opsArr[2].IsMem())) {
			return rwiX
		}

		fallthrough

	case InstMul:
		if len(opsArr) == 2 {
			return ops(opX(IDAx), opR(anyR))
		}

		return ops(opW(IDDx), opX(IDAx), opR(anyR))

	case InstMulx:
		return ops(opW(anyR), opW(anyR), opR(anyR), opR(IDDx))

	case InstJecxz, InstLoop, InstLoope, InstLoopne:
		return ops(opR(IDCx))

	case InstLahf:
		return ops(opW(IDAx))

	case InstSahf:
		return ops(opR(IDAx))

	case InstPush:
		return rwiR

	case InstPop:
		return rwiW

	case InstRcl, InstRcr, InstRol, InstRor, InstSal, InstSar, InstShl, InstShr:
		// Special only when the count operand is a register.
		if len(opsArr) > 1 && opsArr[1].IsReg() {
			return ops(opX(anyR), opR(IDCx))
		}

		return rwiX

	case InstShld, InstShrd:
		if len(opsArr) > 2 && opsArr[2].IsReg() {
			return ops(opX(anyR), opR(anyR), opR(IDCx))
		}

		return rwiX

	case InstRdtsc, InstRdtscp:
		return ops(opW(IDDx), opW(IDAx), opW(IDCx))

	case InstXrstor, InstXrstor64, InstXsave, InstXsave64, InstXsaveopt, InstXsaveopt64:
		return ops(opW(anyR), opR(IDDx), opR(IDAx))

	case InstXgetbv:
		return ops(opW(IDDx), opW(IDAx), opR(IDCx))

	case InstXsetbv:
		return ops(opR(IDDx), opR(IDAx), opR(IDCx))

	case InstIn:
		return ops(opW(IDAx), opR(IDDx))

	case InstIns:
		return ops(opX(IDDi), opR(IDDx))

	case InstOut:
		return ops(opR(IDDx), opR(IDAx))

	case InstOuts:
		return ops(opR(IDDx), opX(IDSi))

	case InstCmps:
		return ops(opX(IDSi), opX(IDDi))

	case InstLods:
		return ops(opW(IDAx), opX(IDSi))

	case InstMovs:
		return ops(opX(IDDi), opX(IDSi))

	case InstScas, InstStos:
		return ops(opX(IDDi), opR(IDAx))

	case InstMaskmovq, InstMaskmovdqu, InstVmaskmovdqu:
		return ops(opR(anyR), opR(anyR), opR(IDDi))

	case InstBlendvpd, InstBlendvps, InstPblendvb, InstSha256rnds2:
		return ops(opW(anyR), opR(anyR), opR(0))

	case InstPcmpestri, InstVpcmpestri:
		return ops(opR(anyR), opR(anyR), opNone(), opW(IDCx), opR(IDAx), opR(IDDx))

	case InstPcmpistri, InstVpcmpistri:
		return ops(opR(anyR), opR(anyR), opNone(), opW(IDCx))

	case InstPcmpestrm, InstVpcmpestrm:
		return ops(opR(anyR), opR(anyR), opNone(), opW(0), opR(IDAx), opR(IDDx))

	case InstPcmpistrm, InstVpcmpistrm:
		return ops(opR(anyR), opR(anyR), opNone(), opW(0))
	}

	return rwiX
}

// OnInst tags every register use of one instruction and classifies its
// jump type.
func (a *Arch) OnInst(n *cc.Node, tb *ra.TiedBuilder) (ra.JumpType, error) {
	id := ID(n.InstID)

	if !IsDefinedID(id) {
		return 0, errors.Wrap(ra.ErrInvalidInstruction, "inst %d", n.InstID)
	}

	info := Get(id)
	roles := opRoles(id, info, n.Ops)

	singleRegOps := 0

	for i, op := range n.Ops {
		switch {
		case op.IsReg():
			err := tb.AddRole(op.VirtID, roles[i])
			if err != nil {
				return 0, err
			}

			if singleRegOps == i {
				singleRegOps++
			}

		case op.IsMem():
			if op.BaseID >= 0 {
				err := tb.AddRole(op.BaseID, opR(anyR))
				if err != nil {
					return 0, err
				}
			}

			if op.IndexID >= 0 {
				err := tb.AddRole(op.IndexID, opR(anyR))
				if err != nil {
					return 0, err
				}
			}
		}
	}

	// The extra operand is either the REP counter or an AVX-512 {k}
	// mask selector.
	if n.Extra.IsReg() {
		kind, err := tb.KindOf(n.Extra.VirtID)
		if err != nil {
			return 0, err
		}

		if kind == KindK {
			// Mask selector: read-only, any mask register but k0.
			err = tb.AddRole(n.Extra.VirtID, opR(anyR))
			if err != nil {
				return 0, err
			}

			singleRegOps = 0
		} else {
			// REP counter, pinned to cx and both read and written.
			err = tb.AddByID(n.Extra.VirtID, ra.TiedX, 0, IDCx, IDCx)
			if err != nil {
				return 0, err
			}
		}
	}

	// Instructions whose operands all name one register may degrade to
	// a pure read or a pure write; `xor v, v` only defines v.
	if singleRegOps == len(n.Ops) && tb.Total() == 1 {
		switch info.Common.SingleReg {
		case SingleRegRO:
			tb.Tmp(0).Flags &^= ra.TiedW
		case SingleRegWO:
			tb.Tmp(0).Flags &^= ra.TiedR
		}
	}

	return jumpType(info.Common.Jump), nil
}

func jumpType(j JumpType) ra.JumpType {
	switch j {
	case JumpConditional:
		return ra.JumpConditional
	case JumpDirect:
		return ra.JumpDirect
	}

	return ra.JumpNone
}
