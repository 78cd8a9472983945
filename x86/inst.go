package x86

import (
	"strings"
)

type (
	// ID identifies one instruction in the database.
	ID int

	Use uint8

	JumpType uint8

	SingleReg uint8

	// CommonData is the summary the register allocator needs from the
	// encoder's instruction table: default operand roles, whether the
	// instruction has fixed-register quirks, how it behaves when all
	// operands name one register, and how it leaves a block.
	CommonData struct {
		Use       Use
		FixedRM   bool
		SingleReg SingleReg
		Jump      JumpType
	}

	Inst struct {
		Name   string
		Common CommonData
	}
)

const (
	UseR Use = 1 << iota // first operand is read
	UseW                 // first operand is written
	UseX                 // first operand is read and written
	UseXX                // first two operands are read and written
)

const (
	JumpNone JumpType = iota
	JumpConditional
	JumpDirect
)

const (
	SingleRegNone SingleReg = iota
	SingleRegRO
	SingleRegWO
)

const (
	InstNone ID = iota

	InstAaa
	InstAad
	InstAam
	InstAas
	InstAdc
	InstAdd
	InstAnd
	InstBlendvpd
	InstBlendvps
	InstCall
	InstCbw
	InstCdq
	InstCdqe
	InstCmp
	InstCmps
	InstCmpxchg
	InstCmpxchg16b
	InstCmpxchg8b
	InstCpuid
	InstCqo
	InstCwd
	InstCwde
	InstDaa
	InstDas
	InstDec
	InstDiv
	InstIdiv
	InstImul
	InstIn
	InstInc
	InstIns
	InstJa
	InstJae
	InstJb
	InstJbe
	InstJe
	InstJecxz
	InstJg
	InstJge
	InstJl
	InstJle
	InstJmp
	InstJne
	InstJno
	InstJnp
	InstJns
	InstJo
	InstJp
	InstJs
	InstLahf
	InstLea
	InstLods
	InstLoop
	InstLoope
	InstLoopne
	InstMaskmovdqu
	InstMaskmovq
	InstMov
	InstMovaps
	InstMovs
	InstMovsx
	InstMovzx
	InstMul
	InstMulx
	InstNeg
	InstNop
	InstNot
	InstOr
	InstOut
	InstOuts
	InstPblendvb
	InstPcmpestri
	InstPcmpestrm
	InstPcmpistri
	InstPcmpistrm
	InstPop
	InstPor
	InstPush
	InstPxor
	InstRcl
	InstRcr
	InstRdtsc
	InstRdtscp
	InstRet
	InstRol
	InstRor
	InstSahf
	InstSal
	InstSar
	InstSbb
	InstScas
	InstSha256rnds2
	InstShl
	InstShld
	InstShr
	InstShrd
	InstStos
	InstSub
	InstTest
	InstVmaskmovdqu
	InstVpcmpestri
	InstVpcmpestrm
	InstVpcmpistri
	InstVpcmpistrm
	InstXchg
	InstXgetbv
	InstXor
	InstXrstor
	InstXrstor64
	InstXsave
	InstXsave64
	InstXsaveopt
	InstXsaveopt64
	InstXsetbv

	instCount
)

func use(name string, u Use) Inst {
	return Inst{Name: name, Common: CommonData{Use: u}}
}

func useSingle(name string, u Use, s SingleReg) Inst {
	return Inst{Name: name, Common: CommonData{Use: u, SingleReg: s}}
}

func fixed(name string) Inst {
	return Inst{Name: name, Common: CommonData{FixedRM: true}}
}

func fixedShift(name string) Inst {
	return Inst{Name: name, Common: CommonData{Use: UseX, FixedRM: true}}
}

func jcc(name string) Inst {
	return Inst{Name: name, Common: CommonData{Use: UseR, Jump: JumpConditional}}
}

func jccFixed(name string) Inst {
	return Inst{Name: name, Common: CommonData{FixedRM: true, Jump: JumpConditional}}
}

var insts = [instCount]Inst{
	InstNone: {},

	InstAaa: fixed("aaa"),
	InstAad: fixed("aad"),
	InstAam: fixed("aam"),
	InstAas: fixed("aas"),
	InstAdc: use("adc", UseX),
	InstAdd: use("add", UseX),
	InstAnd: useSingle("and", UseX, SingleRegRO),

	InstBlendvpd: fixed("blendvpd"),
	InstBlendvps: fixed("blendvps"),

	InstCall:       use("call", UseR),
	InstCbw:        fixed("cbw"),
	InstCdq:        fixed("cdq"),
	InstCdqe:       fixed("cdqe"),
	InstCmp:        use("cmp", UseR),
	InstCmps:       fixed("cmps"),
	InstCmpxchg:    fixed("cmpxchg"),
	InstCmpxchg16b: fixed("cmpxchg16b"),
	InstCmpxchg8b:  fixed("cmpxchg8b"),
	InstCpuid:      fixed("cpuid"),
	InstCqo:        fixed("cqo"),
	InstCwd:        fixed("cwd"),
	InstCwde:       fixed("cwde"),

	InstDaa: fixed("daa"),
	InstDas: fixed("das"),
	InstDec: use("dec", UseX),
	InstDiv: fixed("div"),

	InstIdiv: fixed("idiv"),
	InstImul: fixed("imul"),
	InstIn:   fixed("in"),
	InstInc:  use("inc", UseX),
	InstIns:  fixed("ins"),

	InstJa:    jcc("ja"),
	InstJae:   jcc("jae"),
	InstJb:    jcc("jb"),
	InstJbe:   jcc("jbe"),
	InstJe:    jcc("je"),
	InstJecxz: jccFixed("jecxz"),
	InstJg:    jcc("jg"),
	InstJge:   jcc("jge"),
	InstJl:    jcc("jl"),
	InstJle:   jcc("jle"),
	InstJmp:   Inst{Name: "jmp", Common: CommonData{Use: UseR, Jump: JumpDirect}},
	InstJne:   jcc("jne"),
	InstJno:   jcc("jno"),
	InstJnp:   jcc("jnp"),
	InstJns:   jcc("jns"),
	InstJo:    jcc("jo"),
	InstJp:    jcc("jp"),
	InstJs:    jcc("js"),

	InstLahf:   fixed("lahf"),
	InstLea:    use("lea", UseW),
	InstLods:   fixed("lods"),
	InstLoop:   jccFixed("loop"),
	InstLoope:  jccFixed("loope"),
	InstLoopne: jccFixed("loopne"),

	InstMaskmovdqu: fixed("maskmovdqu"),
	InstMaskmovq:   fixed("maskmovq"),
	InstMov:        use("mov", UseW),
	InstMovaps:     use("movaps", UseW),
	InstMovs:       fixed("movs"),
	InstMovsx:      use("movsx", UseW),
	InstMovzx:      use("movzx", UseW),
	InstMul:        fixed("mul"),
	InstMulx:       fixed("mulx"),

	InstNeg: use("neg", UseX),
	InstNop: use("nop", 0),
	InstNot: use("not", UseX),

	InstOr:   useSingle("or", UseX, SingleRegRO),
	InstOut:  fixed("out"),
	InstOuts: fixed("outs"),

	InstPblendvb:  fixed("pblendvb"),
	InstPcmpestri: fixed("pcmpestri"),
	InstPcmpestrm: fixed("pcmpestrm"),
	InstPcmpistri: fixed("pcmpistri"),
	InstPcmpistrm: fixed("pcmpistrm"),
	InstPop:       fixed("pop"),
	InstPor:       use("por", UseX),
	InstPush:      fixed("push"),
	InstPxor:      useSingle("pxor", UseX, SingleRegWO),

	InstRcl:    fixedShift("rcl"),
	InstRcr:    fixedShift("rcr"),
	InstRdtsc:  fixed("rdtsc"),
	InstRdtscp: fixed("rdtscp"),
	InstRet:    use("ret", UseR),
	InstRol:    fixedShift("rol"),
	InstRor:    fixedShift("ror"),

	InstSahf:        fixed("sahf"),
	InstSal:         fixedShift("sal"),
	InstSar:         fixedShift("sar"),
	InstSbb:         use("sbb", UseX),
	InstScas:        fixed("scas"),
	InstSha256rnds2: fixed("sha256rnds2"),
	InstShl:         fixedShift("shl"),
	InstShld:        fixedShift("shld"),
	InstShr:         fixedShift("shr"),
	InstShrd:        fixedShift("shrd"),
	InstStos:        fixed("stos"),
	InstSub:         useSingle("sub", UseX, SingleRegWO),

	InstTest: use("test", UseR),

	InstVmaskmovdqu: fixed("vmaskmovdqu"),
	InstVpcmpestri:  fixed("vpcmpestri"),
	InstVpcmpestrm:  fixed("vpcmpestrm"),
	InstVpcmpistri:  fixed("vpcmpistri"),
	InstVpcmpistrm:  fixed("vpcmpistrm"),

	InstXchg:       use("xchg", UseXX),
	InstXgetbv:     fixed("xgetbv"),
	InstXor:        useSingle("xor", UseX, SingleRegWO),
	InstXrstor:     fixed("xrstor"),
	InstXrstor64:   fixed("xrstor64"),
	InstXsave:      fixed("xsave"),
	InstXsave64:    fixed("xsave64"),
	InstXsaveopt:   fixed("xsaveopt"),
	InstXsaveopt64: fixed("xsaveopt64"),
	InstXsetbv:     fixed("xsetbv"),
}

var byName map[string]ID

func init() {
	byName = make(map[string]ID, instCount)

	for id := InstNone + 1; id < instCount; id++ {
		byName[insts[id].Name] = id
	}
}

// IsDefinedID reports whether the id names a known instruction.
func IsDefinedID(id ID) bool {
	return id > InstNone && id < instCount
}

// Get returns the instruction-info entry. The id must be defined.
func Get(id ID) *Inst {
	return &insts[id]
}

// IDByName resolves a mnemonic, case-insensitively.
func IDByName(name string) (ID, bool) {
	id, ok := byName[strings.ToLower(name)]

	return id, ok
}
