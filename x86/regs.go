// Package x86 holds the x86/x86-64 instruction-info database, register
// definitions, and the architecture adapter for the register-allocation
// pass.
package x86

import (
	"github.com/xantares/asmjit/cc"
)

// Register kinds. Virtual and physical registers partition by kind.
const (
	KindGp cc.Kind = iota
	KindVec
	KindMm
	KindK

	KindCount = 4
)

// General-purpose physical ids, low eight shared between modes.
const (
	IDAx = iota
	IDCx
	IDDx
	IDBx
	IDSp
	IDBp
	IDSi
	IDDi
	IDR8
	IDR9
	IDR10
	IDR11
	IDR12
	IDR13
	IDR14
	IDR15
)

type (
	// Mode selects between 32-bit and 64-bit targets.
	Mode uint8
)

const (
	Mode32 Mode = iota
	Mode64
)

// bitsN returns a mask of the n lowest register ids.
func bitsN(n int) uint32 {
	return 1<<n - 1
}
