package x86

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefinedIDs(t *testing.T) {
	require.False(t, IsDefinedID(InstNone))
	require.False(t, IsDefinedID(instCount))
	require.False(t, IsDefinedID(-1))
	require.True(t, IsDefinedID(InstAdd))

	for id := InstNone + 1; id < instCount; id++ {
		require.NotEmpty(t, insts[id].Name, "id %d has no name", id)
	}
}

func TestIDByName(t *testing.T) {
	for id := InstNone + 1; id < instCount; id++ {
		got, ok := IDByName(insts[id].Name)
		require.True(t, ok, "%s", insts[id].Name)
		require.Equal(t, id, got)
	}

	got, ok := IDByName("MOV")
	require.True(t, ok)
	require.Equal(t, InstMov, got)

	_, ok = IDByName("frobnicate")
	require.False(t, ok)
}

func TestCommonData(t *testing.T) {
	require.Equal(t, JumpDirect, Get(InstJmp).Common.Jump)
	require.Equal(t, JumpConditional, Get(InstJne).Common.Jump)
	require.Equal(t, JumpConditional, Get(InstJecxz).Common.Jump)
	require.Equal(t, JumpNone, Get(InstCall).Common.Jump)
	require.Equal(t, JumpNone, Get(InstRet).Common.Jump)

	require.Equal(t, SingleRegWO, Get(InstXor).Common.SingleReg)
	require.Equal(t, SingleRegWO, Get(InstPxor).Common.SingleReg)
	require.Equal(t, SingleRegWO, Get(InstSub).Common.SingleReg)
	require.Equal(t, SingleRegRO, Get(InstAnd).Common.SingleReg)
	require.Equal(t, SingleRegNone, Get(InstAdd).Common.SingleReg)

	require.True(t, Get(InstMul).Common.FixedRM)
	require.True(t, Get(InstCpuid).Common.FixedRM)
	require.True(t, Get(InstShl).Common.FixedRM)
	require.False(t, Get(InstMov).Common.FixedRM)
}

func TestArchMasks(t *testing.T) {
	a64 := New(Mode64)
	a32 := New(Mode32)

	require.Equal(t, "x86_64", a64.Name())
	require.Equal(t, "x86", a32.Name())

	require.Equal(t, 16, a64.RegCount(KindGp))
	require.Equal(t, 8, a32.RegCount(KindGp))

	// The stack pointer is never allocable.
	require.Zero(t, a64.Allocable(KindGp)&(1<<IDSp))
	require.Zero(t, a32.Allocable(KindGp)&(1<<IDSp))

	// k0 is reserved.
	require.Zero(t, a64.Allocable(KindK)&1)

	// Calls clobber the usual volatile set.
	require.NotZero(t, a64.Volatile(KindGp)&(1<<IDAx))
	require.Zero(t, a64.Volatile(KindGp)&(1<<IDBx))
}
