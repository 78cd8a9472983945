package arm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xantares/asmjit/arena"
	"github.com/xantares/asmjit/arm"
	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/ra"
	"github.com/xantares/asmjit/set"
)

func TestStubBackendRuns(t *testing.T) {
	comp := cc.New()

	i := comp.NewVirtReg(arm.KindGp, 8, 8, "i")

	l := comp.NewLabel()

	f := comp.NewFunc("loop")

	f.Inst(int(arm.InstMov), cc.Reg(i), cc.Imm(0))

	_, err := comp.Bind(f, l)
	require.NoError(t, err)

	f.Inst(int(arm.InstAdd), cc.Reg(i), cc.Reg(i), cc.Imm(1))
	f.Inst(int(arm.InstCmp), cc.Reg(i), cc.Imm(10))
	f.Inst(int(arm.InstBNe), cc.LabelRef(l))
	f.Ret(cc.Reg(i))

	pass, err := ra.New(arm.New(), comp)
	require.NoError(t, err)

	checked := false

	pass.Observer = func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 3)
		require.Len(t, p.Loops(), 1)

		w := p.WorkRegOf(i.ID)
		require.NotNil(t, w)
		require.Contains(t, bitsOf(p.Loops()[0].Header.In), w.WorkID)

		checked = true
	}

	err = pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.NoError(t, err)
	require.True(t, checked)
}

func TestUnknownInstruction(t *testing.T) {
	comp := cc.New()

	f := comp.NewFunc("bad")

	f.Inst(1234)
	f.Ret()

	pass, err := ra.New(arm.New(), comp)
	require.NoError(t, err)

	err = pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.ErrorIs(t, err, ra.ErrInvalidInstruction)
}

func TestIDByName(t *testing.T) {
	id, ok := arm.IDByName("b.eq")
	require.True(t, ok)
	require.Equal(t, arm.InstBEq, id)

	_, ok = arm.IDByName("madd")
	require.False(t, ok)
}

func bitsOf(b set.Bits) []int {
	r := []int{}

	b.Range(func(i int) bool {
		r = append(r, i)

		return true
	})

	return r
}
