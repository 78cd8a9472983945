package listing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xantares/asmjit/arena"
	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/ra"
	"github.com/xantares/asmjit/x86"
)

const loopText = `
; count to ten
func count n
  mov i, 0
top:
  add i, 1
  cmp i, n
  jne top
  ret i
`

func TestParse(t *testing.T) {
	comp := cc.New()

	funcs, err := Parse(comp, []byte(loopText))
	require.NoError(t, err)
	require.Len(t, funcs, 1)

	f := funcs[0]
	require.Equal(t, "count", f.Name)
	require.Len(t, f.Args, 1)
	require.Equal(t, "n", f.Args[0].Name)

	var kinds []cc.NodeKind

	for n := f.First; n != nil; n = n.Next {
		kinds = append(kinds, n.Kind)
	}

	require.Equal(t, []cc.NodeKind{
		cc.NodeFunc,
		cc.NodeInst,
		cc.NodeLabel,
		cc.NodeInst,
		cc.NodeInst,
		cc.NodeInst,
		cc.NodeFuncRet,
		cc.NodeSentinel,
	}, kinds)
}

func TestParseOperands(t *testing.T) {
	comp := cc.New()

	funcs, err := Parse(comp, []byte("func f\n  mov a, [b+c]\n  movaps xmm0, [a]\n  ret\n"))
	require.NoError(t, err)

	f := funcs[0]

	mov := f.First.Next
	require.Equal(t, cc.NodeInst, mov.Kind)
	require.True(t, mov.Ops[0].IsReg())
	require.True(t, mov.Ops[1].IsMem())
	require.GreaterOrEqual(t, mov.Ops[1].BaseID, 0)
	require.GreaterOrEqual(t, mov.Ops[1].IndexID, 0)

	movaps := mov.Next
	v := comp.VirtRegAt(movaps.Ops[0].VirtID)
	require.Equal(t, x86.KindVec, v.Kind)
}

func TestParseErrors(t *testing.T) {
	comp := cc.New()

	_, err := Parse(comp, []byte("mov a, 1\n"))
	require.Error(t, err)

	_, err = Parse(comp, []byte("func f\n  bogus a\n"))
	require.Error(t, err)
}

func TestParsedRunsThroughPass(t *testing.T) {
	comp := cc.New()

	funcs, err := Parse(comp, []byte(loopText))
	require.NoError(t, err)

	pass, err := ra.New(x86.New(x86.Mode64), comp)
	require.NoError(t, err)

	checked := false

	pass.Observer = func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 3)
		require.Len(t, p.Loops(), 1)

		checked = true
	}

	err = pass.RunOnFunction(context.Background(), arena.New(0), funcs[0])
	require.NoError(t, err)
	require.True(t, checked)
}
