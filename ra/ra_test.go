package ra_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xantares/asmjit/arena"
	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/ra"
	"github.com/xantares/asmjit/set"
	"github.com/xantares/asmjit/x86"
)

type (
	blockShape struct {
		Succ   []int
		Pred   []int
		IDom   int
		POV    int
		Weight int
		Flags  ra.BlockFlags

		In, Out, Gen, Kill []int
	}

	passShape struct {
		Blocks []blockShape
		Exits  []int
		Loops  int
	}
)

func newPass(t *testing.T, comp *cc.Compiler) *ra.Pass {
	t.Helper()

	pass, err := ra.New(x86.New(x86.Mode64), comp)
	require.NoError(t, err)

	return pass
}

func run(t *testing.T, comp *cc.Compiler, f *cc.Func, check func(p *ra.Pass)) {
	t.Helper()

	pass := newPass(t, comp)

	pass.Observer = func(p *ra.Pass) {
		checkInvariants(t, p)

		if check != nil {
			check(p)
		}
	}

	err := pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.NoError(t, err)
}

func bitsOf(b set.Bits) []int {
	r := []int{}

	b.Range(func(i int) bool {
		r = append(r, i)

		return true
	})

	return r
}

func shapeOf(p *ra.Pass) passShape {
	var s passShape

	for _, b := range p.Blocks() {
		bs := blockShape{
			IDom:   -1,
			POV:    b.POVOrder,
			Weight: b.Weight,
			Flags:  b.Flags,
			In:     bitsOf(b.In),
			Out:    bitsOf(b.Out),
			Gen:    bitsOf(b.Gen),
			Kill:   bitsOf(b.Kill),
		}

		if b.IDom != nil {
			bs.IDom = b.IDom.ID
		}

		for _, x := range b.Successors {
			bs.Succ = append(bs.Succ, x.ID)
		}

		for _, x := range b.Predecessors {
			bs.Pred = append(bs.Pred, x.ID)
		}

		s.Blocks = append(s.Blocks, bs)
	}

	for _, b := range p.Exits() {
		s.Exits = append(s.Exits, b.ID)
	}

	s.Loops = len(p.Loops())

	return s
}

// checkInvariants asserts the properties that must hold for every
// well-formed input.
func checkInvariants(t *testing.T, p *ra.Pass) {
	t.Helper()

	blocks := p.Blocks()
	entry := p.Entry()

	require.Equal(t, 0, entry.ID)

	// Successor/predecessor edges are symmetric and duplicate-free.
	for _, b := range blocks {
		seen := map[int]bool{}

		for _, s := range b.Successors {
			require.False(t, seen[s.ID], "duplicate successor")
			seen[s.ID] = true

			require.Contains(t, s.Predecessors, b)
		}

		seen = map[int]bool{}

		for _, x := range b.Predecessors {
			require.False(t, seen[x.ID], "duplicate predecessor")
			seen[x.ID] = true

			require.Contains(t, x.Successors, b)
		}
	}

	// POV is a permutation of the reachable blocks and the immediate
	// dominator of every reachable non-entry block strictly dominates it.
	povSeen := map[int]bool{}

	for _, b := range p.POV() {
		require.False(t, povSeen[b.POVOrder])
		povSeen[b.POVOrder] = true
		require.Less(t, b.POVOrder, len(p.POV()))

		if b == entry {
			continue
		}

		require.NotNil(t, b.IDom)
		require.True(t, p.StrictlyDominates(b.IDom, b))
		require.True(t, p.Dominates(entry, b))

		// At least one predecessor comes earlier in reverse-postorder;
		// only back-edges may point the other way.
		larger := false

		for _, x := range b.Predecessors {
			if x.POVOrder > b.POVOrder {
				larger = true
			}
		}

		require.True(t, larger, "block %d has no forward predecessor", b.ID)
	}

	// Liveness fixed point: IN = (OUT | GEN) &^ KILL and OUT is the
	// union of successor INs. Exits end with nothing live.
	for _, b := range p.POV() {
		require.True(t, b.Has(ra.BlockHasLiveness) || len(p.WorkRegs()) == 0)

		in := map[int]bool{}

		for _, i := range bitsOf(b.Out) {
			in[i] = true
		}

		for _, i := range bitsOf(b.Gen) {
			in[i] = true
		}

		for _, i := range bitsOf(b.Kill) {
			delete(in, i)
		}

		require.ElementsMatch(t, keys(in), bitsOf(b.In), "block %d IN", b.ID)

		out := map[int]bool{}

		for _, s := range b.Successors {
			for _, i := range bitsOf(s.In) {
				out[i] = true
			}
		}

		require.ElementsMatch(t, keys(out), bitsOf(b.Out), "block %d OUT", b.ID)
	}

	for _, b := range p.Exits() {
		require.Empty(t, bitsOf(b.Out), "exit %d OUT", b.ID)
	}
}

func keys(m map[int]bool) []int {
	r := []int{}

	for k := range m {
		r = append(r, k)
	}

	sort.Ints(r)

	return r
}

func TestStraightLine(t *testing.T) {
	comp := cc.New()

	a := comp.NewVirtReg(x86.KindGp, 8, 8, "a")
	b := comp.NewVirtReg(x86.KindGp, 8, 8, "b")

	f := comp.NewFunc("straight")

	f.Inst(int(x86.InstMov), cc.Reg(a), cc.Imm(1))
	f.Inst(int(x86.InstMov), cc.Reg(b), cc.Imm(2))
	add := f.Inst(int(x86.InstAdd), cc.Reg(a), cc.Reg(b))
	f.Ret(cc.Reg(a))

	run(t, comp, f, func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 1)

		entry := p.Entry()
		require.Equal(t, []*ra.Block{entry}, p.Exits())

		require.Empty(t, bitsOf(entry.In))

		wa := p.WorkRegOf(a.ID)
		wb := p.WorkRegOf(b.ID)
		require.NotNil(t, wa)
		require.NotNil(t, wb)

		// Past the add only a stays live; it feeds the return.
		d := p.Data(add)
		require.NotNil(t, d)
		require.Equal(t, []int{wa.WorkID}, bitsOf(d.Liveness))
	})
}

func TestIfThenElse(t *testing.T) {
	comp := cc.New()

	x := comp.NewVirtReg(x86.KindGp, 8, 8, "x")
	y := comp.NewVirtReg(x86.KindGp, 8, 8, "y")

	l1 := comp.NewLabel()
	l2 := comp.NewLabel()

	f := comp.NewFunc("cond")

	f.Inst(int(x86.InstCmp), cc.Reg(x), cc.Imm(0))
	f.Inst(int(x86.InstJne), cc.LabelRef(l1))
	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(1))
	f.Inst(int(x86.InstJmp), cc.LabelRef(l2))

	_, err := comp.Bind(f, l1)
	require.NoError(t, err)

	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(2))

	_, err = comp.Bind(f, l2)
	require.NoError(t, err)

	f.Ret(cc.Reg(y))

	run(t, comp, f, func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 4)

		entry := p.Entry()
		require.Len(t, entry.Successors, 2)

		var join *ra.Block

		for _, b := range p.Exits() {
			join = b
		}

		require.NotNil(t, join)
		require.Len(t, join.Predecessors, 2)
		require.Equal(t, entry, join.IDom)

		wy := p.WorkRegOf(y.ID)
		require.NotNil(t, wy)
		require.Contains(t, bitsOf(join.In), wy.WorkID)
	})
}

func TestLoopInduction(t *testing.T) {
	comp := cc.New()

	i := comp.NewVirtReg(x86.KindGp, 8, 8, "i")

	l := comp.NewLabel()

	f := comp.NewFunc("loop")

	f.Inst(int(x86.InstMov), cc.Reg(i), cc.Imm(0))

	_, err := comp.Bind(f, l)
	require.NoError(t, err)

	f.Inst(int(x86.InstAdd), cc.Reg(i), cc.Imm(1))
	f.Inst(int(x86.InstCmp), cc.Reg(i), cc.Imm(10))
	f.Inst(int(x86.InstJne), cc.LabelRef(l))
	f.Ret(cc.Reg(i))

	run(t, comp, f, func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 3)
		require.Len(t, p.Loops(), 1)

		loop := p.Loops()[0]
		body := loop.Header

		// The latch jumps back to the header, here one and the same
		// block.
		require.Contains(t, body.Successors, body)

		wi := p.WorkRegOf(i.ID)
		require.NotNil(t, wi)

		// The induction register survives the back-edge.
		require.Contains(t, bitsOf(body.In), wi.WorkID)
		require.Contains(t, bitsOf(body.Out), wi.WorkID)

		require.Equal(t, 1, body.Weight)
		require.Equal(t, 0, p.Entry().Weight)
		require.Nil(t, p.Entry().Loop)
		require.Equal(t, loop, body.Loop)
	})
}

func TestDeadCodeAfterJump(t *testing.T) {
	comp := cc.New()

	x := comp.NewVirtReg(x86.KindGp, 8, 8, "x")

	l := comp.NewLabel()

	f := comp.NewFunc("dead")

	f.Inst(int(x86.InstJmp), cc.LabelRef(l))
	f.Inst(int(x86.InstMov), cc.Reg(x), cc.Imm(1))

	_, err := comp.Bind(f, l)
	require.NoError(t, err)

	f.Ret()

	run(t, comp, f, func(p *ra.Pass) {
		require.Len(t, p.Blocks(), 2)
		require.Nil(t, p.WorkRegOf(x.ID))

		for n := f.First; n != nil && n != f.End; n = n.Next {
			if n.Kind == cc.NodeInst {
				require.NotEqual(t, int(x86.InstMov), n.InstID, "dead mov survived")
			}
		}
	})
}

func TestFixedRegisterMul(t *testing.T) {
	comp := cc.New()

	hi := comp.NewVirtReg(x86.KindGp, 8, 8, "hi")
	lo := comp.NewVirtReg(x86.KindGp, 8, 8, "lo")
	src := comp.NewVirtReg(x86.KindGp, 8, 8, "src")

	f := comp.NewFunc("mul")

	mul := f.Inst(int(x86.InstMul), cc.Reg(hi), cc.Reg(lo), cc.Reg(src))
	f.Ret(cc.Reg(lo))

	run(t, comp, f, func(p *ra.Pass) {
		d := p.Data(mul)
		require.NotNil(t, d)

		ts := d.FindTied(src.ID)
		require.NotNil(t, ts)
		require.True(t, ts.IsReadOnly())
		require.False(t, ts.HasWPhys())

		th := d.FindTied(hi.ID)
		require.NotNil(t, th)
		require.True(t, th.IsWriteOnly())
		require.EqualValues(t, x86.IDDx, th.WPhys)

		tl := d.FindTied(lo.ID)
		require.NotNil(t, tl)
		require.True(t, tl.IsReadWrite())
		require.EqualValues(t, x86.IDAx, tl.RPhys)
		require.EqualValues(t, x86.IDAx, tl.WPhys)

		require.True(t, p.Entry().Has(ra.BlockHasFixedRegs))
	})
}

func TestSelfZeroCollapse(t *testing.T) {
	comp := cc.New()

	v := comp.NewVirtReg(x86.KindGp, 8, 8, "v")

	f := comp.NewFunc("zero")

	xor := f.Inst(int(x86.InstXor), cc.Reg(v), cc.Reg(v))
	f.Ret()

	run(t, comp, f, func(p *ra.Pass) {
		d := p.Data(xor)
		require.NotNil(t, d)
		require.Len(t, d.Tied, 1)

		tv := d.FindTied(v.ID)
		require.True(t, tv.IsWriteOnly())
		require.EqualValues(t, 2, tv.RefCount)

		// The zeroing idiom defines v, it does not use it.
		w := p.WorkRegOf(v.ID)
		require.NotContains(t, bitsOf(p.Entry().Gen), w.WorkID)
		require.Contains(t, bitsOf(p.Entry().Kill), w.WorkID)
		require.Empty(t, bitsOf(p.Entry().In))
	})
}

func TestRepExtraRegister(t *testing.T) {
	comp := cc.New()

	dst := comp.NewVirtReg(x86.KindGp, 8, 8, "dst")
	src := comp.NewVirtReg(x86.KindGp, 8, 8, "src")
	cnt := comp.NewVirtReg(x86.KindGp, 8, 8, "cnt")

	f := comp.NewFunc("copy", dst, src, cnt)

	movs := f.InstExtra(int(x86.InstMovs), cc.Reg(cnt), cc.Reg(dst), cc.Reg(src))
	f.Ret()

	run(t, comp, f, func(p *ra.Pass) {
		d := p.Data(movs)
		require.NotNil(t, d)

		tc := d.FindTied(cnt.ID)
		require.NotNil(t, tc)
		require.True(t, tc.IsReadWrite())
		require.EqualValues(t, x86.IDCx, tc.RPhys)
		require.EqualValues(t, x86.IDCx, tc.WPhys)

		td := d.FindTied(dst.ID)
		require.EqualValues(t, x86.IDDi, td.RPhys)

		ts := d.FindTied(src.ID)
		require.EqualValues(t, x86.IDSi, ts.RPhys)
	})
}

func TestTiedCoalescing(t *testing.T) {
	comp := cc.New()

	v := comp.NewVirtReg(x86.KindGp, 8, 8, "v")

	f := comp.NewFunc("coalesce")

	add := f.Inst(int(x86.InstAdd), cc.Reg(v), cc.Reg(v))
	f.Ret(cc.Reg(v))

	run(t, comp, f, func(p *ra.Pass) {
		d := p.Data(add)
		require.Len(t, d.Tied, 1)

		tv := d.FindTied(v.ID)
		require.EqualValues(t, 2, tv.RefCount)
		require.True(t, tv.IsReadWrite())
	})
}

func TestArgsLiveIn(t *testing.T) {
	comp := cc.New()

	a := comp.NewVirtReg(x86.KindGp, 8, 8, "a")
	b := comp.NewVirtReg(x86.KindGp, 8, 8, "b")

	f := comp.NewFunc("args", a, b)

	f.Inst(int(x86.InstAdd), cc.Reg(a), cc.Reg(b))
	f.Ret(cc.Reg(a))

	run(t, comp, f, func(p *ra.Pass) {
		entry := p.Entry()

		wa := p.WorkRegOf(a.ID)
		wb := p.WorkRegOf(b.ID)

		require.ElementsMatch(t, []int{wa.WorkID, wb.WorkID}, bitsOf(entry.In))
	})
}

func TestFuncCallClobbers(t *testing.T) {
	comp := cc.New()

	a := comp.NewVirtReg(x86.KindGp, 8, 8, "a")

	f := comp.NewFunc("calls")

	call := f.Call(int(x86.InstCall), cc.Reg(a))
	f.Ret()

	run(t, comp, f, func(p *ra.Pass) {
		require.True(t, p.Entry().Has(ra.BlockHasFuncCalls))

		d := p.Data(call)
		require.NotNil(t, d)
		require.NotZero(t, d.ClobberedRegs[x86.KindGp])

		tied := d.FindTied(a.ID)
		require.NotNil(t, tied)
		require.NotZero(t, tied.Flags&ra.TiedRFunc)
	})

	// The prolog/epilog contract survives the teardown.
	require.True(t, f.Frame.HasCalls)
	require.NotZero(t, f.Frame.Clobbered[x86.KindGp])
	require.NotZero(t, f.Frame.Used[x86.KindGp])
}

func TestOverlappedRegs(t *testing.T) {
	comp := cc.New()

	v := comp.NewVirtReg(x86.KindGp, 8, 8, "v")
	b := comp.NewVirtReg(x86.KindGp, 8, 8, "b")
	d := comp.NewVirtReg(x86.KindGp, 8, 8, "d")

	f := comp.NewFunc("overlap")

	// cpuid pins different output registers onto the operand positions;
	// one virtual register cannot take two of them.
	f.Inst(int(x86.InstCpuid), cc.Reg(v), cc.Reg(b), cc.Reg(v), cc.Reg(d))
	f.Ret()

	pass := newPass(t, comp)

	err := pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.ErrorIs(t, err, ra.ErrOverlappedRegs)
}

func TestUnknownInstruction(t *testing.T) {
	comp := cc.New()

	f := comp.NewFunc("bad")

	f.Inst(99999)
	f.Ret()

	pass := newPass(t, comp)

	err := pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.ErrorIs(t, err, ra.ErrInvalidInstruction)
}

func TestInvalidVirtID(t *testing.T) {
	comp := cc.New()

	f := comp.NewFunc("badvirt")

	f.Inst(int(x86.InstInc), cc.RegID(42))
	f.Ret()

	pass := newPass(t, comp)

	err := pass.RunOnFunction(context.Background(), arena.New(0), f)
	require.ErrorIs(t, err, ra.ErrInvalidVirtID)
}

func TestNoHeapMemory(t *testing.T) {
	comp := cc.New()

	v := comp.NewVirtReg(x86.KindGp, 8, 8, "v")

	f := comp.NewFunc("oom")

	f.Inst(int(x86.InstInc), cc.Reg(v))
	f.Ret(cc.Reg(v))

	pass := newPass(t, comp)

	err := pass.RunOnFunction(context.Background(), arena.New(16), f)
	require.ErrorIs(t, err, ra.ErrNoHeapMemory)
}

func TestIdempotence(t *testing.T) {
	comp := cc.New()

	x := comp.NewVirtReg(x86.KindGp, 8, 8, "x")
	y := comp.NewVirtReg(x86.KindGp, 8, 8, "y")

	l1 := comp.NewLabel()
	l2 := comp.NewLabel()

	f := comp.NewFunc("idem", x)

	f.Inst(int(x86.InstCmp), cc.Reg(x), cc.Imm(0))
	f.Inst(int(x86.InstJne), cc.LabelRef(l1))
	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(1))
	f.Inst(int(x86.InstJmp), cc.LabelRef(l2))

	_, err := comp.Bind(f, l1)
	require.NoError(t, err)

	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(2))

	_, err = comp.Bind(f, l2)
	require.NoError(t, err)

	f.Ret(cc.Reg(y))

	var shapes []passShape

	for it := 0; it < 2; it++ {
		pass := newPass(t, comp)

		pass.Observer = func(p *ra.Pass) {
			shapes = append(shapes, shapeOf(p))
		}

		err := pass.RunOnFunction(context.Background(), arena.New(0), f)
		require.NoError(t, err)
	}

	require.Len(t, shapes, 2)
	require.Equal(t, shapes[0], shapes[1])
}

func TestNearestCommonDominator(t *testing.T) {
	comp := cc.New()

	x := comp.NewVirtReg(x86.KindGp, 8, 8, "x")
	y := comp.NewVirtReg(x86.KindGp, 8, 8, "y")

	l1 := comp.NewLabel()
	l2 := comp.NewLabel()

	f := comp.NewFunc("diamond")

	f.Inst(int(x86.InstCmp), cc.Reg(x), cc.Imm(0))
	f.Inst(int(x86.InstJne), cc.LabelRef(l1))
	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(1))
	f.Inst(int(x86.InstJmp), cc.LabelRef(l2))

	_, err := comp.Bind(f, l1)
	require.NoError(t, err)

	f.Inst(int(x86.InstMov), cc.Reg(y), cc.Imm(2))

	_, err = comp.Bind(f, l2)
	require.NoError(t, err)

	f.Ret(cc.Reg(y))

	run(t, comp, f, func(p *ra.Pass) {
		entry := p.Entry()

		then := entry.Successors[0]
		els := entry.Successors[1]

		require.Equal(t, entry, p.NearestCommonDominator(then, els))
		require.Equal(t, entry, p.NearestCommonDominator(els, then))
		require.Equal(t, then, p.NearestCommonDominator(then, then))

		join := p.Exits()[0]
		require.Equal(t, entry, p.NearestCommonDominator(then, join))
	})
}
