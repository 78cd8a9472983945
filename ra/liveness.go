package ra

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/set"
)

type (
	// liveWork orders the fixed-point work-list by postorder so that a
	// block's successors tend to be processed before the block itself.
	liveWork struct {
		heap.Heap[*Block]

		queued set.Bits
	}
)

// constructLiveness is step 5: classical backward live-variable analysis
// over packed bit-vectors of work-register ids.
func (p *Pass) constructLiveness(ctx context.Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	numWork := len(p.workRegs)
	if numWork == 0 {
		tr.V("ra_liveness").Printw("no work registers")

		return nil
	}

	scratch, err := p.liveBits(numWork)
	if err != nil {
		return err
	}

	work := liveWork{Heap: heap.Heap[*Block]{Less: povLess}}

	w, err := p.arena.Words(set.WordsFor(len(p.blocks)))
	if err != nil {
		return errors.Wrap(ErrNoHeapMemory, "work list")
	}

	work.queued = set.Wrap(w)

	// Phase A: per-block GEN and KILL, scanning each block backwards.
	// A later write shadows earlier reads of the same register within
	// the block, so order matters.
	for i := len(p.pov); i > 0; {
		i--
		b := p.pov[i]

		err = p.resizeLiveBits(b, numWork)
		if err != nil {
			return err
		}

		work.push(b)

		scratch.Reset()

		node := b.Last
		stop := b.First

		for {
			// Instruction-like nodes carry tied registers; so does the
			// function head when it references arguments.
			d := p.data(node)
			if d == nil && node.ActsAsInst() {
				return errors.Wrap(ErrInvalidState, "no ra data at %d", node.Pos)
			}

			if d != nil {
				d.Liveness, err = p.liveBits(numWork)
				if err != nil {
					return err
				}

				d.Liveness.CopyFrom(scratch)

				for i := range d.Tied {
					t := &d.Tied[i]

					workID := p.workOf[t.VirtID].WorkID

					if t.IsWriteOnly() {
						b.Kill.Set(workID)
						scratch.Clear(workID)
					} else {
						b.Kill.Clear(workID)
						b.Gen.Set(workID)
						scratch.Set(workID)
					}
				}
			}

			if node == stop {
				break
			}

			node = node.Prev
			if node == nil {
				return errors.Wrap(ErrInvalidState, "block %d not linked", b.ID)
			}
		}
	}

	// Phase B: fixed point of OUT = union of successor INs and
	// IN = (OUT | GEN) &^ KILL.
	visits := 0

	for work.Len() > 0 {
		b := work.pop()
		visits++

		// The first visit always counts as a change.
		changed := !b.Has(BlockHasLiveness)
		if changed {
			b.add(BlockHasLiveness)
		}

		for _, s := range b.Successors {
			if b.Out.Or(s.In) {
				changed = true
			}
		}

		if !changed {
			continue
		}

		if !b.In.LiveIn(b.Out, b.Gen, b.Kill) {
			continue
		}

		for _, pred := range b.Predecessors {
			if !pred.Has(BlockHasLiveness) {
				continue
			}

			work.push(pred)

			tlog.V("ra_worklist").Printw("requeued", "block", pred.ID, "after", b.ID, "from", loc.Caller(0))
		}
	}

	if tr.If("ra_dump_liveness") {
		p.dumpLiveness(tr)
	}

	tr.V("ra_liveness").Printw("liveness constructed", "work_regs", numWork, "visits", visits)

	return nil
}

func (p *Pass) resizeLiveBits(b *Block, n int) (err error) {
	b.In, err = p.liveBits(n)
	if err != nil {
		return err
	}

	b.Out, err = p.liveBits(n)
	if err != nil {
		return err
	}

	b.Gen, err = p.liveBits(n)
	if err != nil {
		return err
	}

	b.Kill, err = p.liveBits(n)
	if err != nil {
		return err
	}

	return nil
}

func povLess(d []*Block, i, j int) bool {
	return d[i].POVOrder < d[j].POVOrder
}

func (w *liveWork) push(b *Block) {
	if w.queued.IsSet(b.ID) {
		return
	}

	w.queued.Set(b.ID)
	w.Heap.Push(b)
}

func (w *liveWork) pop() *Block {
	b := w.Heap.Pop()
	w.queued.Clear(b.ID)

	return b
}
