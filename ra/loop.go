package ra

import (
	"context"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/set"
)

// constructLoops is step 4: natural-loop discovery. An edge whose target
// dominates its source is a back-edge; the loop body is everything that
// reaches the edge's source without passing through the header. Loops
// sharing a header merge into one. Each block's weight grows by one per
// containing loop and its Loop pointer names the innermost one.
func (p *Pass) constructLoops(ctx context.Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	nw := set.WordsFor(len(p.blocks))

	for _, b := range p.pov {
		for _, h := range b.Successors {
			if !p.Dominates(h, b) {
				continue
			}

			// Back-edge b -> h.
			tr.V("ra_loops").Printw("back edge", "from", b.ID, "header", h.ID)

			loop := p.loopWithHeader(h)
			if loop == nil {
				loop, err = p.newLoop(h, nw)
				if err != nil {
					return err
				}
			}

			err = p.collectLoopBody(loop, b)
			if err != nil {
				return err
			}
		}
	}

	if len(p.loops) == 0 {
		p.markSinglePass()

		return nil
	}

	// Smallest body first, so the first loop containing a block is its
	// innermost.
	sorted := make([]*Loop, len(p.loops))
	copy(sorted, p.loops)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].body.Size() < sorted[j].body.Size()
	})

	for _, b := range p.pov {
		for _, l := range sorted {
			if !l.body.IsSet(b.ID) {
				continue
			}

			if b.Loop == nil {
				b.Loop = l
			}

			b.Weight++
		}
	}

	for _, l := range sorted {
		for _, m := range sorted {
			if m == l || m.body.Size() <= l.body.Size() {
				continue
			}

			if !m.body.IsSet(l.Header.ID) {
				continue
			}

			l.Parent = m
			m.Flags |= LoopHasNested

			break
		}
	}

	p.markSinglePass()

	tr.V("ra_loops").Printw("loops constructed", "count", len(p.loops))

	return nil
}

func (p *Pass) loopWithHeader(h *Block) *Loop {
	for _, l := range p.loops {
		if l.Header == h {
			return l
		}
	}

	return nil
}

func (p *Pass) newLoop(h *Block, words int) (*Loop, error) {
	l, err := p.loopSlab.New()
	if err != nil {
		return nil, errors.Wrap(ErrNoHeapMemory, "loop")
	}

	w, err := p.arena.Words(words)
	if err != nil {
		return nil, errors.Wrap(ErrNoHeapMemory, "loop body")
	}

	l.ID = len(p.loops)
	l.Header = h
	l.body = set.Wrap(w)
	l.body.Set(h.ID)

	p.loops = append(p.loops, l)

	return l, nil
}

// collectLoopBody floods backwards from the latch over predecessors,
// stopping at the header.
func (p *Pass) collectLoopBody(l *Loop, latch *Block) error {
	if l.body.IsSet(latch.ID) {
		return nil
	}

	l.body.Set(latch.ID)

	work := []*Block{latch}

	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]

		for _, pred := range b.Predecessors {
			if l.body.IsSet(pred.ID) {
				continue
			}

			l.body.Set(pred.ID)
			work = append(work, pred)
		}
	}

	return nil
}

// Body reports whether the loop contains the block.
func (l *Loop) Body(b *Block) bool {
	return l.body.IsSet(b.ID)
}

// markSinglePass flags blocks outside of every loop: they execute at
// most once per function invocation.
func (p *Pass) markSinglePass() {
	for _, b := range p.pov {
		if b.Weight == 0 {
			b.add(BlockSinglePass)
		}
	}
}
