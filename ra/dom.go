package ra

import (
	"context"

	"tlog.app/go/tlog"
)

// constructDOM is step 3: immediate dominators by the iterative
// Cooper-Harvey-Kennedy algorithm over the post-order view.
func (p *Pass) constructDOM(ctx context.Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	if len(p.blocks) == 0 {
		return nil
	}

	entry := p.Entry()
	entry.IDom = entry

	changed := true
	iters := 0

	for changed {
		iters++
		changed = false

		// Reverse-postorder: from the end of the POV backwards.
		for i := len(p.pov); i > 0; {
			i--
			b := p.pov[i]

			if b == entry {
				continue
			}

			var idom *Block

			for _, pred := range b.Predecessors {
				if pred.IDom == nil {
					continue
				}

				if idom == nil {
					idom = pred
				} else {
					idom = intersectBlocks(idom, pred)
				}
			}

			if idom != nil && b.IDom != idom {
				tr.V("ra_dom").Printw("idom", "block", b.ID, "idom", idom.ID)

				b.IDom = idom
				changed = true
			}
		}
	}

	tr.V("ra_dom").Printw("dom constructed", "iters", iters)

	return nil
}

// intersectBlocks climbs the partial dominator tree from both blocks
// until the walks meet. Greater POVOrder means closer to the entry.
func intersectBlocks(b1, b2 *Block) *Block {
	for b1 != b2 {
		for b2.POVOrder > b1.POVOrder {
			b1 = b1.IDom
		}

		for b1.POVOrder > b2.POVOrder {
			b2 = b2.IDom
		}
	}

	return b1
}

// StrictlyDominates reports whether a dominates b and a != b.
func (p *Pass) StrictlyDominates(a, b *Block) bool {
	if a == b {
		return false
	}

	return p.strictlyDominates(a, b)
}

// Dominates reports whether a dominates b, with a block dominating
// itself.
func (p *Pass) Dominates(a, b *Block) bool {
	if a == b {
		return true
	}

	return p.strictlyDominates(a, b)
}

func (p *Pass) strictlyDominates(a, b *Block) bool {
	entry := p.Entry()

	// The entry strictly dominates every other block.
	if a == entry {
		return true
	}

	// Nothing strictly dominates the entry block.
	if b == entry {
		return false
	}

	idom := b.IDom
	for idom != a && idom != entry {
		idom = idom.IDom
	}

	return idom == a
}

// NearestCommonDominator finds the closest block dominating both a and b.
// Ancestors of a are stamped with a fresh mark generation, then b's chain
// is searched for a stamped block; the entry is the fallback.
func (p *Pass) NearestCommonDominator(a, b *Block) *Block {
	if a == b {
		return a
	}

	if p.strictlyDominates(a, b) {
		return a
	}

	if p.strictlyDominates(b, a) {
		return b
	}

	entry := p.Entry()

	if len(p.mark) < len(p.blocks) {
		p.mark = make([]uint64, len(p.blocks))
	}

	p.markGen++
	gen := p.markGen

	for x := a.IDom; x != entry; x = x.IDom {
		p.mark[x.ID] = gen
	}

	for x := b.IDom; x != entry; x = x.IDom {
		if p.mark[x.ID] == gen {
			return x
		}
	}

	return entry
}
