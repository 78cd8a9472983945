package ra

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/set"
)

// DumpCFG renders the block graph as text.
func (p *Pass) DumpCFG(b []byte) []byte {
	for _, blk := range p.blocks {
		b = hfmt.Appendf(b, "{block #%d}", blk.ID)

		if len(blk.Successors) != 0 {
			b = append(b, " => ["...)

			for i, s := range blk.Successors {
				if i != 0 {
					b = append(b, ", "...)
				}

				b = hfmt.Appendf(b, "#%d", s.ID)
			}

			b = append(b, ']')
		}

		if blk.Weight != 0 {
			b = hfmt.Appendf(b, " weight=%d", blk.Weight)
		}

		b = append(b, '\n')
	}

	return b
}

// DumpLiveness renders per-block IN/OUT/GEN/KILL sets as text, naming
// registers where the front-end named them.
func (p *Pass) DumpLiveness(b []byte) []byte {
	for _, blk := range p.blocks {
		if !blk.Has(BlockHasLiveness) {
			continue
		}

		b = hfmt.Appendf(b, "{block #%d}\n", blk.ID)

		b = p.dumpBits(b, "IN  ", blk.In)
		b = p.dumpBits(b, "OUT ", blk.Out)
		b = p.dumpBits(b, "GEN ", blk.Gen)
		b = p.dumpBits(b, "KILL", blk.Kill)
	}

	return b
}

func (p *Pass) dumpBits(b []byte, name string, bits set.Bits) []byte {
	n := 0

	bits.Range(func(i int) bool {
		if n == 0 {
			b = hfmt.Appendf(b, "  %s [", name)
		} else {
			b = append(b, ", "...)
		}

		w := p.workRegs[i]

		v := p.cc.VirtRegAt(w.VirtID)
		if v != nil && v.Name != "" {
			b = append(b, v.Name...)
		} else {
			b = hfmt.Appendf(b, "w%d", i)
		}

		n++

		return true
	})

	if n != 0 {
		b = append(b, "]\n"...)
	}

	return b
}

func (p *Pass) dumpCFG(tr tlog.Span) {
	tr.Printw("cfg", "text", string(p.DumpCFG(nil)))
}

func (p *Pass) dumpLiveness(tr tlog.Span) {
	tr.Printw("liveness", "text", string(p.DumpLiveness(nil)))
}
