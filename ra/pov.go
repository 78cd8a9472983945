package ra

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/set"
)

type (
	blockVisit struct {
		block *Block
		index int
	}
)

// constructPOV is step 2: a reverse-postorder of the reachable blocks,
// built by an iterative DFS with an explicit stack. A block's POVOrder is
// assigned when the DFS leaves it, giving a true postorder.
func (p *Pass) constructPOV(ctx context.Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	if len(p.blocks) == 0 {
		return nil
	}

	w, err := p.arena.Words(set.WordsFor(len(p.blocks)))
	if err != nil {
		return errors.Wrap(ErrNoHeapMemory, "visited")
	}

	visited := set.Wrap(w)

	var stack []blockVisit

	current := p.blocks[0]
	visited.Set(current.ID)
	i := 0

	for {
		for i < len(current.Successors) {
			child := current.Successors[i]
			i++

			if visited.IsSet(child.ID) {
				continue
			}

			visited.Set(child.ID)

			stack = append(stack, blockVisit{current, i})
			current = child
			i = 0
		}

		current.POVOrder = len(p.pov)
		p.pov = append(p.pov, current)

		if len(stack) == 0 {
			break
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		current = top.block
		i = top.index
	}

	tr.V("ra_pov").Printw("pov constructed", "blocks", len(p.blocks), "reachable", len(p.pov))

	return nil
}
