package ra

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/cc"
)

// constructCFG is step 1: one forward scan over the node list forming
// basic blocks, recording successor edges, attaching per-instruction
// tied-register data, and deleting unreachable instructions.
func (p *Pass) constructCFG(ctx context.Context) (err error) {
	tr := tlog.SpanFromContext(ctx)

	node := p.fn.First

	currentBlock, err := p.newBlock(node)
	if err != nil {
		return err
	}

	hasCode := false
	blockIndex := 0
	position := 0

	var stats RegStats

	for {
	scan:
		for {
			position++
			node.Pos = position

			switch {
			case node.Kind == cc.NodeLabel:
				if currentBlock == nil {
					// Unreachable code; the label makes it reachable
					// again.
					currentBlock = p.labelBlock(node)
					if currentBlock != nil {
						if currentBlock.IsConstructed() {
							break scan
						}
					} else {
						currentBlock, err = p.newBlock(node)
						if err != nil {
							return err
						}

						p.setLabelBlock(node, currentBlock)
					}

					hasCode = false
					stats.Reset()

					break
				}

				currentBlock.Last = node.Prev
				currentBlock.makeConstructed(stats)

				if lb := p.labelBlock(node); lb != nil {
					if lb == currentBlock {
						// The label belongs to the block being scanned.
						// Valid only for adjacent labels with no code
						// emitted between them.
						if hasCode {
							return errors.Wrap(ErrInvalidState, "label into non-empty block at %d", node.Pos)
						}
					} else {
						currentBlock.appendSuccessor(lb)
						tr.V("ra_cfg").Printw("block falls through", "block", currentBlock.ID, "to", lb.ID)

						currentBlock = lb
						hasCode = false
						stats.Reset()

						if currentBlock.IsConstructed() {
							break scan
						}
					}
				} else {
					if hasCode {
						// The block already contains code, fork a new
						// one and fall through into it.
						currentBlock.Last = node.Prev
						currentBlock.makeConstructed(stats)

						succ, err := p.newBlock(node)
						if err != nil {
							return err
						}

						currentBlock.appendSuccessor(succ)
						tr.V("ra_cfg").Printw("block forked", "block", currentBlock.ID, "to", succ.ID)

						currentBlock = succ
						hasCode = false
						stats.Reset()
					}

					p.setLabelBlock(node, currentBlock)
				}

			case node.ActsAsInst():
				if currentBlock == nil {
					// Dead code after an unconditional jump. Remove it
					// so later stages never see virtual registers the
					// allocator cannot reach.
					next := node.Next

					tr.V("ra_cfg").Printw("dead code removed", "pos", node.Pos)

					p.cc.RemoveNode(node)
					node = next
					position--

					if node == nil {
						return errors.Wrap(ErrInvalidState, "node list not terminated")
					}

					continue
				}

				hasCode = true

				jump, err := p.tagInst(node, currentBlock, &stats)
				if err != nil {
					return err
				}

				if jump == JumpDirect || jump == JumpConditional {
					ops := node.Ops
					if len(ops) == 0 || !ops[len(ops)-1].IsLabel() {
						return errors.Wrap(ErrInvalidState, "jump target is not a label at %d", node.Pos)
					}

					labelNode, err := p.cc.LabelNode(ops[len(ops)-1].LabelID)
					if err != nil {
						return errors.Wrap(ErrInvalidState, "jump target: %v", err)
					}

					jumpSucc, err := p.newBlockOrMergeWith(labelNode)
					if err != nil {
						return err
					}

					currentBlock.Last = node
					currentBlock.makeConstructed(stats)
					currentBlock.appendSuccessor(jumpSucc)

					if jump == JumpDirect {
						// Code after an unconditional jump is
						// unreachable until a label re-seeds the scan.
						tr.V("ra_cfg").Printw("jump", "block", currentBlock.ID, "to", jumpSucc.ID)

						currentBlock = nil

						break
					}

					node = node.Next
					if node == nil {
						return errors.Wrap(ErrInvalidState, "conditional jump at list end")
					}

					var flow *Block

					if node.Kind == cc.NodeLabel {
						flow = p.labelBlock(node)
						if flow == nil {
							flow, err = p.newBlock(node)
							if err != nil {
								return err
							}

							p.setLabelBlock(node, flow)
						}
					} else {
						flow, err = p.newBlock(node)
						if err != nil {
							return err
						}
					}

					// The fall-through goes first in the successor
					// list.
					currentBlock.prependSuccessor(flow)
					tr.V("ra_cfg").Printw("cond jump", "block", currentBlock.ID, "taken", jumpSucc.ID, "flow", flow.ID)

					currentBlock = flow
					hasCode = false
					stats.Reset()

					if currentBlock.IsConstructed() {
						break scan
					}

					continue
				}

			case node.Kind == cc.NodeSentinel:
				if node == p.fn.End {
					// End of the function; the block (if reachable) is
					// an exit.
					if currentBlock != nil {
						currentBlock.Last = node
						currentBlock.makeConstructed(stats)

						p.exits = append(p.exits, currentBlock)
					}

					break scan
				}

			case node.Kind == cc.NodeFunc:
				if node != p.fn.First {
					return errors.Wrap(ErrInvalidState, "function node inside body at %d", node.Pos)
				}

				// Arguments are referenced by the head node so that
				// they are live into the entry block.
				err = p.tagFuncArgs(node, currentBlock, &stats)
				if err != nil {
					return err
				}

			default:
				// Align, comment, and other informative nodes.
			}

			node = node.Next
			if node == nil {
				return errors.Wrap(ErrInvalidState, "node list not terminated")
			}
		}

		// The current linear run ended. Conditional fall-throughs rewire
		// control, so continue from the next block not seen yet.
		for {
			blockIndex++

			if blockIndex >= len(p.blocks) {
				p.nodesCount = position

				if tr.If("ra_dump_cfg") {
					p.dumpCFG(tr)
				}

				return nil
			}

			currentBlock = p.blocks[blockIndex]

			if !currentBlock.IsConstructed() {
				break
			}
		}

		node = currentBlock.Last
		hasCode = false
		stats.Reset()
	}
}

// tagInst builds the tied-register set of one instruction-like node and
// classifies its jump type.
func (p *Pass) tagInst(node *cc.Node, b *Block, stats *RegStats) (jump JumpType, err error) {
	tb := &p.tb
	tb.reset(p, b)

	switch node.Kind {
	case cc.NodeInst:
		jump, err = p.arch.OnInst(node, tb)
	case cc.NodeFuncCall:
		err = p.tagFuncOps(node, tb)
	case cc.NodeFuncRet:
		err = p.tagFuncOps(node, tb)
	default:
		err = errors.Wrap(ErrInvalidState, "node kind %d", node.Kind)
	}

	if err != nil {
		return 0, errors.Wrap(err, "pos %d", node.Pos)
	}

	err = tb.storeTo(node)
	if err != nil {
		return 0, err
	}

	if node.Kind == cc.NodeFuncCall {
		d := p.data(node)

		for k := cc.Kind(0); k < cc.MaxKinds; k++ {
			m := p.arch.Volatile(k)
			if m == 0 {
				continue
			}

			d.ClobberedRegs[k] = m
			tb.Stats.MakeClobbered(k)
		}

		p.clobberedAll.Or(d.ClobberedRegs)
		b.add(BlockHasFuncCalls)
	}

	stats.CombineWith(tb.Stats)

	return jump, nil
}

// tagFuncOps records call-argument and return-value register reads.
func (p *Pass) tagFuncOps(node *cc.Node, tb *TiedBuilder) error {
	for _, op := range node.Ops {
		if !op.IsReg() {
			continue
		}

		v := p.cc.VirtRegAt(op.VirtID)
		if v == nil {
			return errors.Wrap(ErrInvalidVirtID, "virt %d", op.VirtID)
		}

		err := tb.Add(v, TiedR|TiedRFunc, p.allocable[v.Kind], AnyReg, AnyReg)
		if err != nil {
			return err
		}
	}

	return nil
}

// tagFuncArgs attaches argument reads to the function head node, making
// the arguments live into the entry block.
func (p *Pass) tagFuncArgs(node *cc.Node, b *Block, stats *RegStats) error {
	if len(node.Ops) == 0 {
		return nil
	}

	tb := &p.tb
	tb.reset(p, b)

	err := p.tagFuncOps(node, tb)
	if err != nil {
		return err
	}

	err = tb.storeTo(node)
	if err != nil {
		return err
	}

	stats.CombineWith(tb.Stats)

	return nil
}
