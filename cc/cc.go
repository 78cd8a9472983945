// Package cc holds the code-compiler model the register allocator works on:
// virtual registers, operands, and the doubly-linked instruction node list
// bounded by a function node and an end sentinel.
package cc

import (
	"tlog.app/go/errors"
)

type (
	// Kind is a register family. Values are assigned by the target
	// architecture; at most MaxKinds families exist.
	Kind uint8

	VirtReg struct {
		ID    int
		Kind  Kind
		Size  int
		Align int
		Name  string

		// Preferred is a mask of physical registers the front-end would
		// like this register to land in. Zero means no preference.
		Preferred uint32
	}

	NodeKind uint8

	// Node is one element of a function's linear code list. A single
	// concrete struct keeps list surgery trivial; Kind selects which
	// payload fields are meaningful.
	Node struct {
		Prev, Next *Node

		Kind NodeKind

		// Pos is a stable per-function stamp assigned by passes that
		// walk the list. Dense while the pass runs.
		Pos int

		// NodeInst, NodeFuncCall.
		InstID int
		Ops    []Operand
		Extra  Operand

		// NodeLabel.
		LabelID int
	}

	Func struct {
		Name string

		// First is the NodeFunc node, End the trailing sentinel.
		// The function body is the open interval between them.
		First *Node
		End   *Node

		Args []*VirtReg

		// Frame is filled by the register allocator and read by the
		// prolog/epilog emitter.
		Frame FrameHint
	}

	// FrameHint is the pass's contract with the prolog/epilog emitter.
	FrameHint struct {
		Used      [MaxKinds]uint32
		Clobbered [MaxKinds]uint32
		HasCalls  bool
	}

	// Compiler owns the virtual-register table and label bookkeeping
	// shared by every function it builds.
	Compiler struct {
		virts  []*VirtReg
		labels []*Node // label id -> label node, nil until bound
	}
)

const MaxKinds = 4

const (
	NodeNone NodeKind = iota
	NodeInst
	NodeLabel
	NodeAlign
	NodeComment
	NodeSentinel
	NodeFunc
	NodeFuncRet
	NodeFuncCall
)

// ErrLabel is returned for unbound or out-of-range label references.
var ErrLabel = errors.New("bad label")

func New() *Compiler {
	return &Compiler{}
}

// NewVirtReg registers a fresh virtual register of the given kind.
func (c *Compiler) NewVirtReg(kind Kind, size, align int, name string) *VirtReg {
	v := &VirtReg{
		ID:    len(c.virts),
		Kind:  kind,
		Size:  size,
		Align: align,
		Name:  name,
	}

	c.virts = append(c.virts, v)

	return v
}

func (c *Compiler) VirtRegCount() int { return len(c.virts) }

func (c *Compiler) VirtRegAt(id int) *VirtReg {
	if id < 0 || id >= len(c.virts) {
		return nil
	}

	return c.virts[id]
}

// NewLabel allocates a label id. The label does not refer to a place in
// any code list until bound.
func (c *Compiler) NewLabel() int {
	c.labels = append(c.labels, nil)

	return len(c.labels) - 1
}

// LabelNode resolves a label id to its bound label node.
func (c *Compiler) LabelNode(id int) (*Node, error) {
	if id < 0 || id >= len(c.labels) || c.labels[id] == nil {
		return nil, errors.Wrap(ErrLabel, "label %d", id)
	}

	return c.labels[id], nil
}

// NewFunc creates a function: its NodeFunc head, the end sentinel, and the
// empty body between them. Argument registers are referenced by the head
// node so that they are live into the entry block.
func (c *Compiler) NewFunc(name string, args ...*VirtReg) *Func {
	f := &Func{
		Name: name,
		Args: args,
	}

	ops := make([]Operand, len(args))
	for i, a := range args {
		ops[i] = Reg(a)
	}

	f.First = &Node{Kind: NodeFunc, Ops: ops}
	f.End = &Node{Kind: NodeSentinel}

	f.First.Next = f.End
	f.End.Prev = f.First

	return f
}

// insert links n immediately before the end sentinel.
func (f *Func) insert(n *Node) *Node {
	p := f.End.Prev

	n.Prev = p
	n.Next = f.End
	p.Next = n
	f.End.Prev = n

	return n
}

// Inst appends an instruction node to the function body.
func (f *Func) Inst(instID int, ops ...Operand) *Node {
	return f.insert(&Node{Kind: NodeInst, InstID: instID, Ops: ops})
}

// InstExtra appends an instruction with an implicit extra register
// (REP counter or a {k} mask selector).
func (f *Func) InstExtra(instID int, extra Operand, ops ...Operand) *Node {
	return f.insert(&Node{Kind: NodeInst, InstID: instID, Ops: ops, Extra: extra})
}

// Ret appends a function-return node reading the given operands.
func (f *Func) Ret(ops ...Operand) *Node {
	return f.insert(&Node{Kind: NodeFuncRet, Ops: ops})
}

// Call appends a function-call node passing the given operands.
func (f *Func) Call(instID int, ops ...Operand) *Node {
	return f.insert(&Node{Kind: NodeFuncCall, InstID: instID, Ops: ops})
}

// Align appends an alignment directive.
func (f *Func) Align(n int) *Node {
	return f.insert(&Node{Kind: NodeAlign, InstID: n})
}

// Comment appends an informative node ignored by every pass.
func (f *Func) Comment() *Node {
	return f.insert(&Node{Kind: NodeComment})
}

// Bind places the label in the function body at the current end.
func (c *Compiler) Bind(f *Func, labelID int) (*Node, error) {
	if labelID < 0 || labelID >= len(c.labels) {
		return nil, errors.Wrap(ErrLabel, "label %d", labelID)
	}

	if c.labels[labelID] != nil {
		return nil, errors.Wrap(ErrLabel, "label %d bound twice", labelID)
	}

	n := f.insert(&Node{Kind: NodeLabel, LabelID: labelID})
	c.labels[labelID] = n

	return n, nil
}

// RemoveNode unlinks the node from its list.
func (c *Compiler) RemoveNode(n *Node) {
	if n.Prev != nil {
		n.Prev.Next = n.Next
	}

	if n.Next != nil {
		n.Next.Prev = n.Prev
	}

	n.Prev = nil
	n.Next = nil
}

// ActsAsInst reports whether the node carries operands the register
// allocator must inspect.
func (n *Node) ActsAsInst() bool {
	return n.Kind == NodeInst || n.Kind == NodeFuncCall || n.Kind == NodeFuncRet
}

// Informative reports whether the node carries no code.
func (n *Node) Informative() bool {
	return n.Kind == NodeAlign || n.Kind == NodeComment
}
