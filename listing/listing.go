// Package listing parses a small textual form of compiler input: one
// function per "func" header followed by labels and instructions over
// named virtual registers. It exists so the analysis passes can be driven
// end to end from the command line.
package listing

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/x86"
)

type (
	parser struct {
		c *cc.Compiler
		f *cc.Func

		regs   map[string]*cc.VirtReg
		labels map[string]int
	}
)

// Parse reads the whole listing and returns the functions it defines.
func Parse(c *cc.Compiler, text []byte) ([]*cc.Func, error) {
	var funcs []*cc.Func

	var p *parser

	for ln, line := range strings.Split(string(text), "\n") {
		line = stripComment(line)
		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		if name, ok := strings.CutPrefix(line, "func "); ok {
			p = newParser(c, strings.Fields(name))
			funcs = append(funcs, p.f)

			continue
		}

		if p == nil {
			return nil, errors.New("line %d: code before func", ln+1)
		}

		err := p.line(line)
		if err != nil {
			return nil, errors.Wrap(err, "line %d", ln+1)
		}
	}

	return funcs, nil
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = line[:i]
	}

	return line
}

func newParser(c *cc.Compiler, head []string) *parser {
	p := &parser{
		c:      c,
		regs:   map[string]*cc.VirtReg{},
		labels: map[string]int{},
	}

	name := "func"
	if len(head) > 0 {
		name = head[0]
	}

	var args []*cc.VirtReg

	if len(head) > 1 {
		for _, a := range head[1:] {
			args = append(args, p.reg(a))
		}
	}

	p.f = c.NewFunc(name, args...)

	return p
}

func (p *parser) reg(name string) *cc.VirtReg {
	if v, ok := p.regs[name]; ok {
		return v
	}

	kind := x86.KindGp
	size := 8

	if strings.HasPrefix(name, "xmm") {
		kind = x86.KindVec
		size = 16
	}

	v := p.c.NewVirtReg(kind, size, size, name)
	p.regs[name] = v

	return v
}

func (p *parser) label(name string) int {
	if id, ok := p.labels[name]; ok {
		return id
	}

	id := p.c.NewLabel()
	p.labels[name] = id

	return id
}

func (p *parser) line(line string) error {
	if name, ok := strings.CutSuffix(line, ":"); ok {
		_, err := p.c.Bind(p.f, p.label(name))

		return err
	}

	mnem, rest, _ := strings.Cut(line, " ")

	var args []string

	rest = strings.TrimSpace(rest)
	if rest != "" {
		args = strings.Split(rest, ",")

		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	switch mnem {
	case "ret":
		ops, err := p.operands(args, false)
		if err != nil {
			return err
		}

		p.f.Ret(ops...)

		return nil

	case "call":
		if len(args) == 0 {
			return errors.New("call needs a target")
		}

		ops, err := p.operands(args[1:], false)
		if err != nil {
			return err
		}

		p.f.Call(int(x86.InstCall), ops...)

		return nil
	}

	id, ok := x86.IDByName(mnem)
	if !ok {
		return errors.New("unknown instruction %q", mnem)
	}

	jump := x86.Get(id).Common.Jump != x86.JumpNone

	ops, err := p.operands(args, jump)
	if err != nil {
		return err
	}

	p.f.Inst(int(id), ops...)

	return nil
}

// operands parses the comma-separated list; for jumps the last operand is
// a label name.
func (p *parser) operands(args []string, jump bool) ([]cc.Operand, error) {
	var ops []cc.Operand

	for i, a := range args {
		if jump && i == len(args)-1 {
			ops = append(ops, cc.LabelRef(p.label(a)))

			continue
		}

		op, err := p.operand(a)
		if err != nil {
			return nil, err
		}

		ops = append(ops, op)
	}

	return ops, nil
}

func (p *parser) operand(a string) (cc.Operand, error) {
	if a == "" {
		return cc.Operand{}, errors.New("empty operand")
	}

	if inner, ok := cutBrackets(a); ok {
		base, index, _ := strings.Cut(inner, "+")

		var b, x *cc.VirtReg

		if base = strings.TrimSpace(base); base != "" {
			b = p.reg(base)
		}

		if index = strings.TrimSpace(index); index != "" {
			x = p.reg(index)
		}

		return cc.Mem(b, x, 0), nil
	}

	if v, err := strconv.ParseInt(a, 0, 64); err == nil {
		return cc.Imm(v), nil
	}

	return cc.Reg(p.reg(a)), nil
}

func cutBrackets(a string) (string, bool) {
	if strings.HasPrefix(a, "[") && strings.HasSuffix(a, "]") {
		return a[1 : len(a)-1], true
	}

	return "", false
}
