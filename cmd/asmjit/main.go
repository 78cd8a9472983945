package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/xantares/asmjit/arena"
	"github.com/xantares/asmjit/cc"
	"github.com/xantares/asmjit/listing"
	"github.com/xantares/asmjit/ra"
	"github.com/xantares/asmjit/x86"
)

func main() {
	raCmd := &cli.Command{
		Name:        "ra",
		Description: "run register-allocation analysis on a listing and dump the result",
		Action:      raAct,
		Args:        cli.Args{},
	}

	instsCmd := &cli.Command{
		Name:        "insts",
		Description: "list known x86 instructions",
		Action:      instsAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "asmjit",
		Description: "asmjit is a toolbox around the jit assembler framework",
		Commands: []*cli.Command{
			raCmd,
			instsCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func raAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, name := range c.Args {
		err = runFile(ctx, name)
		if err != nil {
			return errors.Wrap(err, "%v", name)
		}
	}

	return nil
}

func runFile(ctx context.Context, name string) (err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	comp := cc.New()

	funcs, err := listing.Parse(comp, text)
	if err != nil {
		return errors.Wrap(err, "parse listing")
	}

	pass, err := ra.New(x86.New(x86.Mode64), comp)
	if err != nil {
		return err
	}

	a := arena.New(env.Int("ASMJIT_ARENA_MAX", 0))

	var out []byte

	pass.Observer = func(p *ra.Pass) {
		out = p.DumpCFG(out)
		out = p.DumpLiveness(out)
	}

	for _, f := range funcs {
		out = append(out, "func "...)
		out = append(out, f.Name...)
		out = append(out, '\n')

		err = pass.RunOnFunction(ctx, a, f)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	fmt.Printf("%s", out)

	return nil
}

func instsAct(c *cli.Command) error {
	for id := x86.InstNone + 1; x86.IsDefinedID(id); id++ {
		fmt.Printf("%s\n", x86.Get(id).Name)
	}

	return nil
}
