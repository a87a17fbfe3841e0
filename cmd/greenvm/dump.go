package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/greenvm/greenvm/bytecode"
)

// bytecodeDumpCommand is a supplemented introspection command
// (SPEC_FULL.md §6): it prints a Compiled Code tree without running the
// VM, exercising loader/bytecode in isolation for debugging.
var bytecodeDumpCommand = &cli.Command{
	Name:      "bytecode-dump",
	Usage:     "print a Compiled Code unit's instructions, literals, and catch table",
	ArgsUsage: "FILE",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("bytecode-dump: FILE is required")
		}
		code, err := bytecodeFileCompiler(nil)(cmd.Args().First())
		if err != nil {
			return err
		}
		dumpCode(os.Stdout, code, 0)
		return nil
	},
}

func dumpCode(w *os.File, c *bytecode.Code, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%sCode %q (%d regs, %d locals, arity %d..%d%s)\n",
		indent, c.Name, c.MaxRegisters, c.MaxLocals,
		c.Arity.RequiredPositional, c.Arity.Max(), restSuffix(c.Arity.HasRest))

	fmt.Fprintf(w, "%s  instructions:\n", indent)
	for i, inst := range c.Instructions {
		fmt.Fprintf(w, "%s    %4d  %s\n", indent, i, inst.String())
	}

	if len(c.Literals) > 0 {
		fmt.Fprintf(w, "%s  literals:\n", indent)
		for i, lit := range c.Literals {
			fmt.Fprintf(w, "%s    %4d  %s\n", indent, i, lit.String())
		}
	}

	if len(c.CatchTable) > 0 {
		fmt.Fprintf(w, "%s  catch table:\n", indent)
		for _, e := range c.CatchTable {
			fmt.Fprintf(w, "%s    (%d, %d] -> %d reg %d\n", indent, e.Start, e.End, e.JumpTo, e.Register)
		}
	}

	for _, child := range c.Children {
		dumpCode(w, child, depth+1)
	}
}

func restSuffix(hasRest bool) string {
	if hasRest {
		return "+rest"
	}
	return ""
}
