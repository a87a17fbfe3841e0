package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/greenvm/greenvm/config"
	"github.com/greenvm/greenvm/gc"
	"github.com/greenvm/greenvm/loader"
	"github.com/greenvm/greenvm/netpoll"
	"github.com/greenvm/greenvm/scheduler"
)

// replCommand is a supplemented feature (SPEC_FULL.md §6): an interactive
// shell, grounded on cmd/hey/main.go's runInteractiveShell but backed by
// chzyer/readline for line editing and history instead of a bare
// bufio.Scanner loop. Each submitted line is looked up in the module
// registry under its own synthetic module path ("<repl:N>"). The registry
// has no compiler configured, so every lookup reports an error; no process
// is spawned for a line.
var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "start an interactive greenvm shell",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL(cmd.String("config"))
	},
}

func runREPL(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := loader.New(nil)
	poller := netpoll.New()
	collector := gc.New(4)
	sched := scheduler.New(cfg, collector, pollerAdapter{poller}, registry, bufio.NewReader(os.Stdin), os.Stdout, os.Stderr)
	collector.Attach(sched)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "greenvm> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("repl: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stdout, "greenvm interactive shell. Ctrl-D to exit.")
	fmt.Fprintln(os.Stdout, "Each line is parsed by the external bytecode compiler, which is not wired")
	fmt.Fprintln(os.Stdout, "into this build; submitted lines will report that boundary explicitly.")

	lineNo := 0
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		lineNo++
		path := fmt.Sprintf("<repl:%d>", lineNo)
		if _, _, err := registry.Lookup(path); err != nil {
			fmt.Fprintf(os.Stderr, "greenvm: %v\n", err)
		}
	}

	return nil
}
