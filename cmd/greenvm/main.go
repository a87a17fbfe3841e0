// Command greenvm is the VM's command-line entry point (spec.md §6),
// grounded on cmd/hey/main.go's urfave/cli/v3 root command shape,
// generalized from a PHP front-end (parse/compile/execute) to wiring the
// core's collaborators (scheduler, gc, loader, netpoll) around a precompiled
// bytecode file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"github.com/greenvm/greenvm/version"
)

func main() {
	app := &cli.Command{
		Name:      "greenvm",
		Usage:     "a green-thread bytecode virtual machine",
		ArgsUsage: "FILE",
		HideHelp:  true,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "I",
				Usage: "append a bytecode-search directory",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML configuration file",
			},
			&cli.BoolFlag{
				Name:  "h",
				Usage: "print usage and exit",
			},
			&cli.BoolFlag{
				Name:  "v",
				Usage: "print version and exit",
			},
		},
		Commands: []*cli.Command{
			replCommand,
			bytecodeDumpCommand,
		},
		Action: rootAction,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "greenvm: %v\n", err)
		os.Exit(1)
	}
}

// rootAction implements spec.md §6's CLI contract exactly: -h prints usage
// and exits 1, -v prints the version and exits 0, a missing FILE exits 1
// with usage, and a normal run exits with whatever status the program set
// via Exit or a 1 if it panicked uncaught.
func rootAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("h") {
		_ = cli.ShowAppHelp(cmd)
		os.Exit(1)
		return nil
	}
	if cmd.Bool("v") {
		fmt.Println(version.Version())
		os.Exit(0)
		return nil
	}

	if cmd.Args().Len() == 0 {
		_ = cli.ShowAppHelp(cmd)
		os.Exit(1)
		return nil
	}

	file := cmd.Args().First()
	searchPaths := cmd.StringSlice("I")
	configPath := cmd.String("config")

	code, err := runFile(file, searchPaths, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "greenvm: %v\n", err)
	}
	os.Exit(code)
	return nil
}
