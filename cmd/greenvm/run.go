package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/config"
	"github.com/greenvm/greenvm/gc"
	"github.com/greenvm/greenvm/loader"
	"github.com/greenvm/greenvm/netpoll"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/scheduler"
)

// runFile wires every collaborator together (spec.md §2 data flow: loader
// produces compiled code, a Process is created with a root context over
// that code, the Scheduler places it on a pool) and blocks until the VM
// terminates, returning the process exit status.
func runFile(file string, searchPaths []string, configPath string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return 1, err
	}

	registry := loader.New(bytecodeFileCompiler(searchPaths))
	poller := netpoll.New()
	collector := gc.New(4)

	// A single shared bufio.Reader, not a fresh one per IORead call: IORead
	// reads up to maxLen bytes at a time, and a per-call bufio.Reader would
	// discard whatever it buffered beyond that on return.
	sched := scheduler.New(cfg, collector, pollerAdapter{poller}, registry, bufio.NewReader(os.Stdin), os.Stdout, os.Stderr)
	collector.Attach(sched)

	code, needsExecute, err := registry.Lookup(file)
	if err != nil {
		return 1, fmt.Errorf("Failed to parse file %s: %w", file, err)
	}
	if !needsExecute {
		return 0, nil
	}

	root := process.NewContext(code, nil, nil)
	root.TerminateOnReturn = true
	sched.Spawn(root, process.PoolPrimary)

	<-sched.Done()
	return sched.ExitStatus(), nil
}

// bytecodeFileCompiler returns the loader.Compiler used by the CLI: parsing
// a bytecode file from disk is the bytecode file parser spec.md §1 names as
// an external collaborator, out of scope for the core. This stub reports
// that boundary explicitly rather than silently no-oping.
func bytecodeFileCompiler(searchPaths []string) loader.Compiler {
	return func(path string) (*bytecode.Code, error) {
		return nil, fmt.Errorf("greenvm: no bytecode file parser configured for %q (search paths: %v)", path, searchPaths)
	}
}
