// Package loader implements the Module Registry collaborator (spec.md §3.11,
// §4.6). Parsing and compiling source into bytecode.Code is out of scope per
// spec.md §1; this package implements only the core's consumed contract —
// Lookup(path) (*bytecode.Code, needsExecute, error) — as a minimal
// in-memory cache, grounded on vm.go's globalClasses/storeGlobalClass
// map-plus-mutex pattern, generalized from class registration to module
// loading so LoadModule (§4.6) is exercisable end to end.
package loader

import (
	"fmt"
	"sync"

	"github.com/greenvm/greenvm/bytecode"
)

// Compiler turns a module path into its top-level Code. The real compiler
// (lexer/parser/compiler pipeline) is out of scope; callers of New supply
// whatever resolves a path to Code, including a test double that returns a
// precompiled bytecode.Code.
type Compiler func(path string) (*bytecode.Code, error)

// Registry caches compiled modules by path so a module's top-level block
// runs exactly once no matter how many times it is imported (spec.md §4.6:
// "a module already loaded is returned without re-executing its top-level
// block").
type Registry struct {
	compile Compiler

	mu      sync.RWMutex
	loaded  map[string]*bytecode.Code
	running map[string]struct{}
}

// New builds a Registry backed by compile, the out-of-scope source-to-code
// step.
func New(compile Compiler) *Registry {
	return &Registry{
		compile: compile,
		loaded:  make(map[string]*bytecode.Code),
		running: make(map[string]struct{}),
	}
}

// Lookup implements vm.ModuleRegistry. On first request for path it
// compiles the module and reports needsExecute=true so the interpreter runs
// its top-level block; on every subsequent request it returns the cached
// Code with needsExecute=false.
func (r *Registry) Lookup(path string) (*bytecode.Code, bool, error) {
	r.mu.RLock()
	if code, ok := r.loaded[path]; ok {
		r.mu.RUnlock()
		return code, false, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: another goroutine may have finished
	// compiling path while we waited.
	if code, ok := r.loaded[path]; ok {
		return code, false, nil
	}
	if _, inFlight := r.running[path]; inFlight {
		return nil, false, fmt.Errorf("loader: circular module load of %q", path)
	}

	if r.compile == nil {
		return nil, false, fmt.Errorf("loader: no compiler configured for %q", path)
	}

	r.running[path] = struct{}{}
	code, err := r.compile(path)
	delete(r.running, path)
	if err != nil {
		return nil, false, fmt.Errorf("loader: loading %q: %w", path, err)
	}

	r.loaded[path] = code
	return code, true, nil
}

// Preload registers code directly under path without invoking the
// compiler. A later Lookup of path returns code with needsExecute=false.
func (r *Registry) Preload(path string, code *bytecode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[path] = code
}
