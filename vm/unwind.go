package vm

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// defaultPanicHandlerMu guards the VM-wide default panic handler (spec.md §9
// "Global mutable state... centralize in a single state value shared by all
// workers; mutate only through... explicit locks").
var (
	defaultPanicHandlerMu sync.RWMutex
	defaultPanicHandler   values.Value
	hasDefaultHandler     bool
)

// SetDefaultPanicHandler installs the VM-wide fallback panic handler used
// by processes that never call SetPanicHandler themselves.
func SetDefaultPanicHandler(block values.Value) {
	defaultPanicHandlerMu.Lock()
	defer defaultPanicHandlerMu.Unlock()
	defaultPanicHandler = block
	hasDefaultHandler = true
}

func effectivePanicHandler(p *process.Process) (values.Value, bool) {
	if p.HasPanicHandler() {
		return p.PanicHandler, true
	}
	defaultPanicHandlerMu.RLock()
	defer defaultPanicHandlerMu.RUnlock()
	return defaultPanicHandler, hasDefaultHandler
}

// throwValue implements spec.md §4.2's three-step unwind walk, grounded on
// the teacher's raiseException catch-table walk generalized to carry
// deferred blocks (§4.7) across unwound frames.
func throwValue(p *process.Process, ctx *process.Context, v values.Value, c Collaborators) step {
	var carry []values.Value
	cur := ctx
	for cur != nil {
		if entry, ok := cur.Code.FindCatch(cur.IP); ok {
			cur.Registers[entry.Register] = v
			cur.IP = entry.JumpTo
			if len(carry) > 0 {
				cur.Deferred = append(cur.Deferred, carry...)
			}
			p.Top = cur
			return cont()
		}
		if len(cur.Deferred) > 0 {
			carry = append(carry, cur.Deferred...)
			cur.Deferred = nil
		}
		cur = cur.Parent
	}

	// Root popped without a handler: the throw becomes a panic carrying the
	// deferred blocks collected along the way (spec.md §4.2 step 3, §7
	// "uncaught-throw case produces a panic with a specific message
	// containing the PID").
	p.Top = nil
	msg := fmt.Sprintf("uncaught throw in process %s", p.PID.String())
	return dispatchPanicWithDefers(p, msg, carry, c)
}

// dispatchPanic is the entry point for the explicit Panic instruction
// (spec.md §4.8); no deferred blocks have been carried by an unwind. When a
// handler is set, the remaining context chain's own defers are scheduled to
// run before it; without a handler, they are not run.
func dispatchPanic(p *process.Process, msg string, c Collaborators) step {
	return dispatchPanicWithDefers(p, msg, nil, c)
}

// dispatchPanicWithDefers implements spec.md §4.8 steps 1-3.
func dispatchPanicWithDefers(p *process.Process, msg string, carry []values.Value, c Collaborators) step {
	handlerValue, ok := effectivePanicHandler(p)
	var block *process.Block
	if ok {
		block, ok = blockFromOperand(handlerValue)
	}
	if !ok {
		writePanicOutput(p, msg, c)
		c.Scheduler.SetExitStatus(1)
		c.Scheduler.Terminate()
		return terminate()
	}

	var allDefers []values.Value
	allDefers = append(allDefers, carry...)
	for cur := p.Top; cur != nil; cur = cur.Parent {
		for {
			v, ok := cur.PopDeferred()
			if !ok {
				break
			}
			allDefers = append(allDefers, v)
		}
	}

	base := p.Top
	hBinding := &process.Binding{Locals: make([]values.Value, block.Code.MaxLocals), Parent: block.Parent}
	hctx := process.NewContext(block.Code, base, hBinding)
	hctx.TerminateOnReturn = true
	if block.Code.MaxRegisters > 0 {
		hctx.Registers[0] = panicHandlerArg(msg)
	}

	cur := hctx
	for i := len(allDefers) - 1; i >= 0; i-- {
		b, ok := blockFromOperand(allDefers[i])
		if !ok {
			continue
		}
		binding := &process.Binding{Locals: make([]values.Value, b.Code.MaxLocals), Parent: b.Parent}
		dctx := process.NewContext(b.Code, cur, binding)
		cur = dctx
	}
	p.Top = cur
	return cont()
}

// writePanicOutput renders spec.md §6's "Panic output": PID, message, and a
// stack trace derived from the context chain.
func writePanicOutput(p *process.Process, msg string, c Collaborators) {
	var b strings.Builder
	fmt.Fprintf(&b, "process %s panicked: %s\n", p.PID.String(), msg)
	for cur := p.Top; cur != nil; cur = cur.Parent {
		fmt.Fprintf(&b, "\tat %s:%d\n", cur.Code.Name, cur.Line)
	}
	if c.Stderr != nil {
		io.WriteString(c.Stderr, b.String())
	}
}

// drainAllDefersOnExit implements spec.md §4.7's Exit contract: walk the
// full context chain, collect every still-pending deferred block, and run
// each synchronously before the VM terminates.
func drainAllDefersOnExit(p *process.Process, c Collaborators) {
	var allDefers []values.Value
	for cur := p.Top; cur != nil; cur = cur.Parent {
		for {
			v, ok := cur.PopDeferred()
			if !ok {
				break
			}
			allDefers = append(allDefers, v)
		}
	}
	for _, v := range allDefers {
		if b, ok := blockFromOperand(v); ok {
			runBlockSynchronously(p, b, c)
		}
	}
}

// runBlockSynchronously drives the dispatch loop directly (bypassing Run's
// suspension/safepoint bookkeeping, irrelevant once the VM is exiting)
// until the pushed block's context pops back off the stack.
func runBlockSynchronously(p *process.Process, b *process.Block, c Collaborators) {
	binding := &process.Binding{Locals: make([]values.Value, b.Code.MaxLocals), Parent: b.Parent}
	base := p.Top
	child := process.NewContext(b.Code, base, binding)
	p.Top = child
	for p.Top != base {
		cur := p.Top
		if cur.IP < 0 || cur.IP >= len(cur.Code.Instructions) {
			p.Top = base
			return
		}
		inst := cur.Code.Instructions[cur.IP]
		cur.IP++
		st := dispatch(p, cur, inst, c)
		if st.kind == stepFatal || st.kind == stepTerminated {
			p.Top = base
			return
		}
	}
}
