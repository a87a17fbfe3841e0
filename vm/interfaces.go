package vm

import (
	"io"
	"time"

	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// Scheduler is the collaborator the interpreter hands a process back to at
// every suspension point (spec.md §4.3). It is defined here, rather than
// imported from the scheduler package, so that scheduler can implement it
// without vm importing scheduler — only the top-level wiring (cmd/greenvm)
// needs to see both packages.
type Scheduler interface {
	// Enqueue makes p runnable again on its assigned pool.
	Enqueue(p *process.Process)
	// EnqueueSleeping registers p on the suspension list to wake at deadline.
	EnqueueSleeping(p *process.Process, deadline time.Time)
	// MoveToPool reassigns p to pool and enqueues it there.
	MoveToPool(p *process.Process, pool process.PoolID)
	// Spawn creates and enqueues a new process rooted at root on the given pool.
	Spawn(root *process.Context, pool process.PoolID) *process.Process
	// SetExitStatus records the VM-wide exit status (first write wins, per
	// spec.md §5 "idempotent and racy-safe").
	SetExitStatus(code int)
	// Terminate signals all pools to drain and join (spec.md §5).
	Terminate()
	// Lookup resolves a PID to its live process, for Send's mailbox delivery.
	Lookup(pid process.PID) (*process.Process, bool)
}

// GCCoordinator is the collaborator the interpreter hands a process to when
// a safepoint finds a GC flag set (spec.md §4.1, §4.8 GC Coordinator).
type GCCoordinator interface {
	// Request schedules p for collection; the coordinator re-enqueues p onto
	// scheduler once collection completes (spec.md §5 ordering guarantee iv).
	Request(p *process.Process, youngGen, mailbox bool)
}

// Poller is the network poller collaborator (§3.12, out of scope per
// spec.md §1 beyond its consumed contract).
type Poller interface {
	// Register starts watching fd for the given interest and returns a
	// channel that is closed exactly once, when fd becomes ready. It does
	// not re-enqueue any process itself.
	Register(fd int, interest PollInterest) (ready <-chan struct{}, err error)
	Deregister(fd int)
}

// PollInterest is the direction a registered fd is awaited for.
type PollInterest byte

const (
	PollReadable PollInterest = iota
	PollWritable
)

// ModuleRegistry is the Module Registry collaborator (§3.11, §4.6).
type ModuleRegistry interface {
	// Lookup returns the cached or newly parsed top-level block for path,
	// and whether it still needs its top-level block executed (false if
	// another context already ran it).
	Lookup(path string) (code *bytecode.Code, needsExecute bool, err error)
}

// Collaborators bundles every external dependency the interpreter consults,
// so Run takes one value instead of one positional parameter per dependency.
type Collaborators struct {
	Scheduler Scheduler
	GC        GCCoordinator
	Poller    Poller
	Modules   ModuleRegistry
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// panicHandlerArg builds the single string argument passed to a panic
// handler block (spec.md §4.8).
func panicHandlerArg(message string) values.Value {
	return values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: message})
}
