// Package process implements the user-level Process: a linked stack of
// Execution Contexts, a mailbox, and the scheduling state a worker consults
// between interpreter calls. A Process owns its contexts outright (the
// design alternative to the cyclic Process/Context/Binding references the
// original system used, per spec.md §9); back-references such as a
// context's return register are plain indices, never pointers back into the
// owning Process.
package process

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greenvm/greenvm/values"
)

// PID is a process identifier unique over a VM run. Grounded on the
// retrieved pack's use of github.com/google/uuid for collision-free
// identifiers (ProbeChain-go-probe), rather than a bare monotonic counter,
// so log lines and panic reports remain unambiguous across a restarted
// suspension worker.
type PID struct{ id uuid.UUID }

func newPID() PID { return PID{id: uuid.New()} }

func (p PID) String() string { return p.id.String() }

func (p PID) IsZero() bool { return p.id == uuid.Nil }

// PoolID identifies which worker pool a Process is assigned to.
type PoolID byte

const (
	PoolPrimary PoolID = iota
	PoolSecondary
)

// State is one of the process states in spec.md §4.9.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateWaitingForMessage
	StateSleeping
	StatePinned
	StateFinished
)

// GCFlags records which collection requests are due the next time this
// process reaches a safepoint (spec.md §4.1, §4.8 GC Coordinator).
type GCFlags struct {
	YoungGenDue   bool
	MailboxDue    bool
}

// Mailbox is a FIFO queue of messages. Appends are safe for concurrent
// producers; Pop is single-consumer (only the owning process's current
// worker calls it), per spec.md §5.
type Mailbox struct {
	mu   sync.Mutex
	msgs []values.Value
}

func (m *Mailbox) Send(v values.Value) {
	m.mu.Lock()
	m.msgs = append(m.msgs, v)
	m.mu.Unlock()
}

// Pop removes and returns the oldest message, preserving per-sender FIFO
// order (spec.md §5 ordering guarantee (ii)).
func (m *Mailbox) Pop() (values.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		return values.Value{}, false
	}
	v := m.msgs[0]
	m.msgs = m.msgs[1:]
	return v, true
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Process is a user-level task: one linked stack of Contexts (Top), a
// Mailbox, an identity, a pool assignment, and the scheduling flags a
// worker or the suspension list consult. At most one worker operates on a
// Process's context stack and registers at a time (spec.md §3 invariant);
// that part is enforced by convention (the scheduler only ever hands a
// Process to one worker goroutine), not by a lock on Process itself —
// locking there would defeat the ownership transfer the scheduler's queue
// is meant to provide. The waiting/state/deadline fields are a narrower
// exception: Send (§4.5) legitimately inspects and clears a receiver's
// wait state from the sender's own goroutine while that receiver's worker
// may concurrently be setting it via BeginWait, so those fields (and
// nothing else on Process) are guarded by waitMu.
type Process struct {
	PID  PID
	Top  *Context // current (innermost) activation frame; nil once finished
	Pool PoolID

	Mailbox Mailbox

	waitMu       sync.Mutex
	waiting      bool
	waitDeadline time.Time
	hasDeadline  bool
	state        State

	PinnedWorker  *int
	CurrentWorker int
	GCFlags       GCFlags
	PanicHandler  values.Value
	hasPanicHandler bool

	// reductionsSinceGC counts safepoints since the last young-gen request,
	// a cheap proxy for allocation pressure (spec.md §1: "the core only
	// triggers GC requests"). Touched only by the owning worker, same as
	// ReductionsRemaining.
	reductionsSinceGC int

	// ReductionsRemaining counts down from the configured budget; it is
	// reset by the scheduler whenever a Process is dequeued for a fresh
	// time slice (spec.md §4.1 "Safepoint rule").
	ReductionsRemaining int

	ExitCode int
	Finished bool
}

// Thresholds for the GC-flag heuristics NoteSafepoint applies. There is no
// real allocator or mailbox-size policy here (out of scope per spec.md §1);
// these exist so the GC Coordinator is reachable from real interpretation
// at all, with round numbers standing in for a tuned policy.
const (
	youngGenReductionThreshold = 2000
	mailboxGCLenThreshold      = 64
)

// NoteSafepoint applies the GC-request heuristics at a safepoint (spec.md
// §4.1, §4.8 GC Coordinator): a young-gen collection comes due after enough
// reductions have run since the last one, and a mailbox collection comes
// due once the mailbox has piled up past a size threshold. Called only by
// the worker that currently owns p, so no synchronization is needed beyond
// Mailbox's own.
func (p *Process) NoteSafepoint() {
	p.reductionsSinceGC++
	if p.reductionsSinceGC >= youngGenReductionThreshold {
		p.reductionsSinceGC = 0
		p.GCFlags.YoungGenDue = true
	}
	if p.Mailbox.Len() >= mailboxGCLenThreshold {
		p.GCFlags.MailboxDue = true
	}
}

// New creates a Process rooted at a context for the given code, ready to be
// enqueued onto a pool for its first execution.
func New(root *Context, pool PoolID, reductionBudget int) *Process {
	return &Process{
		PID:                 newPID(),
		Top:                 root,
		Pool:                pool,
		state:               StateRunnable,
		ReductionsRemaining: reductionBudget,
	}
}

func (p *Process) State() State {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	return p.state
}

func (p *Process) SetState(s State) {
	p.waitMu.Lock()
	p.state = s
	p.waitMu.Unlock()
}

// PushContext makes ctx the new innermost frame (a call).
func (p *Process) PushContext(ctx *Context) {
	ctx.Parent = p.Top
	p.Top = ctx
}

// PopContext removes and returns the innermost frame (a return), or nil if
// the process has no more frames.
func (p *Process) PopContext() *Context {
	if p.Top == nil {
		return nil
	}
	popped := p.Top
	p.Top = popped.Parent
	return popped
}

// SetPanicHandler registers the process's own panic handler block
// (spec.md §4.8).
func (p *Process) SetPanicHandler(block values.Value) {
	p.PanicHandler = block
	p.hasPanicHandler = true
}

func (p *Process) HasPanicHandler() bool { return p.hasPanicHandler }

// ClearPanicHandler removes a previously set handler.
func (p *Process) ClearPanicHandler() {
	p.PanicHandler = values.Value{}
	p.hasPanicHandler = false
}

// BeginWait marks the process as waiting for a message, with an optional
// deadline (spec.md §4.5 receive contract). Synchronized against
// IsWaiting/EndWait because Send (vm/exec_process.go's execSend) reads and
// clears a receiver's wait state from the sender's goroutine while the
// receiver's own worker may be calling BeginWait concurrently.
func (p *Process) BeginWait(timeout time.Duration, hasTimeout bool) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	p.waiting = true
	p.state = StateWaitingForMessage
	if hasTimeout {
		p.hasDeadline = true
		p.waitDeadline = time.Now().Add(timeout)
	} else {
		p.hasDeadline = false
	}
}

func (p *Process) IsWaiting() bool {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	return p.waiting
}

func (p *Process) EndWait() {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	p.waiting = false
	p.hasDeadline = false
	p.state = StateRunnable
}

func (p *Process) Deadline() (time.Time, bool) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	return p.waitDeadline, p.hasDeadline
}

// Pin records that this process must not migrate off worker id until
// unpinned (spec.md §4.3).
func (p *Process) Pin(workerID int) {
	id := workerID
	p.PinnedWorker = &id
	p.SetState(StatePinned)
}

func (p *Process) Unpin() {
	p.PinnedWorker = nil
	p.waitMu.Lock()
	if p.state == StatePinned {
		p.state = StateRunnable
	}
	p.waitMu.Unlock()
}

func (p *Process) IsPinned() bool { return p.PinnedWorker != nil }
