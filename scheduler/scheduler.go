// Package scheduler implements the Scheduler / Worker Pool and Suspension
// List (spec.md §3.6, §3.7, §4.3): two worker pools dispatching processes
// through vm.Run, a process table, and the time-ordered wake list. Besides
// cmd/greenvm, this is the one package that imports vm directly — everything
// else in the interpreter's collaborator set is expressed as an interface vm
// itself declares, so gc, loader, and netpoll never import vm.
package scheduler

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greenvm/greenvm/config"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/vm"
)

// Scheduler is the top-level orchestrator: it owns the primary and
// secondary pools, the suspension list, and the process table (spec.md §5
// "Shared-resource policy... the process table... [is] shared; all
// mutations must be under explicit mutual exclusion").
type Scheduler struct {
	cfg *config.Config

	primary   *Pool
	secondary *Pool

	suspension *SuspensionList

	mu         sync.RWMutex
	processes  map[process.PID]*process.Process
	workers    map[int]*poolWorker
	nextWorker int32

	exitStatusSet atomic.Bool
	exitStatus    atomic.Int32

	terminateOnce sync.Once
	done          chan struct{}

	gc      vm.GCCoordinator
	poller  vm.Poller
	modules vm.ModuleRegistry
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// New constructs a Scheduler and starts its worker pools and suspension
// goroutine. The GC coordinator, network poller, and module registry are
// supplied by the caller (cmd/greenvm) since each is its own package and
// vm.Collaborators is assembled only once, at the top.
func New(cfg *config.Config, gc vm.GCCoordinator, poller vm.Poller, modules vm.ModuleRegistry, stdin io.Reader, stdout, stderr io.Writer) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		processes: make(map[process.PID]*process.Process),
		workers:   make(map[int]*poolWorker),
		done:      make(chan struct{}),
		gc:        gc,
		poller:    poller,
		modules:   modules,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
	}
	s.suspension = NewSuspensionList(s.wake)
	s.primary = newPool("primary", cfg.PrimaryThreads, s)
	s.secondary = newPool("secondary", cfg.SecondaryThreads, s)
	return s
}

func (s *Scheduler) collaborators() vm.Collaborators {
	return vm.Collaborators{
		Scheduler: s,
		GC:        s.gc,
		Poller:    s.poller,
		Modules:   s.modules,
		Stdin:     s.stdin,
		Stdout:    s.stdout,
		Stderr:    s.stderr,
	}
}

func (s *Scheduler) nextWorkerID() int {
	return int(atomic.AddInt32(&s.nextWorker, 1) - 1)
}

func (s *Scheduler) registerWorker(w *poolWorker) {
	s.mu.Lock()
	s.workers[w.id] = w
	s.mu.Unlock()
}

func (s *Scheduler) poolFor(id process.PoolID) *Pool {
	if id == process.PoolSecondary {
		return s.secondary
	}
	return s.primary
}

func (s *Scheduler) register(p *process.Process) {
	s.mu.Lock()
	s.processes[p.PID] = p
	s.mu.Unlock()
}

// Enqueue implements vm.Scheduler: a pinned process returns only to its own
// worker's dedicated channel (spec.md §4.3 "Pinning"), never the shared
// pool queue.
func (s *Scheduler) Enqueue(p *process.Process) {
	p.SetState(process.StateRunnable)
	if p.IsPinned() {
		s.mu.RLock()
		w, ok := s.workers[*p.PinnedWorker]
		s.mu.RUnlock()
		if ok {
			w.pinnedChan <- p
			return
		}
	}
	s.poolFor(p.Pool).enqueue(p)
}

func (s *Scheduler) EnqueueSleeping(p *process.Process, deadline time.Time) {
	s.suspension.Add(p, deadline)
}

func (s *Scheduler) MoveToPool(p *process.Process, pool process.PoolID) {
	p.Pool = pool
	s.Enqueue(p)
}

func (s *Scheduler) Spawn(root *process.Context, pool process.PoolID) *process.Process {
	p := process.New(root, pool, s.cfg.ReductionBudget)
	s.register(p)
	s.poolFor(pool).enqueue(p)
	return p
}

// SetExitStatus is idempotent and racy-safe (spec.md §5): the first writer
// wins.
func (s *Scheduler) SetExitStatus(code int) {
	if s.exitStatusSet.CompareAndSwap(false, true) {
		s.exitStatus.Store(int32(code))
	}
}

// ExitStatus returns the recorded exit status, or 0 if none was ever set.
func (s *Scheduler) ExitStatus() int {
	return int(s.exitStatus.Load())
}

func (s *Scheduler) Terminate() {
	s.terminateOnce.Do(func() {
		close(s.done)
		s.primary.stop()
		s.secondary.stop()
		s.suspension.Stop()
	})
}

// Done is closed as soon as Terminate is called, before the pools are
// stopped, for cmd/greenvm to wait on.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) Lookup(pid process.PID) (*process.Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[pid]
	return p, ok
}

// wake is the Suspension List's callback (spec.md §5 "Cancellation and
// timeouts"): a sleeping or waiting process whose deadline has passed is
// made Runnable and re-queued.
func (s *Scheduler) wake(p *process.Process) {
	if p.IsWaiting() {
		// Leave the waiting flag set: Receive's own logic (spec.md §4.5)
		// distinguishes "woken by timeout, mailbox still empty" from a
		// fresh receive by checking IsWaiting() on entry.
		s.Enqueue(p)
		return
	}
	p.SetState(process.StateRunnable)
	s.Enqueue(p)
}
