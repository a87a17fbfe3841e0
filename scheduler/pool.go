package scheduler

import (
	"log"

	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/vm"
	"golang.org/x/sync/errgroup"
)

// Pool is a FIFO work queue drained by a fixed number of worker goroutines,
// grounded directly on pkg/fpm/pool.WorkerPool/Worker's goroutine-per-
// worker-with-channel design, generalized from FastCGI request dispatch to
// process dispatch (spec.md §3.6, §4.3). Its workers are joined through an
// errgroup.Group rather than a bare sync.WaitGroup so stop() can report
// (via Go's error-propagation, even though no worker currently returns a
// non-nil error) the same way the rest of this module's concurrent
// fan-in/fan-out does.
type Pool struct {
	name    string
	queue   chan *process.Process
	workers []*poolWorker
	sched   *Scheduler
	group   errgroup.Group
}

// poolWorker repeatedly dequeues a runnable process, runs the interpreter,
// and — per spec.md §4.3's contract — takes no further action once vm.Run
// returns, since the interpreter itself re-enqueues, parks, or registers
// with the poller. A pinned process bypasses the shared queue entirely: it
// returns to this same worker's pinnedChan instead (spec.md §4.3 "Pinning").
type poolWorker struct {
	id          int
	pool        *Pool
	pinnedChan  chan *process.Process
	stopChan    chan struct{}
}

func newPool(name string, size int, sched *Scheduler) *Pool {
	p := &Pool{
		name:  name,
		queue: make(chan *process.Process, 256),
		sched: sched,
	}
	for i := 0; i < size; i++ {
		w := &poolWorker{
			id:         sched.nextWorkerID(),
			pool:       p,
			pinnedChan: make(chan *process.Process, 1),
			stopChan:   make(chan struct{}),
		}
		p.workers = append(p.workers, w)
		sched.registerWorker(w)
		p.group.Go(func() error {
			w.run()
			return nil
		})
	}
	return p
}

func (p *Pool) enqueue(proc *process.Process) {
	p.queue <- proc
}

// stop signals every worker to exit and blocks until all of them have
// actually returned.
func (p *Pool) stop() {
	for _, w := range p.workers {
		close(w.stopChan)
	}
	_ = p.group.Wait()
}

func (w *poolWorker) run() {
	for {
		select {
		case <-w.stopChan:
			return
		case proc := <-w.pinnedChan:
			w.execute(proc)
		default:
			select {
			case <-w.stopChan:
				return
			case proc := <-w.pinnedChan:
				w.execute(proc)
			case proc := <-w.pool.queue:
				w.execute(proc)
			}
		}
	}
}

func (w *poolWorker) execute(proc *process.Process) {
	proc.CurrentWorker = w.id
	result := vm.Run(proc, w.pool.sched.collaborators())
	if result.Outcome == vm.OutcomeFatal {
		log.Printf("process %s terminated on fatal error: %v\n%s",
			proc.PID, result.Err, vm.DumpContext(proc.Top))
	}
}
