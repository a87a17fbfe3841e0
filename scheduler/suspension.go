package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/greenvm/greenvm/process"
)

// sleepEntry is one row of the Suspension List (spec.md §3.7): a process
// and the time it should be woken and re-queued.
type sleepEntry struct {
	proc     *process.Process
	wakeTime time.Time
	index    int
}

// sleepHeap is a container/heap min-heap ordered by wakeTime, grounded on
// the retrieved pack's container/heap-based time-ordered task queue idiom
// (used only as an idiom reference, not copied).
type sleepHeap []*sleepEntry

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wakeTime.Before(h[j].wakeTime) }
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *sleepHeap) Push(x interface{}) {
	e := x.(*sleepEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *sleepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SuspensionList wakes sleeping/waiting processes when their deadline
// passes (spec.md §3.7, §5 "Cancellation and timeouts"). A single dedicated
// goroutine owns the heap; all mutation happens on that goroutine via a
// request channel, so no separate mutex is needed on the heap itself.
type SuspensionList struct {
	add    chan *sleepEntry
	stop   chan struct{}
	wg     sync.WaitGroup
	onWake func(*process.Process)
}

// NewSuspensionList starts the waking goroutine. onWake is called (from the
// waking goroutine) once a process's deadline passes; the scheduler wires
// this to re-enqueue the process as Runnable.
func NewSuspensionList(onWake func(*process.Process)) *SuspensionList {
	s := &SuspensionList{
		add:    make(chan *sleepEntry, 64),
		stop:   make(chan struct{}),
		onWake: onWake,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Add registers p to be woken at wakeTime.
func (s *SuspensionList) Add(p *process.Process, wakeTime time.Time) {
	select {
	case s.add <- &sleepEntry{proc: p, wakeTime: wakeTime}:
	case <-s.stop:
	}
}

func (s *SuspensionList) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *SuspensionList) run() {
	defer s.wg.Done()

	h := &sleepHeap{}
	heap.Init(h)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var fire <-chan time.Time
		if h.Len() > 0 {
			d := time.Until((*h)[0].wakeTime)
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			fire = timer.C
		}

		select {
		case <-s.stop:
			return
		case e := <-s.add:
			heap.Push(h, e)
		case <-fire:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].wakeTime.After(now) {
				e := heap.Pop(h).(*sleepEntry)
				s.onWake(e.proc)
			}
		}
	}
}
