package scheduler

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/config"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/vm"
)

type stubGC struct{}

func (stubGC) Request(p *process.Process, youngGen, mailbox bool) {}

type stubPoller struct{}

func (stubPoller) Register(fd int, interest vm.PollInterest) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}
func (stubPoller) Deregister(fd int) {}

type stubModules struct{}

func (stubModules) Lookup(path string) (*bytecode.Code, bool, error) { return nil, false, nil }

func testScheduler(threads int) *Scheduler {
	cfg := &config.Config{PrimaryThreads: threads, SecondaryThreads: threads, ReductionBudget: 1000}
	return New(cfg, stubGC{}, stubPoller{}, stubModules{}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
}

func testRootContext() *process.Context {
	code := &bytecode.Code{Name: "main", MaxRegisters: 2, MaxLocals: 1}
	return process.NewContext(code, nil, nil)
}

func TestSpawnRegistersProcessForLookup(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	p := s.Spawn(testRootContext(), process.PoolPrimary)

	found, ok := s.Lookup(p.PID)
	require.True(t, ok)
	assert.Same(t, p, found)
}

func TestEnqueueRoutesPinnedProcessToItsOwnWorker(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	w := &poolWorker{id: 7, pool: s.primary, pinnedChan: make(chan *process.Process, 1), stopChan: make(chan struct{})}
	s.registerWorker(w)

	p := process.New(testRootContext(), process.PoolPrimary, 1000)
	p.Pin(7)

	s.Enqueue(p)

	select {
	case got := <-w.pinnedChan:
		assert.Same(t, p, got)
	case <-time.After(time.Second):
		t.Fatal("pinned process was not routed to its own worker's channel")
	}
}

func TestEnqueueRoutesUnpinnedProcessToThePoolQueue(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	p := process.New(testRootContext(), process.PoolPrimary, 1000)
	s.Enqueue(p)

	select {
	case got := <-s.primary.queue:
		assert.Same(t, p, got)
	case <-time.After(time.Second):
		t.Fatal("unpinned process never reached the pool queue")
	}
}

func TestEnqueueSetsProcessRunnable(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	p := process.New(testRootContext(), process.PoolPrimary, 1000)
	p.SetState(process.StateSleeping)
	s.Enqueue(p)

	assert.Equal(t, process.StateRunnable, p.State())
}

func TestSetExitStatusFirstWriteWins(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	s.SetExitStatus(2)
	s.SetExitStatus(9)

	assert.Equal(t, 2, s.ExitStatus())
}

func TestWakeOnWaitingProcessLeavesWaitingFlagAndReenqueues(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	p := process.New(testRootContext(), process.PoolPrimary, 1000)
	p.BeginWait(0, false)

	s.wake(p)

	assert.True(t, p.IsWaiting(), "Receive distinguishes timeout-wake from fresh receive via this flag")
	select {
	case got := <-s.primary.queue:
		assert.Same(t, p, got)
	case <-time.After(time.Second):
		t.Fatal("wake must still re-enqueue a waiting process")
	}
}

func TestWakeOnSleepingProcessSetsRunnable(t *testing.T) {
	s := testScheduler(0)
	defer s.Terminate()

	p := process.New(testRootContext(), process.PoolPrimary, 1000)
	p.SetState(process.StateSleeping)

	s.wake(p)

	assert.Equal(t, process.StateRunnable, p.State())
}

func TestTerminateClosesDoneExactlyOnce(t *testing.T) {
	s := testScheduler(0)

	s.Terminate()
	s.Terminate()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel should be closed after Terminate")
	}
}
