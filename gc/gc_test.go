package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

type fakeRescheduler struct {
	mu       chan struct{}
	enqueued []*process.Process
}

func newFakeRescheduler() *fakeRescheduler {
	return &fakeRescheduler{mu: make(chan struct{}, 16)}
}

func (f *fakeRescheduler) Enqueue(p *process.Process) {
	f.enqueued = append(f.enqueued, p)
	f.mu <- struct{}{}
}

func testProcess() *process.Process {
	code := &bytecode.Code{Name: "main", MaxRegisters: 4, MaxLocals: 2}
	root := process.NewContext(code, nil, nil)
	return process.New(root, process.PoolPrimary, 1000)
}

func TestRequestReenqueuesAndClearsFlags(t *testing.T) {
	sched := newFakeRescheduler()
	c := New(4)
	c.Attach(sched)

	p := testProcess()
	p.GCFlags.YoungGenDue = true
	p.GCFlags.MailboxDue = true

	c.Request(p, true, true)

	select {
	case <-sched.mu:
	case <-time.After(time.Second):
		t.Fatal("Request never re-enqueued the process")
	}

	assert.False(t, p.GCFlags.YoungGenDue)
	assert.False(t, p.GCFlags.MailboxDue)
	require.Len(t, sched.enqueued, 1)
	assert.Same(t, p, sched.enqueued[0])
}

func TestCollectCountsHeapObjectsReachableFromContext(t *testing.T) {
	sched := newFakeRescheduler()
	c := New(1)
	c.Attach(sched)

	p := testProcess()
	heapStr := values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: "x"})
	p.Top.SetReg(0, heapStr)
	p.Top.SetReg(1, values.SmallInt(5))
	p.Top.Binding.SetLocal(0, heapStr)

	c.Request(p, false, false)

	select {
	case <-sched.mu:
	case <-time.After(time.Second):
		t.Fatal("Request never completed")
	}

	assert.Equal(t, int64(2), c.HeapSize())
}

func TestCollectIncludesMailboxLengthWhenRequested(t *testing.T) {
	sched := newFakeRescheduler()
	c := New(1)
	c.Attach(sched)

	p := testProcess()
	p.Mailbox.Send(values.SmallInt(1))
	p.Mailbox.Send(values.SmallInt(2))

	c.Request(p, false, true)

	select {
	case <-sched.mu:
	case <-time.After(time.Second):
		t.Fatal("Request never completed")
	}

	assert.Equal(t, int64(2), c.HeapSize())
}

func TestNewClampsNonPositiveConcurrencyToOne(t *testing.T) {
	c := New(0)
	assert.NotNil(t, c.sem)
	assert.True(t, c.sem.TryAcquire(1), "a clamped coordinator admits one collection")
	assert.False(t, c.sem.TryAcquire(1), "and no second one while the first is held")
}
