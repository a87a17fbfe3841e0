package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/values"
)

func testCode(name string) *bytecode.Code {
	return &bytecode.Code{Name: name, MaxRegisters: 4, MaxLocals: 2}
}

func TestMailboxFIFO(t *testing.T) {
	var mb Mailbox
	mb.Send(values.SmallInt(1))
	mb.Send(values.SmallInt(2))
	mb.Send(values.SmallInt(3))
	require.Equal(t, 3, mb.Len())

	v, ok := mb.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), v.AsSmallInt())

	v, ok = mb.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsSmallInt())
}

func TestMailboxPopEmpty(t *testing.T) {
	var mb Mailbox
	_, ok := mb.Pop()
	assert.False(t, ok)
}

func TestNewProcessIsRunnable(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	assert.Equal(t, StateRunnable, p.State())
	assert.False(t, p.PID.IsZero())
	assert.Equal(t, root, p.Top)
	assert.False(t, p.IsPinned())
}

func TestPushPopContext(t *testing.T) {
	root := NewContext(testCode("root"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	child := NewContext(testCode("child"), nil, nil)
	p.PushContext(child)
	assert.Same(t, child, p.Top)
	assert.Same(t, root, child.Parent)

	popped := p.PopContext()
	assert.Same(t, child, popped)
	assert.Same(t, root, p.Top)
}

func TestPinUnpinRoundTrip(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	p.Pin(3)
	assert.True(t, p.IsPinned())
	assert.Equal(t, StatePinned, p.State())

	p.Unpin()
	assert.False(t, p.IsPinned())
	assert.Equal(t, StateRunnable, p.State())
}

func TestBeginWaitWithoutTimeoutHasNoDeadline(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	p.BeginWait(0, false)
	assert.True(t, p.IsWaiting())
	_, hasDeadline := p.Deadline()
	assert.False(t, hasDeadline)

	p.EndWait()
	assert.False(t, p.IsWaiting())
	assert.Equal(t, StateRunnable, p.State())
}

func TestBeginWaitWithTimeoutSetsDeadline(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	before := time.Now()
	p.BeginWait(50*time.Millisecond, true)
	deadline, hasDeadline := p.Deadline()
	assert.True(t, hasDeadline)
	assert.True(t, deadline.After(before))
}

func TestNoteSafepointSetsYoungGenDueAfterThreshold(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000000)

	for i := 0; i < youngGenReductionThreshold-1; i++ {
		p.NoteSafepoint()
	}
	assert.False(t, p.GCFlags.YoungGenDue, "should not fire before the threshold is reached")

	p.NoteSafepoint()
	assert.True(t, p.GCFlags.YoungGenDue, "should fire once enough reductions have run since the last request")
}

func TestNoteSafepointSetsMailboxDueWhenMailboxPilesUp(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000000)

	for i := 0; i < mailboxGCLenThreshold; i++ {
		p.Mailbox.Send(values.SmallInt(int64(i)))
	}
	p.NoteSafepoint()
	assert.True(t, p.GCFlags.MailboxDue)
}

// TestBeginWaitEndWaitRaceUnderConcurrentSend drives BeginWait (as the
// owning worker would) against concurrent IsWaiting/EndWait calls (as a
// sender's execSend would), matching the shape of the race the waitMu lock
// in BeginWait/IsWaiting/EndWait/State/SetState/Deadline guards against.
func TestBeginWaitEndWaitRaceUnderConcurrentSend(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			p.BeginWait(0, false)
		}
	}()
	for i := 0; i < 1000; i++ {
		if p.IsWaiting() {
			p.EndWait()
		}
	}
	<-done
}

func TestPanicHandlerRoundTrip(t *testing.T) {
	root := NewContext(testCode("main"), nil, nil)
	p := New(root, PoolPrimary, 1000)

	assert.False(t, p.HasPanicHandler())
	p.SetPanicHandler(values.SmallInt(42))
	assert.True(t, p.HasPanicHandler())
	p.ClearPanicHandler()
	assert.False(t, p.HasPanicHandler())
}
