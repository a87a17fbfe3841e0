package vm

import (
	"time"

	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// execProcessFamily implements spec.md §4.1's process-operation family:
// spawn, send, receive, current-pid, suspend-current, pin/unpin, set panic
// handler, move-to-pool (spec.md §4.5 for send/receive semantics).
func execProcessFamily(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	switch inst.Opcode {
	case opcodes.OP_SPAWN:
		return execSpawn(p, ctx, inst, c)
	case opcodes.OP_SEND:
		return execSend(p, ctx, inst, c)
	case opcodes.OP_RECEIVE:
		return execReceive(p, ctx, inst, c)
	case opcodes.OP_CURRENT_PID:
		storeResult(ctx, resultType(inst), inst.Result, pidValue(p.PID))
		return cont()
	case opcodes.OP_SUSPEND_CURRENT:
		return execSuspendCurrent(p, ctx, inst, c)
	case opcodes.OP_PIN:
		p.Pin(p.CurrentWorker)
		return cont()
	case opcodes.OP_UNPIN:
		p.Unpin()
		return cont()
	case opcodes.OP_SET_PANIC_HANDLER:
		p.SetPanicHandler(operand(ctx, op1Type(inst), inst.Op1))
		return cont()
	case opcodes.OP_MOVE_TO_POOL:
		pool := process.PoolID(asInt(operand(ctx, op1Type(inst), inst.Op1)))
		c.Scheduler.MoveToPool(p, pool)
		return step{kind: stepMovedPool}
	}
	return cont()
}

// pidValue wraps a PID as an Object Pointer; PID carries no further
// structure the interpreter inspects, so it rides in a generic heap object
// header rather than earning its own HeapKind.
func pidValue(pid process.PID) values.Value {
	return values.Heap(&values.HeapHeader{Kind: values.HeapObject, Payload: pid})
}

func pidFromValue(v values.Value) (process.PID, bool) {
	h := v.Heap()
	if h == nil {
		return process.PID{}, false
	}
	pid, ok := h.Payload.(process.PID)
	return pid, ok
}

func execSpawn(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	callee := operand(ctx, op1Type(inst), inst.Op1)
	block, ok := blockFromOperand(callee)
	if !ok {
		return fatal(newFatal(ErrInvalidDowncast, ctx.IP-1, inst.Opcode, "spawn target is not a block"))
	}
	binding := &process.Binding{Locals: make([]values.Value, block.Code.MaxLocals), Parent: block.Parent}
	root := process.NewContext(block.Code, nil, binding)
	child := c.Scheduler.Spawn(root, p.Pool)
	storeResult(ctx, resultType(inst), inst.Result, pidValue(child.PID))
	return cont()
}

// execSend implements spec.md §4.5: atomically append to the receiver's
// mailbox, and if it was waiting, make it runnable again.
func execSend(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	target := operand(ctx, op1Type(inst), inst.Op1)
	msg := operand(ctx, op2Type(inst), inst.Op2)

	pid, ok := pidFromValue(target)
	if !ok {
		return fatal(newFatal(ErrInvalidDowncast, ctx.IP-1, inst.Opcode, "send target is not a pid"))
	}
	receiver, ok := c.Scheduler.Lookup(pid)
	if !ok {
		return cont() // receiver no longer exists; send is a silent no-op
	}
	receiver.Mailbox.Send(msg)
	if receiver.IsWaiting() {
		receiver.EndWait()
		c.Scheduler.Enqueue(receiver)
	}
	return cont()
}

// execReceive implements spec.md §4.5's full contract including the
// timeout-0 poll boundary behavior (spec.md §8).
func execReceive(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	if v, ok := p.Mailbox.Pop(); ok {
		if p.IsWaiting() {
			p.EndWait()
		}
		storeResult(ctx, resultType(inst), inst.Result, v)
		return cont()
	}

	if p.IsWaiting() {
		// Woken (by message delivery race loss or timeout) but mailbox is
		// once again empty: this is the timeout case.
		p.EndWait()
		storeResult(ctx, resultType(inst), inst.Result, values.Nil())
		return cont()
	}

	hasTimeout := op1Type(inst) != opcodes.IS_UNUSED
	var timeout time.Duration
	if hasTimeout {
		timeout = time.Duration(asInt(operand(ctx, op1Type(inst), inst.Op1))) * time.Millisecond
		if timeout <= 0 {
			storeResult(ctx, resultType(inst), inst.Result, values.Nil())
			return cont()
		}
	}

	p.BeginWait(timeout, hasTimeout)
	ctx.IP-- // rewind so Receive re-executes on resumption
	if hasTimeout {
		deadline, _ := p.Deadline()
		c.Scheduler.EnqueueSleeping(p, deadline)
	}
	return suspend()
}

func execSuspendCurrent(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	p.SetState(process.StateSleeping)
	hasTimeout := op1Type(inst) != opcodes.IS_UNUSED
	if hasTimeout {
		timeout := time.Duration(asInt(operand(ctx, op1Type(inst), inst.Op1))) * time.Millisecond
		c.Scheduler.EnqueueSleeping(p, time.Now().Add(timeout))
	}
	return suspend()
}
