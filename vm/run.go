// Package vm implements the Interpreter Loop (spec.md §4.1): a flat
// decode-dispatch over opcodes.Opcode that executes a single process until
// it suspends, terminates, or exhausts its reduction budget, then returns
// control to the calling worker. Grounded on the teacher's vm.go run()/
// executeInstruction() loop and its *_executor.go family split, generalized
// from PHP opcodes to the spec's instruction families.
package vm

import (
	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// Outcome describes why Run returned control to the worker.
type Outcome int

const (
	OutcomeTerminated Outcome = iota
	OutcomeSuspended
	OutcomeMovedPool
	OutcomeParkedForGC
	OutcomeReductionsExhausted
	OutcomeFatal
)

// Result is Run's return value (spec.md §4.1 "Output").
type Result struct {
	Outcome Outcome
	Err     error
}

// Run executes process p until it suspends, terminates, moves pools, parks
// for GC, exhausts its reductions, or hits an unrecoverable error. p is
// assumed runnable and owned exclusively by the calling worker for the
// duration of this call (spec.md §4.1 "Input").
func Run(p *process.Process, c Collaborators) Result {
	p.SetState(process.StateRunning)

	for {
		ctx := p.Top
		if ctx == nil {
			p.Finished = true
			p.SetState(process.StateFinished)
			return Result{Outcome: OutcomeTerminated}
		}

		if ctx.IP < 0 || ctx.IP >= len(ctx.Code.Instructions) {
			return fatalResult(p, ctx, newFatal(ErrMalformedBytecode, ctx.IP, 0,
				"instruction index out of range in %s", ctx.Code.Name))
		}

		inst := ctx.Code.Instructions[ctx.IP]
		ctx.IP++

		step := dispatch(p, ctx, inst, c)

		switch step.kind {
		case stepContinue:
			continue
		case stepSafepoint:
			if outcome, done := safepoint(p, c); done {
				return outcome
			}
			continue
		case stepSuspend:
			p.SetState(process.StateWaitingForMessage)
			return Result{Outcome: OutcomeSuspended}
		case stepMovedPool:
			return Result{Outcome: OutcomeMovedPool}
		case stepParkedForGC:
			return Result{Outcome: OutcomeParkedForGC}
		case stepTerminated:
			p.Finished = true
			p.SetState(process.StateFinished)
			return Result{Outcome: OutcomeTerminated}
		case stepFatal:
			return fatalResult(p, ctx, step.err)
		}
	}
}

func fatalResult(p *process.Process, ctx *process.Context, err error) Result {
	p.SetState(process.StateFinished)
	p.Finished = true
	return Result{Outcome: OutcomeFatal, Err: err}
}

// safepoint implements spec.md §4.1's "Safepoint rule": GC flags take
// priority over reduction exhaustion. Returns (result, true) if Run should
// return now, or (zero, false) to keep executing this slice.
func safepoint(p *process.Process, c Collaborators) (Result, bool) {
	p.NoteSafepoint()
	if p.GCFlags.YoungGenDue || p.GCFlags.MailboxDue {
		young, mailbox := p.GCFlags.YoungGenDue, p.GCFlags.MailboxDue
		p.GCFlags.YoungGenDue = false
		p.GCFlags.MailboxDue = false
		c.GC.Request(p, young, mailbox)
		return Result{Outcome: OutcomeParkedForGC}, true
	}
	p.ReductionsRemaining--
	if p.ReductionsRemaining <= 0 {
		c.Scheduler.Enqueue(p)
		return Result{Outcome: OutcomeReductionsExhausted}, true
	}
	return Result{}, false
}

// stepKind is the internal control signal an instruction handler returns to
// the dispatch loop.
type stepKind int

const (
	stepContinue stepKind = iota
	stepSafepoint
	stepSuspend
	stepMovedPool
	stepParkedForGC
	stepTerminated
	stepFatal
)

type step struct {
	kind stepKind
	err  error
}

func cont() step     { return step{kind: stepContinue} }
func safept() step   { return step{kind: stepSafepoint} }
func suspend() step  { return step{kind: stepSuspend} }
func terminate() step { return step{kind: stepTerminated} }
func fatal(err error) step { return step{kind: stepFatal, err: err} }

// dispatch decodes and executes exactly one instruction, returning the
// control signal for the caller's loop.
func dispatch(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	switch {
	case inst.Opcode <= opcodes.OP_LOAD_UNDEFINED:
		return execRegisterLiteral(ctx, inst)
	case inst.Opcode >= opcodes.OP_ADD && inst.Opcode <= opcodes.OP_STRING_TO_INT:
		return execArithmetic(p, ctx, inst, c)
	case inst.Opcode >= opcodes.OP_NOT && inst.Opcode <= opcodes.OP_GE:
		return execComparison(ctx, inst)
	case inst.Opcode >= opcodes.OP_GOTO && inst.Opcode <= opcodes.OP_GOTO_IF_FALSE:
		return execControl(ctx, inst)
	case inst.Opcode >= opcodes.OP_MAKE_BLOCK && inst.Opcode <= opcodes.OP_DEFER:
		return execCallFamily(p, ctx, inst, c)
	case inst.Opcode >= opcodes.OP_SPAWN && inst.Opcode <= opcodes.OP_MOVE_TO_POOL:
		return execProcessFamily(p, ctx, inst, c)
	case inst.Opcode >= opcodes.OP_IO_READ && inst.Opcode <= opcodes.OP_LOAD_MODULE:
		return execIOFamily(p, ctx, inst, c)
	case inst.Opcode == opcodes.OP_EXIT:
		return execExit(p, ctx, c)
	case inst.Opcode == opcodes.OP_PANIC:
		return execPanic(p, ctx, inst, c)
	default:
		return fatal(newFatal(ErrOpcodeNotSupported, ctx.IP-1, inst.Opcode, ""))
	}
}

// operand resolves an instruction operand of the given OpType to a value.
func operand(ctx *process.Context, opType opcodes.OpType, idx uint32) values.Value {
	switch opType {
	case opcodes.IS_CONST:
		return ctx.Code.Literals[idx]
	case opcodes.IS_REG:
		return ctx.Reg(idx)
	case opcodes.IS_LOCAL:
		return ctx.Binding.Local(int(idx))
	default:
		return values.Undefined()
	}
}

func storeResult(ctx *process.Context, resultType opcodes.OpType, idx uint32, v values.Value) {
	switch resultType {
	case opcodes.IS_REG:
		ctx.SetReg(idx, v)
	case opcodes.IS_LOCAL:
		ctx.Binding.SetLocal(int(idx), v)
	}
}

func op1Type(inst opcodes.Instruction) opcodes.OpType    { return opcodes.DecodeOpType1(inst.OpType1) }
func op2Type(inst opcodes.Instruction) opcodes.OpType    { return opcodes.DecodeOpType2(inst.OpType1) }
func resultType(inst opcodes.Instruction) opcodes.OpType { return opcodes.DecodeResultType(inst.OpType2) }

func execRegisterLiteral(ctx *process.Context, inst opcodes.Instruction) step {
	switch inst.Opcode {
	case opcodes.OP_NOP:
	case opcodes.OP_MOVE:
		storeResult(ctx, resultType(inst), inst.Result, operand(ctx, op1Type(inst), inst.Op1))
	case opcodes.OP_LOAD_CONST:
		storeResult(ctx, resultType(inst), inst.Result, ctx.Code.Literals[inst.Op1])
	case opcodes.OP_LOAD_NIL:
		storeResult(ctx, resultType(inst), inst.Result, values.Nil())
	case opcodes.OP_LOAD_TRUE:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(true))
	case opcodes.OP_LOAD_FALSE:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(false))
	case opcodes.OP_LOAD_UNDEFINED:
		storeResult(ctx, resultType(inst), inst.Result, values.Undefined())
	}
	return cont()
}

func execControl(ctx *process.Context, inst opcodes.Instruction) step {
	switch inst.Opcode {
	case opcodes.OP_GOTO:
		ctx.IP = int(inst.Op1)
	case opcodes.OP_GOTO_IF_TRUE:
		if operand(ctx, op1Type(inst), inst.Op1).IsTruthy() {
			ctx.IP = int(inst.Op2)
		}
	case opcodes.OP_GOTO_IF_FALSE:
		if !operand(ctx, op1Type(inst), inst.Op1).IsTruthy() {
			ctx.IP = int(inst.Op2)
		}
	}
	return cont()
}

func execExit(p *process.Process, ctx *process.Context, c Collaborators) step {
	code := 0
	if ctx != nil {
		if v := ctx.Reg(0); v.IsSmallInt() {
			code = int(v.AsSmallInt())
		}
	}
	drainAllDefersOnExit(p, c)
	p.ExitCode = code
	c.Scheduler.SetExitStatus(code)
	c.Scheduler.Terminate()
	return terminate()
}

func execPanic(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	msg := operand(ctx, op1Type(inst), inst.Op1).String()
	return dispatchPanic(p, msg, c)
}
