package vm

import (
	"fmt"

	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// Call-family instructions (MakeBlock, RunBlock, RunBlockWithReceiver,
// TailCall) pack more information than a generic three-operand instruction
// carries, so this family reinterprets the operand-type nibbles: the low
// nibble of OpType1 (otherwise op2Type, unused here since Op2 is a raw
// register index rather than a typed operand) holds the keyword-pair count;
// the low nibble of OpType2 (otherwise unused below the result type) holds
// the positional argument count. Op2 is the base register of the argument
// window: [receiver if WithReceiver][positional args][keyword name/value
// pairs]. This convention is internal plumbing the out-of-scope bytecode
// parser is responsible for emitting; nothing in spec.md constrains it.

func callKeywordCount(inst opcodes.Instruction) int { return int(inst.OpType1 & 0x0F) }
func callArgCount(inst opcodes.Instruction) int     { return int(inst.OpType2 & 0x0F) }

func execCallFamily(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	switch inst.Opcode {
	case opcodes.OP_MAKE_BLOCK:
		return execMakeBlock(ctx, inst)
	case opcodes.OP_RUN_BLOCK:
		return execRunBlock(p, ctx, inst, false, c)
	case opcodes.OP_RUN_BLOCK_WITH_RECEIVER:
		return execRunBlock(p, ctx, inst, true, c)
	case opcodes.OP_TAIL_CALL:
		return execTailCall(p, ctx, inst, c)
	case opcodes.OP_RETURN:
		return execReturn(p, ctx, inst, c)
	case opcodes.OP_THROW:
		v := operand(ctx, op1Type(inst), inst.Op1)
		return throwValue(p, ctx, v, c)
	case opcodes.OP_DEFER:
		return execDefer(ctx, inst)
	}
	return cont()
}

// execDefer implements spec.md §4.7's Defer: the operand block is pushed
// onto the current context's deferred-block queue and is run, in LIFO
// order, by execReturn before the context actually pops.
func execDefer(ctx *process.Context, inst opcodes.Instruction) step {
	block := operand(ctx, op1Type(inst), inst.Op1)
	ctx.PushDeferred(block)
	return cont()
}

// execMakeBlock captures the current binding as the new block's lexical
// parent (spec.md §4.1).
func execMakeBlock(ctx *process.Context, inst opcodes.Instruction) step {
	childIdx := inst.Op1
	if int(childIdx) >= len(ctx.Code.Children) {
		return fatal(newFatal(ErrMalformedBytecode, ctx.IP-1, inst.Opcode, "child code index %d out of range", childIdx))
	}
	block := &process.Block{Code: ctx.Code.Children[childIdx], Parent: ctx.Binding}
	storeResult(ctx, resultType(inst), inst.Result, values.Heap(&values.HeapHeader{Kind: values.HeapBlock, Payload: block}))
	return cont()
}

func blockFromOperand(v values.Value) (*process.Block, bool) {
	h := v.Heap()
	if h == nil {
		return nil, false
	}
	b, ok := h.Payload.(*process.Block)
	return b, ok
}

// packArguments implements spec.md §4.4's call/argument packing contract
// for both RunBlock and TailCall.
func packArguments(ctx *process.Context, inst opcodes.Instruction, block *process.Block, binding *process.Binding, hasReceiver bool) error {
	arity := block.Code.Arity
	argBase := inst.Op2
	window := argBase

	if hasReceiver {
		binding.Receiver = ctx.Reg(window)
		window++
	}

	argCount := callArgCount(inst)
	kwCount := callKeywordCount(inst)

	if argCount+kwCount < arity.RequiredPositional || (!arity.HasRest && argCount > arity.Max()) {
		return fmt.Errorf("%s takes %d arguments but %d were supplied", block.Code.Name, arity.RequiredPositional, argCount)
	}

	copyCount := argCount
	if max := arity.Max(); copyCount > max {
		copyCount = max
	}
	for i := 0; i < copyCount; i++ {
		binding.SetLocal(i, ctx.Reg(window+uint32(i)))
	}

	if arity.HasRest && argCount > copyCount {
		rest := make([]values.Value, 0, argCount-copyCount)
		for i := copyCount; i < argCount; i++ {
			rest = append(rest, ctx.Reg(window+uint32(i)))
		}
		binding.SetLocal(arity.RestLocal, values.Heap(&values.HeapHeader{Kind: values.HeapArray, Payload: rest}))
	}

	kwBase := window + uint32(argCount)
	for i := 0; i < kwCount; i++ {
		nameReg := ctx.Reg(kwBase + uint32(i*2))
		valueReg := ctx.Reg(kwBase + uint32(i*2+1))
		if slot, ok := arity.KeywordLocal(nameReg.String()); ok {
			binding.SetLocal(slot, valueReg)
		}
	}
	return nil
}

func execRunBlock(p *process.Process, ctx *process.Context, inst opcodes.Instruction, withReceiver bool, c Collaborators) step {
	callee := operand(ctx, op1Type(inst), inst.Op1)
	block, ok := blockFromOperand(callee)
	if !ok {
		return fatal(newFatal(ErrInvalidDowncast, ctx.IP-1, inst.Opcode, "callee is not a block"))
	}

	binding := &process.Binding{Locals: make([]values.Value, block.Code.MaxLocals), Parent: block.Parent}
	if err := packArguments(ctx, inst, block, binding, withReceiver); err != nil {
		return throwValue(p, ctx, values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: err.Error()}), c)
	}

	child := process.NewContext(block.Code, ctx, binding)
	child.ReturnRegister = int(inst.Result)
	child.HasReturnTarget = true
	p.PushContext(child)
	return cont()
}

// execTailCall reuses the current context per spec.md §4.1: registers and
// locals are cleared, locals are rewritten from the argument registers, and
// instruction_index is reset to 0. Context stack depth is unchanged.
func execTailCall(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	callee := operand(ctx, op1Type(inst), inst.Op1)
	block, ok := blockFromOperand(callee)
	if !ok {
		return fatal(newFatal(ErrInvalidDowncast, ctx.IP-1, inst.Opcode, "callee is not a block"))
	}

	binding := &process.Binding{Locals: make([]values.Value, block.Code.MaxLocals), Parent: block.Parent}
	if err := packArguments(ctx, inst, block, binding, false); err != nil {
		return throwValue(p, ctx, values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: err.Error()}), c)
	}

	ctx.Code = block.Code
	ctx.Registers = make([]values.Value, block.Code.MaxRegisters)
	ctx.Binding = binding
	ctx.IP = 0
	return safept()
}

// execReturn implements spec.md §4.1/§4.7: deferred blocks on the current
// context are drained one at a time as ordinary calls before the return
// actually completes, by rewinding IP to re-execute this same Return
// instruction after each deferred block's context pops.
func execReturn(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	if block, ok := popDeferredBlock(ctx); ok {
		ctx.IP--
		runDeferredCall(p, ctx, block)
		return safept()
	}

	result := operand(ctx, op1Type(inst), inst.Op1)
	p.PopContext()

	caller := p.Top
	if caller == nil {
		p.ExitCode = 0
		return terminate()
	}
	if ctx.HasReturnTarget {
		caller.SetReg(uint32(ctx.ReturnRegister), result)
	}
	if ctx.TerminateOnReturn {
		p.ExitCode = 0
		return terminate()
	}
	return safept()
}

func popDeferredBlock(ctx *process.Context) (*process.Block, bool) {
	v, ok := ctx.PopDeferred()
	if !ok {
		return nil, false
	}
	b, ok := blockFromOperand(v)
	return b, ok
}

// runDeferredCall pushes a zero-argument call context for a deferred block
// on top of ctx, so the existing Return/pop machinery resumes ctx once it
// completes.
func runDeferredCall(p *process.Process, ctx *process.Context, block *process.Block) {
	binding := &process.Binding{Locals: make([]values.Value, block.Code.MaxLocals), Parent: block.Parent}
	child := process.NewContext(block.Code, ctx, binding)
	p.PushContext(child)
}
