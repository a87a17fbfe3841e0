package vm

import (
	"io"

	"github.com/greenvm/greenvm/ioerror"
	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// fd is the VM's tiny fixed stream namespace; anything beyond these is the
// network poller's concern (§3.12), out of scope here.
const (
	fdStdin = iota
	fdStdout
	fdStderr
)

// execIOFamily implements spec.md §4.1's I/O and module-loading family:
// OS errors become thrown values via ioerror.ToThrown rather than Go errors
// crossing into process-visible control flow.
func execIOFamily(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	switch inst.Opcode {
	case opcodes.OP_IO_WRITE:
		return execIOWrite(p, ctx, inst, c)
	case opcodes.OP_IO_READ:
		return execIORead(p, ctx, inst, c)
	case opcodes.OP_LOAD_MODULE:
		return execLoadModule(p, ctx, inst, c)
	}
	return cont()
}

func execIOWrite(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	fd := asInt(operand(ctx, op1Type(inst), inst.Op1))
	data := operand(ctx, op2Type(inst), inst.Op2).String()

	var w io.Writer
	switch fd {
	case fdStdout:
		w = c.Stdout
	case fdStderr:
		w = c.Stderr
	default:
		return throwValue(p, ctx, ioerror.ToThrown(errUnknownFD), c)
	}
	if w == nil {
		return cont()
	}
	n, err := io.WriteString(w, data)
	if err != nil {
		return throwValue(p, ctx, ioerror.ToThrown(err), c)
	}
	storeResult(ctx, resultType(inst), inst.Result, values.SmallInt(int64(n)))
	return cont()
}

func execIORead(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	fd := asInt(operand(ctx, op1Type(inst), inst.Op1))
	maxLen := asInt(operand(ctx, op2Type(inst), inst.Op2))
	if fd != fdStdin || c.Stdin == nil {
		return throwValue(p, ctx, ioerror.ToThrown(errUnknownFD), c)
	}

	// c.Stdin is expected to be one long-lived buffered reader (wired once
	// in cmd/greenvm), never wrapped fresh here: a new bufio.Reader per
	// call would read ahead into its own buffer and discard whatever
	// exceeded maxLen once this call returns, silently losing input.
	buf := make([]byte, maxLen)
	n, err := c.Stdin.Read(buf)
	if err != nil && n == 0 {
		return throwValue(p, ctx, ioerror.ToThrown(err), c)
	}
	storeResult(ctx, resultType(inst), inst.Result, values.Heap(&values.HeapHeader{
		Kind:    values.HeapString,
		Payload: string(buf[:n]),
	}))
	return cont()
}

// execLoadModule implements spec.md §4.6.
func execLoadModule(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	path := operand(ctx, op1Type(inst), inst.Op1).String()

	code, needsExecute, err := c.Modules.Lookup(path)
	if err != nil {
		return throwValue(p, ctx, ioerror.ToThrown(err), c)
	}
	if !needsExecute {
		storeResult(ctx, resultType(inst), inst.Result, values.Nil())
		return cont()
	}

	binding := &process.Binding{Locals: make([]values.Value, code.MaxLocals)}
	child := process.NewContext(code, ctx, binding)
	child.ReturnRegister = int(inst.Result)
	child.HasReturnTarget = true
	p.PushContext(child)
	return cont()
}

type fdError string

func (e fdError) Error() string { return string(e) }

const errUnknownFD = fdError("unknown file descriptor")
