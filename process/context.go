package process

import (
	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/values"
)

// Binding is the locals + receiver + optional parent binding reachable from
// a Context. It implements closure lexical scoping and is deliberately a
// type distinct from the caller chain (Context.Parent): a block captures
// its defining Binding at creation time and that reference may outlive the
// Context that created it, whereas the caller chain never does.
type Binding struct {
	Locals   []values.Value
	Receiver values.Value
	Parent   *Binding
}

// Local reads a slot of this binding's own Locals; a slot past the end reads
// as Undefined. The parent chain is not consulted.
func (b *Binding) Local(slot int) values.Value {
	if slot < len(b.Locals) {
		return b.Locals[slot]
	}
	return values.Undefined()
}

func (b *Binding) SetLocal(slot int, v values.Value) {
	if slot >= len(b.Locals) {
		grown := make([]values.Value, slot+1)
		copy(grown, b.Locals)
		b.Locals = grown
	}
	b.Locals[slot] = v
}

// Context is one activation frame (spec.md §3). It is owned by exactly one
// Process at any time; ownership transfers only through the scheduler's
// queue, never by concurrent mutation.
type Context struct {
	Code             *bytecode.Code
	IP               int
	Registers        []values.Value
	Binding          *Binding
	Parent           *Context // caller; forms the process's context stack
	ReturnRegister   int
	HasReturnTarget  bool
	Deferred         []values.Value // LIFO queue of block values
	TerminateOnReturn bool
	Line             int // cached source line for panic reporting
}

// NewContext allocates a fresh activation frame for code, ready to begin
// execution at instruction 0.
func NewContext(code *bytecode.Code, parent *Context, binding *Binding) *Context {
	if binding == nil {
		binding = &Binding{Locals: make([]values.Value, code.MaxLocals)}
	}
	return &Context{
		Code:      code,
		Registers: make([]values.Value, code.MaxRegisters),
		Binding:   binding,
		Parent:    parent,
	}
}

// Reg reads a register; out-of-range reads are a compiler invariant
// violation and panic rather than silently returning a sentinel, matching
// the invariant in spec.md §3 that every register holds a valid value.
func (c *Context) Reg(i uint32) values.Value {
	return c.Registers[i]
}

func (c *Context) SetReg(i uint32, v values.Value) {
	c.Registers[i] = v
}

// ResetForTailCall clears registers and locals and rewinds IP to 0, per the
// TailCall contract (spec.md §4.1): the context stack depth does not change.
func (c *Context) ResetForTailCall() {
	for i := range c.Registers {
		c.Registers[i] = values.Undefined()
	}
	c.Binding = &Binding{Locals: make([]values.Value, c.Code.MaxLocals)}
	c.IP = 0
}

// PushDeferred adds a block to this context's LIFO defer queue.
func (c *Context) PushDeferred(block values.Value) {
	c.Deferred = append(c.Deferred, block)
}

// PopDeferred removes and returns the most recently deferred block, or
// false if the queue is empty.
func (c *Context) PopDeferred() (values.Value, bool) {
	if len(c.Deferred) == 0 {
		return values.Value{}, false
	}
	last := len(c.Deferred) - 1
	v := c.Deferred[last]
	c.Deferred = c.Deferred[:last]
	return v, true
}
