// Package bytecode defines the Compiled Code unit the interpreter executes.
// A Code value is produced once by the (out-of-scope) bytecode file parser
// and is immutable for the lifetime of the VM; the package's only job is to
// describe that shape and the arity/catch-table bookkeeping the interpreter
// and call-argument packing consult.
package bytecode

import (
	"fmt"
	"sync"

	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/values"
)

// CatchEntry is one row of a Compiled Code unit's catch table, consulted on
// Throw (see the vm package's unwind walk). An entry covers an instruction
// index ip when Start < ip <= End; the ip the unwind walk passes in is the
// context's instruction index, already advanced past the throwing instruction.
type CatchEntry struct {
	Start    int // lower bound of the covered range (exclusive)
	End      int // upper bound of the covered range (inclusive)
	JumpTo   int // instruction index to resume at when this entry matches
	Register int // register to receive the thrown value
}

// Arity describes a callee's argument-packing contract (spec.md §4.4).
type Arity struct {
	RequiredPositional int
	OptionalPositional int
	HasRest            bool
	RestLocal          int
	KeywordNames       []string
	KeywordLocals      []int // parallel to KeywordNames
}

// Max returns the maximum number of positional arguments this arity accepts
// excluding a rest parameter.
func (a Arity) Max() int { return a.RequiredPositional + a.OptionalPositional }

// KeywordLocal returns the local slot bound to the given keyword name, if
// the callee declares one.
func (a Arity) KeywordLocal(name string) (int, bool) {
	for i, n := range a.KeywordNames {
		if n == name {
			return a.KeywordLocals[i], true
		}
	}
	return 0, false
}

// Code is one Compiled Code unit: an instruction stream plus the immutable
// metadata needed to execute it (literal pool, nested code for closures,
// catch table, arity).
type Code struct {
	Name         string
	Instructions []opcodes.Instruction
	Literals     []values.Value
	Children     []*Code
	CatchTable   []CatchEntry
	Arity        Arity
	MaxRegisters int
	MaxLocals    int
}

// FindCatch returns the innermost catch entry covering ip, or false if none
// does. The catch table is scanned back-to-front so that nested try blocks
// compiled with the inner range appended last take precedence.
func (c *Code) FindCatch(ip int) (CatchEntry, bool) {
	for i := len(c.CatchTable) - 1; i >= 0; i-- {
		e := c.CatchTable[i]
		if ip > e.Start && ip <= e.End {
			return e, true
		}
	}
	return CatchEntry{}, false
}

var internMu sync.Mutex
var interned = make(map[string]string)

// Intern returns a canonical copy of name so repeated Code units sharing a
// module name compare equal by pointer-sized string header without a fresh
// allocation each time. Grounded on the teacher's globalClasses
// string-keyed cache pattern, generalized to plain string interning.
func Intern(name string) string {
	internMu.Lock()
	defer internMu.Unlock()
	if s, ok := interned[name]; ok {
		return s
	}
	interned[name] = name
	return name
}

func (c *Code) String() string {
	return fmt.Sprintf("Code{%s, %d instrs, %d locals}", c.Name, len(c.Instructions), c.MaxLocals)
}
