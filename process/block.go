package process

import (
	"github.com/greenvm/greenvm/bytecode"
	"github.com/greenvm/greenvm/values"
)

// Block is the payload of a values.HeapBlock/HeapClosure Object Pointer: a
// reference to compiled code plus the binding captured as its lexical
// parent at creation time (spec.md §4.1 "Block/closure creation: captures
// the current binding as parent"). It lives in this package, not values,
// so that values need not import process — vm type-asserts
// HeapHeader.Payload back to *process.Block where it builds a call.
type Block struct {
	Code        *bytecode.Code
	Parent      *Binding
	Receiver    values.Value
	HasReceiver bool
}
