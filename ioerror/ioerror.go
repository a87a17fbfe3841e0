// Package ioerror converts Go I/O errors into the thrown values the
// interpreter's I/O instruction family dispatches through the catch-table
// walk (spec.md §4.1 "I/O ops: convert OS errors into thrown values via the
// standard error-message helper"), grounded on the teacher's NewVMError-
// style wrapping helpers generalized from PHP warnings to thrown Object
// Pointers.
package ioerror

import (
	"errors"
	"io"

	"github.com/greenvm/greenvm/values"
)

// ToThrown renders err as a heap string Object Pointer suitable for writing
// into a catch-table register. A nil err is not expected by callers (they
// check err != nil first) but is rendered as "eof" defensively rather than
// panicking.
func ToThrown(err error) values.Value {
	if err == nil {
		return values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: "eof"})
	}
	msg := err.Error()
	if errors.Is(err, io.EOF) {
		msg = "end of file"
	}
	return values.Heap(&values.HeapHeader{Kind: values.HeapString, Payload: msg})
}
