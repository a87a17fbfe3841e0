package vm

import (
	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// execComparison implements spec.md §4.1's boolean/comparison family:
// results are always the VM's canonical True/False sentinels.
func execComparison(ctx *process.Context, inst opcodes.Instruction) step {
	lhs := operand(ctx, op1Type(inst), inst.Op1)

	if inst.Opcode == opcodes.OP_NOT {
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(!lhs.IsTruthy()))
		return cont()
	}

	rhs := operand(ctx, op2Type(inst), inst.Op2)

	switch inst.Opcode {
	case opcodes.OP_EQ:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(valuesEqual(lhs, rhs)))
	case opcodes.OP_NEQ:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(!valuesEqual(lhs, rhs)))
	case opcodes.OP_LT:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(compareNumeric(lhs, rhs) < 0))
	case opcodes.OP_LE:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(compareNumeric(lhs, rhs) <= 0))
	case opcodes.OP_GT:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(compareNumeric(lhs, rhs) > 0))
	case opcodes.OP_GE:
		storeResult(ctx, resultType(inst), inst.Result, values.Bool(compareNumeric(lhs, rhs) >= 0))
	}
	return cont()
}

// valuesEqual implements the VM's value equality: numeric values compare by
// mathematical value across representations, everything else by
// values.Equal's identity rule.
func valuesEqual(a, b values.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return compareNumeric(a, b) == 0
	}
	return values.Equal(a, b)
}

// compareNumeric orders two numeric Object Pointers, widening to the
// narrowest representation that loses no information.
func compareNumeric(a, b values.Value) int {
	if bothFloat(a, b) {
		af, bf := a.ToFloat(), b.ToFloat()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.IsBigInt() || b.IsBigInt() {
		return a.ToBigInt().Cmp(b.ToBigInt())
	}
	x, y := a.AsSmallInt(), b.AsSmallInt()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
