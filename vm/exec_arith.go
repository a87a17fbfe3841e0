package vm

import (
	"fmt"
	"math"
	"math/big"

	"github.com/greenvm/greenvm/opcodes"
	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// execArithmetic implements spec.md §4.1's arithmetic family: an
// overflow-checked int64 fast path and a math/big promotion slow path for
// Add/Sub/Mul, and thrown divide-by-zero for integer Div/Mod. math/big is
// the module's one deliberate standard-library dependency (see DESIGN.md):
// no bignum library appears anywhere in the retrieved pack.
func execArithmetic(p *process.Process, ctx *process.Context, inst opcodes.Instruction, c Collaborators) step {
	lhs := operand(ctx, op1Type(inst), inst.Op1)

	if inst.Opcode == opcodes.OP_NEG || inst.Opcode == opcodes.OP_BW_NOT {
		return execUnaryArith(ctx, inst, lhs)
	}
	if inst.Opcode == opcodes.OP_INT_TO_STRING {
		storeResult(ctx, resultType(inst), inst.Result, values.Heap(&values.HeapHeader{
			Kind:    values.HeapString,
			Payload: lhs.String(),
		}))
		return cont()
	}
	if inst.Opcode == opcodes.OP_STRING_TO_INT {
		return execStringToInt(p, ctx, inst, lhs, c)
	}

	rhs := operand(ctx, op2Type(inst), inst.Op2)

	switch inst.Opcode {
	case opcodes.OP_ADD:
		return storeArithResult(ctx, inst, addValues(lhs, rhs))
	case opcodes.OP_SUB:
		return storeArithResult(ctx, inst, subValues(lhs, rhs))
	case opcodes.OP_MUL:
		return storeArithResult(ctx, inst, mulValues(lhs, rhs))
	case opcodes.OP_DIV:
		return divValues(p, ctx, inst, lhs, rhs, c)
	case opcodes.OP_MOD:
		return modValues(p, ctx, inst, lhs, rhs, c)
	case opcodes.OP_POW:
		return storeArithResult(ctx, inst, powValues(lhs, rhs))
	case opcodes.OP_BW_AND:
		return storeArithResult(ctx, inst, values.SmallInt(asInt(lhs)&asInt(rhs)))
	case opcodes.OP_BW_OR:
		return storeArithResult(ctx, inst, values.SmallInt(asInt(lhs)|asInt(rhs)))
	case opcodes.OP_BW_XOR:
		return storeArithResult(ctx, inst, values.SmallInt(asInt(lhs)^asInt(rhs)))
	case opcodes.OP_SHL:
		return storeArithResult(ctx, inst, values.SmallInt(asInt(lhs)<<uint(asInt(rhs))))
	case opcodes.OP_SHR:
		return storeArithResult(ctx, inst, values.SmallInt(asInt(lhs)>>uint(asInt(rhs))))
	}
	return cont()
}

func execUnaryArith(ctx *process.Context, inst opcodes.Instruction, v values.Value) step {
	switch inst.Opcode {
	case opcodes.OP_NEG:
		if v.IsFloat() {
			storeResult(ctx, resultType(inst), inst.Result, values.Float(-v.ToFloat()))
			return cont()
		}
		if v.IsBigInt() {
			storeResult(ctx, resultType(inst), inst.Result, values.BigInt(new(big.Int).Neg(v.AsBigInt())))
			return cont()
		}
		n := v.AsSmallInt()
		if n == math.MinInt64 {
			storeResult(ctx, resultType(inst), inst.Result, values.BigInt(new(big.Int).Neg(big.NewInt(n))))
			return cont()
		}
		storeResult(ctx, resultType(inst), inst.Result, values.SmallInt(-n))
	case opcodes.OP_BW_NOT:
		storeResult(ctx, resultType(inst), inst.Result, values.SmallInt(^asInt(v)))
	}
	return cont()
}

func storeArithResult(ctx *process.Context, inst opcodes.Instruction, v values.Value) step {
	storeResult(ctx, resultType(inst), inst.Result, v)
	return cont()
}

func asInt(v values.Value) int64 {
	if v.IsBigInt() {
		return v.AsBigInt().Int64()
	}
	if v.IsFloat() {
		return int64(v.AsFloat())
	}
	return v.AsSmallInt()
}

func bothFloat(a, b values.Value) bool { return a.IsFloat() || b.IsFloat() }

func addValues(a, b values.Value) values.Value {
	if bothFloat(a, b) {
		return values.Float(a.ToFloat() + b.ToFloat())
	}
	if a.IsBigInt() || b.IsBigInt() {
		return values.BigInt(new(big.Int).Add(a.ToBigInt(), b.ToBigInt()))
	}
	x, y := a.AsSmallInt(), b.AsSmallInt()
	sum := x + y
	if (sum > x) == (y > 0) { // no overflow
		return values.SmallInt(sum)
	}
	return values.BigInt(new(big.Int).Add(big.NewInt(x), big.NewInt(y)))
}

func subValues(a, b values.Value) values.Value {
	if bothFloat(a, b) {
		return values.Float(a.ToFloat() - b.ToFloat())
	}
	if a.IsBigInt() || b.IsBigInt() {
		return values.BigInt(new(big.Int).Sub(a.ToBigInt(), b.ToBigInt()))
	}
	x, y := a.AsSmallInt(), b.AsSmallInt()
	diff := x - y
	if (diff < x) == (y > 0) { // no overflow
		return values.SmallInt(diff)
	}
	return values.BigInt(new(big.Int).Sub(big.NewInt(x), big.NewInt(y)))
}

func mulValues(a, b values.Value) values.Value {
	if bothFloat(a, b) {
		return values.Float(a.ToFloat() * b.ToFloat())
	}
	if a.IsBigInt() || b.IsBigInt() {
		return values.BigInt(new(big.Int).Mul(a.ToBigInt(), b.ToBigInt()))
	}
	x, y := a.AsSmallInt(), b.AsSmallInt()
	if x == 0 || y == 0 {
		return values.SmallInt(0)
	}
	product := x * y
	if product/y == x && !(x == -1 && y == math.MinInt64) && !(y == -1 && x == math.MinInt64) {
		return values.SmallInt(product)
	}
	return values.BigInt(new(big.Int).Mul(big.NewInt(x), big.NewInt(y)))
}

func powValues(a, b values.Value) values.Value {
	if bothFloat(a, b) {
		return values.Float(math.Pow(a.ToFloat(), b.ToFloat()))
	}
	exp := b.ToBigInt()
	if exp.Sign() < 0 {
		return values.Float(math.Pow(a.ToFloat(), b.ToFloat()))
	}
	return values.BigInt(new(big.Int).Exp(a.ToBigInt(), exp, nil))
}

// divValues implements spec.md §4.1's integer Div: per
// original_source/vm/src/vm/machine.rs:442-457, IntegerDiv is a floored
// division that always stays integer-typed, never a fallback to Float -
// only FloatDiv (a wholly separate instruction the original keeps apart
// from IntegerDiv) produces a float result. Only a float operand here
// routes to float division; two integers divide floored, evenly or not.
func divValues(p *process.Process, ctx *process.Context, inst opcodes.Instruction, a, b values.Value, c Collaborators) step {
	if bothFloat(a, b) {
		storeResult(ctx, resultType(inst), inst.Result, values.Float(a.ToFloat()/b.ToFloat()))
		return cont()
	}
	if b.ToBigInt().Sign() == 0 {
		return throwValue(p, ctx, divideByZero(), c)
	}
	if a.IsBigInt() || b.IsBigInt() {
		storeResult(ctx, resultType(inst), inst.Result, values.BigInt(flooredDivBigInt(a.ToBigInt(), b.ToBigInt())))
		return cont()
	}
	x, y := a.AsSmallInt(), b.AsSmallInt()
	if x == math.MinInt64 && y == -1 {
		storeResult(ctx, resultType(inst), inst.Result, values.BigInt(flooredDivBigInt(big.NewInt(x), big.NewInt(y))))
		return cont()
	}
	storeResult(ctx, resultType(inst), inst.Result, values.SmallInt(flooredDivInt64(x, y)))
	return cont()
}

// modValues implements spec.md §4.1's integer Mod as the floored modulo
// companion to divValues (original_source/vm/src/vm/machine.rs:478-487's
// IntegerMod/overflowing_floored_division), not Go's truncating %: a
// negative operand must agree with the floored quotient divValues produces
// for it.
func modValues(p *process.Process, ctx *process.Context, inst opcodes.Instruction, a, b values.Value, c Collaborators) step {
	if bothFloat(a, b) {
		storeResult(ctx, resultType(inst), inst.Result, values.Float(math.Mod(a.ToFloat(), b.ToFloat())))
		return cont()
	}
	if b.ToBigInt().Sign() == 0 {
		return throwValue(p, ctx, divideByZero(), c)
	}
	if a.IsBigInt() || b.IsBigInt() {
		storeResult(ctx, resultType(inst), inst.Result, values.BigInt(flooredModBigInt(a.ToBigInt(), b.ToBigInt())))
		return cont()
	}
	storeResult(ctx, resultType(inst), inst.Result, values.SmallInt(flooredModInt64(a.AsSmallInt(), b.AsSmallInt())))
	return cont()
}

// flooredDivInt64 and flooredModInt64 implement floored (not truncating)
// division/modulo: the quotient rounds toward negative infinity, and the
// remainder always has the same sign as the divisor.
func flooredDivInt64(x, y int64) int64 {
	q := x / y
	r := x % y
	if r != 0 && (r < 0) != (y < 0) {
		q--
	}
	return q
}

func flooredModInt64(x, y int64) int64 {
	r := x % y
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r
}

func flooredDivBigInt(x, y *big.Int) *big.Int {
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(x, y, r)
	if r.Sign() != 0 && (r.Sign() < 0) != (y.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

func flooredModBigInt(x, y *big.Int) *big.Int {
	r := new(big.Int).Rem(x, y)
	if r.Sign() != 0 && (r.Sign() < 0) != (y.Sign() < 0) {
		r.Add(r, y)
	}
	return r
}

// execStringToInt implements spec.md §8's round-trip property's other half:
// original_source/vm/src/vm/machine.rs:1702's StringToInteger, parsed base
// 10 (the VM's bytecode carries no radix operand, unlike the original's
// rdx argument). A malformed string throws rather than producing a VM-fatal
// error, matching the original's Err(err) => throw_error_message! branch.
func execStringToInt(p *process.Process, ctx *process.Context, inst opcodes.Instruction, s values.Value, c Collaborators) step {
	n, ok := new(big.Int).SetString(s.String(), 10)
	if !ok {
		msg := values.Heap(&values.HeapHeader{
			Kind:    values.HeapString,
			Payload: fmt.Sprintf("%q is not a valid Integer", s.String()),
		})
		return throwValue(p, ctx, msg, c)
	}
	storeResult(ctx, resultType(inst), inst.Result, values.BigInt(n))
	return cont()
}

// divideByZero is the thrown value for integer division/modulo by zero
// (spec.md §8 seed scenario 3, literal text from the text-adventure
// reference's div-by-zero message).
func divideByZero() values.Value {
	return values.Heap(&values.HeapHeader{
		Kind:    values.HeapString,
		Payload: "Can not divide an Integer by 0",
	})
}
