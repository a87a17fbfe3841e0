package values

import (
	"math/big"
	"testing"
)

func TestSmallIntRoundTrip(t *testing.T) {
	v := SmallInt(42)
	if !v.IsSmallInt() {
		t.Fatalf("expected small int tag")
	}
	if v.AsSmallInt() != 42 {
		t.Errorf("AsSmallInt() = %d, want 42", v.AsSmallInt())
	}
}

func TestBigIntDemotesWhenItFits(t *testing.T) {
	v := BigInt(big.NewInt(7))
	if !v.IsSmallInt() {
		t.Errorf("BigInt(7) should demote to a small int, got tag %d", v.Tag())
	}
}

func TestBigIntPromotion(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	v := BigInt(huge)
	if !v.IsBigInt() {
		t.Fatalf("expected promoted big int tag")
	}
	if v.AsBigInt().Cmp(huge) != 0 {
		t.Errorf("AsBigInt() = %s, want %s", v.AsBigInt(), huge)
	}
}

func TestSentinelTruthiness(t *testing.T) {
	if Bool(false).IsTruthy() {
		t.Errorf("false sentinel must not be truthy")
	}
	if !Bool(true).IsTruthy() {
		t.Errorf("true sentinel must be truthy")
	}
	if Nil().IsTruthy() {
		t.Errorf("nil sentinel must not be truthy")
	}
}

func TestEqualIsIdentityNotCoercion(t *testing.T) {
	if Equal(SmallInt(1), Float(1.0)) {
		t.Errorf("Equal must not coerce across tags (identity semantics)")
	}
	if !Equal(SmallInt(1), SmallInt(1)) {
		t.Errorf("Equal(1, 1) should hold")
	}
}

func TestHeapFollowsForwardingPointer(t *testing.T) {
	moved := &HeapHeader{Kind: HeapString, Payload: "moved"}
	original := &HeapHeader{Kind: HeapString, Payload: "stale", Forwarded: moved}
	v := Heap(original)
	if v.Heap() != moved {
		t.Errorf("Heap() did not follow the GC's forwarding pointer")
	}
}
