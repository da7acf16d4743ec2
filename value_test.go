package engine

import "testing"

// If Compare did not treat uppercase as strictly less than lowercase for
// KindString, CON-667's bound-folding direction table in operator.go would
// fold the wrong way and a GTE/LT/BETWEEN range would silently exclude
// values a case-insensitive reader expects to see.
func TestValueCompareStringCaseOrder(t *testing.T) {
	upper := NewString("Apple")
	lower := NewString("apple")
	if upper.Compare(lower) >= 0 {
		t.Fatalf("expected %q to sort before %q, got Compare >= 0", upper, lower)
	}
	if !upper.Equal(lower) {
		t.Fatalf("expected %q and %q to be case-insensitively equal", upper, lower)
	}
}

// Tags are deliberately case-sensitive (SPEC_FULL.md §9): if Equal folded
// case on KindTag the way it does on KindString, two distinct tags that
// only differ by case would collapse into the same fact and one of them
// would never be independently removable.
func TestValueTagEqualityIsCaseSensitive(t *testing.T) {
	if NewTag("Active").Equal(NewTag("active")) {
		t.Fatalf("tags must not fold case")
	}
	if !NewTag("Active").Equal(NewTag("Active")) {
		t.Fatalf("identical tags must compare equal")
	}
}

// Compare's infinity sentinels exist purely to let valuerange.go express
// unbounded sides of a range. If NegInfinity/PosInfinity did not compare
// as strictly outside every real value, rangeAll()/rangeFor() would wrongly
// exclude values at the extremes of whatever kind populates the range.
func TestValueInfinitySentinelsBoundEverything(t *testing.T) {
	vals := []Value{NewInt64(-1 << 62), NewInt64(0), NewInt64(1 << 62), NewString("zzz"), NewBoolean(true)}
	for _, v := range vals {
		if NegInfinity().Compare(v) >= 0 {
			t.Fatalf("-inf must compare less than %v", v)
		}
		if PosInfinity().Compare(v) <= 0 {
			t.Fatalf("+inf must compare greater than %v", v)
		}
	}
	if NegInfinity().Compare(NegInfinity()) != 0 {
		t.Fatalf("-inf must equal itself")
	}
	if PosInfinity().Compare(PosInfinity()) != 0 {
		t.Fatalf("+inf must equal itself")
	}
}

func TestValueIsBlank(t *testing.T) {
	cases := []struct {
		v     Value
		blank bool
	}{
		{NewString(""), true},
		{NewString("x"), false},
		{NewTag(""), true},
		{NewBlob(nil), true},
		{NewBlob([]byte{0}), false},
		{NewInt64(0), false}, // zero is not blank for non-string/blob kinds
		{NewBoolean(false), false},
	}
	for _, c := range cases {
		if got := c.v.IsBlank(); got != c.blank {
			t.Errorf("IsBlank(%v) = %v, want %v", c.v, got, c.blank)
		}
	}
}

// NewBlob must defensively copy its input: a caller mutating the slice it
// passed in after construction must never be able to reach back into a
// stored Value (the Value is documented as immutable once constructed).
func TestValueBlobIsDefensivelyCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	v := NewBlob(src)
	src[0] = 0xff
	if v.Blob()[0] != 1 {
		t.Fatalf("NewBlob must copy its input, got mutated value %v", v.Blob())
	}
}
