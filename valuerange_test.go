package engine

import "testing"

func TestValueRangeContainsPoint(t *testing.T) {
	r := rangeFor(OpBetween, []Value{NewInt64(10), NewInt64(20)})
	if !r.containsPoint(NewInt64(15)) {
		t.Fatalf("15 must be inside [10,20]")
	}
	if r.containsPoint(NewInt64(21)) {
		t.Fatalf("21 must be outside [10,20]")
	}
}

func TestValueRangeGreaterThanIsOpenAtLowerBound(t *testing.T) {
	r := rangeFor(OpGreaterThan, []Value{NewInt64(10)})
	if r.containsPoint(NewInt64(10)) {
		t.Fatalf("GT must exclude the bound itself")
	}
	if !r.containsPoint(NewInt64(11)) {
		t.Fatalf("GT must include values past the bound")
	}
}

func TestValueRangeOverlapsAndMerge(t *testing.T) {
	a := rangeFor(OpBetween, []Value{NewInt64(0), NewInt64(10)})
	b := rangeFor(OpBetween, []Value{NewInt64(5), NewInt64(15)})
	c := rangeFor(OpBetween, []Value{NewInt64(100), NewInt64(200)})

	if !a.overlaps(b) {
		t.Fatalf("[0,10] and [5,15] must overlap")
	}
	if a.overlaps(c) {
		t.Fatalf("[0,10] and [100,200] must not overlap")
	}

	m := merge(a, b)
	if !m.containsPoint(NewInt64(0)) || !m.containsPoint(NewInt64(15)) {
		t.Fatalf("merged range must span both inputs, got %+v", m)
	}
	if m.containsPoint(NewInt64(16)) {
		t.Fatalf("merged range must not extend past both inputs' upper bound")
	}
}

// rangeSet.xor coarsens a growing collection of ranges for the same key
// into their minimal covering spans: two overlapping reads plus one
// disjoint read must collapse to exactly two stored ranges, not three.
func TestRangeSetXorCoalescesOverlappingRanges(t *testing.T) {
	s := newRangeSet()
	s.xor(rangeFor(OpBetween, []Value{NewInt64(0), NewInt64(10)}))
	s.xor(rangeFor(OpBetween, []Value{NewInt64(5), NewInt64(15)}))
	s.xor(rangeFor(OpBetween, []Value{NewInt64(100), NewInt64(110)}))

	if len(s.ranges) != 2 {
		t.Fatalf("expected 2 coalesced ranges, got %d: %+v", len(s.ranges), s.ranges)
	}
	if !s.containsPoint(NewInt64(7)) {
		t.Fatalf("merged span [0,15] must contain 7")
	}
	if !s.containsPoint(NewInt64(105)) {
		t.Fatalf("disjoint span [100,110] must contain 105")
	}
	if s.containsPoint(NewInt64(50)) {
		t.Fatalf("gap between spans must not be contained")
	}
}

func TestRangeSetIntersect(t *testing.T) {
	s := newRangeSet()
	s.xor(rangeFor(OpBetween, []Value{NewInt64(0), NewInt64(10)}))
	if !s.intersect(rangeFor(OpBetween, []Value{NewInt64(5), NewInt64(20)})) {
		t.Fatalf("expected an overlapping probe range to intersect")
	}
	if s.intersect(rangeFor(OpBetween, []Value{NewInt64(50), NewInt64(60)})) {
		t.Fatalf("expected a disjoint probe range not to intersect")
	}
}
