// Value is the tagged union stored under a key: boolean, integer, float,
// string, link-to-RID, timestamp, tag, or blob. Values have a total order
// (with sentinel -inf/+inf members used only inside range tokens) and
// case-insensitive equality for strings, matching spec.md §3.
package engine

import (
	"cmp"
	"fmt"
	"strings"
)

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	KindBoolean ValueKind = iota
	KindInt64
	KindFloat64
	KindString
	KindLink
	KindTimestamp
	KindTag
	KindBlob

	// kindNegInfinity and kindPosInfinity are sentinels used only inside
	// range tokens; Value.Compare treats them as less/greater than every
	// real value of any kind.
	kindNegInfinity
	kindPosInfinity
)

// Value is immutable once constructed.
type Value struct {
	kind  ValueKind
	b     bool
	i     int64
	f     float64
	s     string // String and Tag payload
	link  RID
	blob  []byte
}

func NewBoolean(b bool) Value    { return Value{kind: KindBoolean, b: b} }
func NewInt64(i int64) Value     { return Value{kind: KindInt64, i: i} }
func NewFloat64(f float64) Value { return Value{kind: KindFloat64, f: f} }
func NewString(s string) Value   { return Value{kind: KindString, s: s} }
func NewLink(r RID) Value        { return Value{kind: KindLink, link: r} }
func NewTimestamp(unixMillis int64) Value {
	return Value{kind: KindTimestamp, i: unixMillis}
}
func NewTag(s string) Value { return Value{kind: KindTag, s: s} }
func NewBlob(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBlob, blob: cp}
}

// NegInfinity and PosInfinity bound range tokens on either side.
func NegInfinity() Value { return Value{kind: kindNegInfinity} }
func PosInfinity() Value { return Value{kind: kindPosInfinity} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindInt64, KindTimestamp:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindString, KindTag:
		return v.s
	case KindLink:
		return fmt.Sprintf("@%d", v.link)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.blob))
	case kindNegInfinity:
		return "-inf"
	case kindPosInfinity:
		return "+inf"
	default:
		return ""
	}
}
func (v Value) Link() RID   { return v.link }
func (v Value) Blob() []byte { return v.blob }
func (v Value) IsInfinite() bool {
	return v.kind == kindNegInfinity || v.kind == kindPosInfinity
}

// Equal implements the case-insensitive equality rule for strings (not
// tags: tags are deliberately case-sensitive, see SPEC_FULL.md §9).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindInt64, KindTimestamp:
		return v.i == o.i
	case KindFloat64:
		return v.f == o.f
	case KindString:
		return strings.EqualFold(v.s, o.s)
	case KindTag:
		return v.s == o.s
	case KindLink:
		return v.link == o.link
	case KindBlob:
		return string(v.blob) == string(o.blob)
	default:
		return true // both infinities of the same kind
	}
}

// Compare establishes the total order over Value used by BETWEEN/GT/LT and
// by sorting revisions within a Block. Byte order of the natural string
// form is preserved under case folding: uppercase sorts before lowercase,
// which is why callers doing case-insensitive range comparisons must fold
// the *bound*, not the stored value — see foldBound in operator.go (CON-667).
func (v Value) Compare(o Value) int {
	if v.kind == kindNegInfinity || o.kind == kindPosInfinity {
		if v.kind == o.kind {
			return 0
		}
		return -1
	}
	if v.kind == kindPosInfinity || o.kind == kindNegInfinity {
		if v.kind == o.kind {
			return 0
		}
		return 1
	}
	if v.kind != o.kind {
		return cmp.Compare(v.kind, o.kind)
	}
	switch v.kind {
	case KindBoolean:
		return cmp.Compare(boolInt(v.b), boolInt(o.b))
	case KindInt64, KindTimestamp:
		return cmp.Compare(v.i, o.i)
	case KindFloat64:
		return cmp.Compare(v.f, o.f)
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindTag:
		return strings.Compare(v.s, o.s)
	case KindLink:
		return cmp.Compare(v.link, o.link)
	case KindBlob:
		return strings.Compare(string(v.blob), string(o.blob))
	default:
		return 0
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsBlank reports whether a Value carries no usable content (InvalidInput
// rejects blank values on write, per spec.md §7).
func (v Value) IsBlank() bool {
	switch v.kind {
	case KindString, KindTag:
		return v.s == ""
	case KindBlob:
		return len(v.blob) == 0
	default:
		return false
	}
}
