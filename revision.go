// Revision is the indexed form of a Write at one of three orientations
// (spec.md §3): Primary (L=RID, K=key, V=value), Secondary (L=key,
// K=value, V=RID), Search (L=key, K=term, V=(RID,position)). Rather than a
// single dynamically-dispatched type (the original's approach, flagged for
// reimplementation in spec.md §9), these are three concrete types behind a
// small `revision` interface — a tagged sum, resolved at compile time.
package engine

import "fmt"

// Orientation identifies which of the three parallel indexes a revision
// belongs to.
type Orientation uint8

const (
	OrientationPrimary Orientation = iota
	OrientationSecondary
	OrientationSearch
)

// revision is satisfied by PrimaryRevision, SecondaryRevision, and
// SearchRevision. Block and Record operate against this interface so they
// need not switch on Orientation themselves.
type revision interface {
	Orientation() Orientation
	Locator() []byte // the raw locator bytes used for sorting/bloom/index
	RevKey() []byte  // the raw key/term bytes used for sorting/bloom/index
	RevVersion() Version
	RevAction() Action
	// sortValue returns the raw bytes of the third column, used only to
	// break ties when locator+key+version are equal (spec.md invariant 2).
	sortValue() []byte
	encode() []byte
}

// PrimaryRevision: L=RID, K=key, V=value. Supports "what is in record R".
type PrimaryRevision struct {
	RID     RID
	Key     Key
	Val     Value
	Ver     Version
	Act     Action
}

func (r PrimaryRevision) Orientation() Orientation { return OrientationPrimary }
func (r PrimaryRevision) Locator() []byte {
	var b [8]byte
	putU64(b[:], r.RID)
	return b[:]
}
func (r PrimaryRevision) RevKey() []byte      { return []byte(r.Key) }
func (r PrimaryRevision) RevVersion() Version { return r.Ver }
func (r PrimaryRevision) RevAction() Action   { return r.Act }
func (r PrimaryRevision) sortValue() []byte {
	enc, _ := encodeValue(r.Val)
	return enc
}

// encode lays out: action:u8, version:u64, locator (fixed 8 bytes, RID),
// keySize:u32 + key, value (to end of slice). Matches spec.md §6.
func (r PrimaryRevision) encode() []byte {
	buf := make([]byte, 0, 32+len(r.Key))
	buf = append(buf, byte(r.Act))
	buf = appendU64(buf, r.Ver)
	buf = append(buf, r.Locator()...)
	buf = appendVarBytes(buf, []byte(r.Key))
	val, _ := encodeValue(r.Val)
	buf = append(buf, val...)
	return buf
}

func decodePrimaryRevision(buf []byte) (PrimaryRevision, error) {
	if len(buf) < 1+8+8 {
		return PrimaryRevision{}, fmt.Errorf("%w: short primary revision", ErrCorruptBlock)
	}
	act := Action(buf[0])
	off := 1
	ver := getU64(buf[off:])
	off += 8
	rid := getU64(buf[off:])
	off += 8
	key, off, err := readVarBytes(buf, off)
	if err != nil {
		return PrimaryRevision{}, err
	}
	val, err := decodeValue(buf[off:])
	if err != nil {
		return PrimaryRevision{}, err
	}
	return PrimaryRevision{RID: rid, Key: string(key), Val: val, Ver: ver, Act: act}, nil
}

// SecondaryRevision: L=key, K=value, V=RID. Supports "which records have
// key=value (or in range)".
type SecondaryRevision struct {
	Key Key
	Val Value
	RID RID
	Ver Version
	Act Action
}

func (r SecondaryRevision) Orientation() Orientation { return OrientationSecondary }
func (r SecondaryRevision) Locator() []byte          { return []byte(r.Key) }
func (r SecondaryRevision) RevKey() []byte {
	enc, _ := encodeValue(r.Val)
	return enc
}
func (r SecondaryRevision) RevVersion() Version { return r.Ver }
func (r SecondaryRevision) RevAction() Action   { return r.Act }
func (r SecondaryRevision) sortValue() []byte {
	var b [8]byte
	putU64(b[:], r.RID)
	return b[:]
}

// encode: action:u8, version:u64, locatorSize:u32+locator (key), value,
// then RID (fixed 8 bytes) — matches spec.md §6 ("Text and Value are
// variable-length", RID is fixed) with V appended after the framed K.
func (r SecondaryRevision) encode() []byte {
	buf := make([]byte, 0, 32+len(r.Key))
	buf = append(buf, byte(r.Act))
	buf = appendU64(buf, r.Ver)
	buf = appendVarBytes(buf, []byte(r.Key))
	val, _ := encodeValue(r.Val)
	buf = appendVarBytes(buf, val)
	buf = appendU64(buf, r.RID)
	return buf
}

func decodeSecondaryRevision(buf []byte) (SecondaryRevision, error) {
	if len(buf) < 1+8 {
		return SecondaryRevision{}, fmt.Errorf("%w: short secondary revision", ErrCorruptBlock)
	}
	act := Action(buf[0])
	off := 1
	ver := getU64(buf[off:])
	off += 8
	key, off, err := readVarBytes(buf, off)
	if err != nil {
		return SecondaryRevision{}, err
	}
	valBytes, off, err := readVarBytes(buf, off)
	if err != nil {
		return SecondaryRevision{}, err
	}
	val, err := decodeValue(valBytes)
	if err != nil {
		return SecondaryRevision{}, err
	}
	if off+8 > len(buf) {
		return SecondaryRevision{}, fmt.Errorf("%w: short secondary RID", ErrCorruptBlock)
	}
	rid := getU64(buf[off:])
	return SecondaryRevision{Key: string(key), Val: val, RID: rid, Ver: ver, Act: act}, nil
}

// SearchRevision: L=key, K=term (n-gram), V=(RID, position). Supports
// infix search.
type SearchRevision struct {
	Key      Key
	Term     string
	RID      RID
	Position int
	Ver      Version
	Act      Action
}

func (r SearchRevision) Orientation() Orientation { return OrientationSearch }
func (r SearchRevision) Locator() []byte          { return []byte(r.Key) }
func (r SearchRevision) RevKey() []byte           { return []byte(r.Term) }
func (r SearchRevision) RevVersion() Version      { return r.Ver }
func (r SearchRevision) RevAction() Action        { return r.Act }
func (r SearchRevision) sortValue() []byte {
	buf := appendU64(nil, r.RID)
	return appendU32(buf, uint32(r.Position))
}

// encode: action:u8, version:u64, locatorSize:u32+locator (key),
// termSize:u32+term, then RID (8 bytes) + position (4 bytes).
func (r SearchRevision) encode() []byte {
	buf := make([]byte, 0, 32+len(r.Key)+len(r.Term))
	buf = append(buf, byte(r.Act))
	buf = appendU64(buf, r.Ver)
	buf = appendVarBytes(buf, []byte(r.Key))
	buf = appendVarBytes(buf, []byte(r.Term))
	buf = appendU64(buf, r.RID)
	buf = appendU32(buf, uint32(r.Position))
	return buf
}

func decodeSearchRevision(buf []byte) (SearchRevision, error) {
	if len(buf) < 1+8 {
		return SearchRevision{}, fmt.Errorf("%w: short search revision", ErrCorruptBlock)
	}
	act := Action(buf[0])
	off := 1
	ver := getU64(buf[off:])
	off += 8
	key, off, err := readVarBytes(buf, off)
	if err != nil {
		return SearchRevision{}, err
	}
	term, off, err := readVarBytes(buf, off)
	if err != nil {
		return SearchRevision{}, err
	}
	if off+12 > len(buf) {
		return SearchRevision{}, fmt.Errorf("%w: short search tail", ErrCorruptBlock)
	}
	rid := getU64(buf[off:])
	off += 8
	pos := getU32(buf[off:])
	return SearchRevision{Key: string(key), Term: string(term), RID: rid, Position: int(pos), Ver: ver, Act: act}, nil
}

// decodeRevision dispatches on Orientation to the correct concrete decoder.
func decodeRevision(o Orientation, buf []byte) (revision, error) {
	switch o {
	case OrientationPrimary:
		return decodePrimaryRevision(buf)
	case OrientationSecondary:
		return decodeSecondaryRevision(buf)
	case OrientationSearch:
		return decodeSearchRevision(buf)
	default:
		return nil, fmt.Errorf("unknown orientation %d", o)
	}
}

// compareRevisions orders by (locator, key, version, value) — spec.md
// invariant 2. Used to sort a Block's in-memory multiset before sync.
func compareRevisions(a, b revision) int {
	if c := compareBytes(a.Locator(), b.Locator()); c != 0 {
		return c
	}
	if c := compareBytes(a.RevKey(), b.RevKey()); c != 0 {
		return c
	}
	if a.RevVersion() != b.RevVersion() {
		if a.RevVersion() < b.RevVersion() {
			return -1
		}
		return 1
	}
	return compareBytes(a.sortValue(), b.sortValue())
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
