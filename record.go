// Record: in-memory materialized view of revisions for one locator,
// possibly partial (one key). Built by appending revisions observed from
// Block seeks and/or cache updates (spec.md §3/§4.4). One Record type
// serves all three orientations — Primary (document fields), Secondary
// (key=value -> RIDs), Search (term -> RID/position) — by keeping
// `present`/`history` keyed on a canonical string bucket derived from the
// orientation's K column, and a canonical string sub-key derived from its
// V column. The teacher's Record/Index struct split (record.go) is
// generalized here from "two JSON shapes" into this single orientation-
// parameterized structure, per DESIGN NOTES §9's tagged-sum resolution.
package engine

import (
	"bytes"
	"cmp"
	"slices"
)

// Record holds present/history for a single locator (RID for Primary,
// field key for Secondary/Search), optionally narrowed to one bucket
// ("partial"). Search Records are exempt from the partial-key match
// invariant because revisions are appended per query term.
type Record struct {
	Orientation Orientation
	Locator     []byte
	Partial     bool
	PartialKey  []byte

	present map[string]map[string]revision
	history map[string][]revision
}

func newRecord(orientation Orientation, locator []byte) *Record {
	return &Record{
		Orientation: orientation,
		Locator:     append([]byte(nil), locator...),
		present:     make(map[string]map[string]revision),
		history:     make(map[string][]revision),
	}
}

func newPartialRecord(orientation Orientation, locator, key []byte) *Record {
	r := newRecord(orientation, locator)
	r.Partial = true
	r.PartialKey = append([]byte(nil), key...)
	return r
}

// valuePayload returns the canonical bytes of a revision's "V" column,
// used as the presence sub-key: the decoded Value for Primary, the raw
// RID bytes for Secondary, and RID+Position for Search.
func valuePayload(rev revision) []byte {
	switch rv := rev.(type) {
	case PrimaryRevision:
		enc, _ := encodeValue(rv.Val)
		return enc
	case SecondaryRevision:
		var b [8]byte
		putU64(b[:], rv.RID)
		return b[:]
	case SearchRevision:
		buf := appendU64(nil, rv.RID)
		return appendU32(buf, uint32(rv.Position))
	default:
		return nil
	}
}

// append applies the offset precondition from spec.md §4.4/§8 (CON-83):
// ADD only if not currently present, REMOVE only if currently present.
// Non-offsetting revisions are silently discarded. Returns whether the
// revision was accepted.
func (r *Record) append(rev revision) (bool, error) {
	if !bytes.Equal(rev.Locator(), r.Locator) {
		return false, errLocatorMismatch
	}
	if r.Partial && r.Orientation != OrientationSearch {
		if !bytes.Equal(rev.RevKey(), r.PartialKey) {
			return false, errPartialKeyMismatch
		}
	}
	if err := rev.RevAction().Validate(); err != nil {
		return false, err
	}

	bucket := string(rev.RevKey())
	valKey := string(valuePayload(rev))

	bucketMap, ok := r.present[bucket]
	if !ok {
		bucketMap = make(map[string]revision)
		r.present[bucket] = bucketMap
	}
	_, isPresent := bucketMap[valKey]

	switch rev.RevAction() {
	case ActionAdd:
		if isPresent {
			return false, nil // non-offsetting: double-apply, discard
		}
		bucketMap[valKey] = rev
	case ActionRemove:
		if !isPresent {
			return false, nil
		}
		delete(bucketMap, valKey)
	}
	r.history[bucket] = append(r.history[bucket], rev)
	return true, nil
}

var (
	errLocatorMismatch    = recordErr("locator does not match record")
	errPartialKeyMismatch = recordErr("key does not match partial record")
)

type recordErr string

func (e recordErr) Error() string { return string(e) }

// Get returns an unmodifiable view of present[bucket] as an ordered set of
// Values — the Primary "what is in record R" read.
func (r *Record) Get(bucket Key) []Value {
	bm, ok := r.present[bucket]
	if !ok {
		return nil
	}
	out := make([]Value, 0, len(bm))
	for _, rev := range bm {
		out = append(out, primaryValue(rev))
	}
	slices.SortFunc(out, Value.Compare)
	return out
}

// GetAt folds history[bucket] up to and including ts (a Version acting as
// the virtual-clock timestamp, per spec.md §4.7).
func (r *Record) GetAt(bucket Key, ts Version) []Value {
	hist, ok := r.history[bucket]
	if !ok {
		return nil
	}
	surviving := make(map[string]revision)
	for _, rev := range hist {
		if rev.RevVersion() > ts {
			continue
		}
		valKey := string(valuePayload(rev))
		switch rev.RevAction() {
		case ActionAdd:
			surviving[valKey] = rev
		case ActionRemove:
			delete(surviving, valKey)
		}
	}
	out := make([]Value, 0, len(surviving))
	for _, rev := range surviving {
		out = append(out, primaryValue(rev))
	}
	slices.SortFunc(out, Value.Compare)
	return out
}

func primaryValue(rev revision) Value {
	switch rv := rev.(type) {
	case PrimaryRevision:
		return rv.Val
	case SecondaryRevision:
		return NewLink(rv.RID)
	default:
		return Value{}
	}
}

// Explore evaluates a Secondary Record (locator=key) against an operator
// and operands, returning RID -> set of matching values (spec.md §4.4).
// String comparisons are case-insensitive via Value.Equal/matches.
func (r *Record) Explore(op Operator, operands []Value) map[RID][]Value {
	out := make(map[RID][]Value)
	for bucket, bm := range r.present {
		val, err := decodeValue([]byte(bucket))
		if err != nil {
			continue
		}
		if !matches(op, val, operands) {
			continue
		}
		for _, rev := range bm {
			sr, ok := rev.(SecondaryRevision)
			if !ok {
				continue
			}
			out[sr.RID] = append(out[sr.RID], val)
		}
	}
	return out
}

// AllSecondary returns every RID -> matching values pair currently held
// on a Secondary Record, with no operator filter (the "browse a key"
// read, spec.md §4.2).
func (r *Record) AllSecondary() map[RID][]Value {
	out := make(map[RID][]Value)
	for bucket, bm := range r.present {
		val, err := decodeValue([]byte(bucket))
		if err != nil {
			continue
		}
		for _, rev := range bm {
			sr, ok := rev.(SecondaryRevision)
			if !ok {
				continue
			}
			out[sr.RID] = append(out[sr.RID], val)
		}
	}
	return out
}

// Gather inverts Explore: for a single RID, which values this Secondary
// Record currently (or historically) holds. Called once per key across
// many RIDs by Database.Gather. No cube cache sits in front of it: every
// call scans the Record's present buckets.
func (r *Record) Gather(rid RID, ts Version, historical bool) []Value {
	var out []Value
	for bucket, bm := range r.present {
		val, err := decodeValue([]byte(bucket))
		if err != nil {
			continue
		}
		if historical {
			continue // handled via history scan below
		}
		for _, rev := range bm {
			sr, ok := rev.(SecondaryRevision)
			if ok && sr.RID == rid {
				out = append(out, val)
			}
		}
	}
	if !historical {
		slices.SortFunc(out, Value.Compare)
		return out
	}

	surviving := make(map[string]Value)
	for bucket, hist := range r.history {
		val, err := decodeValue([]byte(bucket))
		if err != nil {
			continue
		}
		present := false
		for _, rev := range hist {
			sr, ok := rev.(SecondaryRevision)
			if !ok || sr.RID != rid || rev.RevVersion() > ts {
				continue
			}
			switch rev.RevAction() {
			case ActionAdd:
				present = true
			case ActionRemove:
				present = false
			}
		}
		if present {
			surviving[bucket] = val
		}
	}
	for _, v := range surviving {
		out = append(out, v)
	}
	slices.SortFunc(out, Value.Compare)
	return out
}

// MaxVersion returns the highest version recorded across every bucket in
// this Record's history, or NoVersion if it has none — the "what version
// is this record currently at" read (spec.md §8 scenario 1: "getVersion
// strictly increases").
func (r *Record) MaxVersion() Version {
	var max Version
	for _, hist := range r.history {
		for _, rev := range hist {
			if rev.RevVersion() > max {
				max = rev.RevVersion()
			}
		}
	}
	return max
}

// SearchTerm returns the (RID,Position) pairs currently present for one
// indexed term (bucket = the term string) on a Search Record.
func (r *Record) SearchTerm(term string) []SearchRevision {
	bm, ok := r.present[term]
	if !ok {
		return nil
	}
	out := make([]SearchRevision, 0, len(bm))
	for _, rev := range bm {
		if sr, ok := rev.(SearchRevision); ok {
			out = append(out, sr)
		}
	}
	slices.SortFunc(out, func(a, b SearchRevision) int {
		if a.RID != b.RID {
			return cmp.Compare(a.RID, b.RID)
		}
		return cmp.Compare(a.Position, b.Position)
	})
	return out
}
