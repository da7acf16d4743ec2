// Write is the tuple (key, value, RID, version, action) that flows through
// Limbo and is fanned out into the three Revision orientations on its way
// into a Database Block (spec.md §3).
package engine

// Write carries its Version through every storage-context change: it is
// born with NoVersion inside an AtomicOperation's Limbo and is rewritten
// with the commit's assigned Version by Limbo.transform at complete time.
type Write struct {
	Key     Key
	Val     Value
	RID     RID
	Ver     Version
	Act     Action
}

// NewWrite validates and constructs a Write for ADD/REMOVE. Validation here
// is the InvalidInput surface spec.md §7 describes for write APIs: blank
// keys, blank values, and function-typed values (not representable by
// Value at all, so encodeValue already rejects them) are caught before the
// Write is ever queued.
func NewWrite(key Key, val Value, rid RID, act Action) (Write, error) {
	if err := act.Validate(); err != nil {
		return Write{}, err
	}
	if err := validateKey(key); err != nil {
		return Write{}, err
	}
	if val.IsBlank() {
		return Write{}, ErrEmptyValue
	}
	if val.Kind() == KindLink && val.Link() == rid {
		return Write{}, ErrSelfReferential
	}
	return Write{Key: key, Val: val, RID: rid, Ver: NoVersion, Act: act}, nil
}

// withVersion returns a copy of w carrying a new version — used by
// Limbo.transform at commit time to stamp writes with the commit's
// assigned Version without mutating anything else.
func (w Write) withVersion(v Version) Write {
	w.Ver = v
	return w
}

// topic identifies the logical (key,value,RID) fact a Write toggles,
// independent of version — used by ToggleQueue to de-duplicate repeated
// ADD/REMOVE toggles of the same fact within one Transaction.
func (w Write) topic() string {
	val, _ := encodeValue(w.Val)
	buf := make([]byte, 0, len(w.Key)+len(val)+8)
	buf = append(buf, w.Key...)
	buf = append(buf, 0)
	buf = append(buf, val...)
	buf = appendU64(buf, w.RID)
	return string(buf)
}

// toPrimary / toSecondary / toSearch fan a Write out into the Revision
// orientation a Block of that kind expects.
func (w Write) toPrimary() PrimaryRevision {
	return PrimaryRevision{RID: w.RID, Key: w.Key, Val: w.Val, Ver: w.Ver, Act: w.Act}
}
func (w Write) toSecondary() SecondaryRevision {
	return SecondaryRevision{Key: w.Key, Val: w.Val, RID: w.RID, Ver: w.Ver, Act: w.Act}
}

// toSearch tokenizes the value's string form and returns one SearchRevision
// per (substring, position) pair (spec.md §4.3). Non-string-shaped values
// (Int64/Float64/Boolean/Link/Timestamp/Blob) have nothing to tokenize.
func (w Write) toSearch() []SearchRevision {
	if w.Val.Kind() != KindString {
		return nil
	}
	terms := indexableTerms(w.Val.String())
	if len(terms) == 0 {
		return nil
	}
	out := make([]SearchRevision, 0, len(terms))
	for _, t := range terms {
		out = append(out, SearchRevision{
			Key:      w.Key,
			Term:     t.term,
			RID:      w.RID,
			Position: t.position,
			Ver:      w.Ver,
			Act:      w.Act,
		})
	}
	return out
}
