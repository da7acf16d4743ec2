// BufferedStore: layers a Limbo over a durable side (spec.md §4.5). Reads
// take a "context" from the durable side and let the Limbo apply its
// pending ADDs/REMOVEs on top; verify consults the Limbo's tri-state fast
// path first and falls back to the durable side when the Limbo answers
// UNSURE, or FALSE without holding any write for the fact.
// BufferedStore composes recursively: the Engine's durable side is a
// Database, but a nested AtomicOperation's durable side is its parent's
// BufferedStore view — the same read surface all the way down.
package engine

// lockAdvisory lets in-operation callers bypass the durable side's
// internal locks when the caller already holds equivalent guards
// (spec.md §4.5).
type lockAdvisory uint8

const (
	LockDefault lockAdvisory = iota
	LockSkip
)

// dataStore is the read/accept surface both *Database and *BufferedStore
// implement, letting BufferedStore nest over either one uniformly.
type dataStore interface {
	acceptor
	Select(key Key, rid RID) ([]Value, error)
	Chronologize(key Key, rid RID, ts Version) ([]Value, error)
	Browse(key Key) (map[RID][]Value, error)
	Explore(key Key, op Operator, operands []Value) (map[RID][]Value, error)
	Gather(keys []Key, rid RID, ts Version, historical bool) (map[Key][]Value, error)
	Search(key Key, query string) (map[RID]bool, error)
	Review(key Key, rid RID) ([]Value, error)
	Version(rid RID) (Version, error)
	verify(key Key, val Value, rid RID) (bool, error)
	verifyAt(key Key, val Value, rid RID, ts Version) (bool, error)
}

// BufferedStore composes a limbo (pending writes) over a dataStore
// (durable side).
type BufferedStore struct {
	lb      limbo
	durable dataStore
}

func newBufferedStore(lb limbo, durable dataStore) *BufferedStore {
	return &BufferedStore{lb: lb, durable: durable}
}

func (bs *BufferedStore) Limbo() limbo { return bs.lb }

// accept satisfies dataStore/acceptor by inserting straight into the
// Limbo — this is what lets a BufferedStore serve as a nested
// AtomicOperation's "durable side".
func (bs *BufferedStore) accept(w Write, sync bool) error {
	return bs.lb.insert(w, sync)
}

// overlay folds every Limbo write touching (key,rid) onto base, in
// insertion order: ADD appends the value (if not already present),
// REMOVE drops it.
func overlay(base []Value, writes []Write, key Key, rid RID) []Value {
	present := make(map[string]Value, len(base))
	order := make([]string, 0, len(base))
	for _, v := range base {
		enc, _ := encodeValue(v)
		k := string(enc)
		if _, ok := present[k]; !ok {
			order = append(order, k)
		}
		present[k] = v
	}
	for _, w := range writes {
		if w.RID != rid || w.Key != key {
			continue
		}
		enc, _ := encodeValue(w.Val)
		k := string(enc)
		switch w.Act {
		case ActionAdd:
			if _, ok := present[k]; !ok {
				order = append(order, k)
			}
			present[k] = w.Val
		case ActionRemove:
			delete(present, k)
		}
	}
	out := make([]Value, 0, len(order))
	for _, k := range order {
		if v, ok := present[k]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (bs *BufferedStore) Select(key Key, rid RID) ([]Value, error) {
	base, err := bs.durable.Select(key, rid)
	if err != nil {
		return nil, err
	}
	return overlay(base, bs.lb.writes(), key, rid), nil
}

func (bs *BufferedStore) Chronologize(key Key, rid RID, ts Version) ([]Value, error) {
	base, err := bs.durable.Chronologize(key, rid, ts)
	if err != nil {
		return nil, err
	}
	filtered := make([]Write, 0)
	for _, w := range bs.lb.writes() {
		if w.Ver <= ts {
			filtered = append(filtered, w)
		}
	}
	return overlay(base, filtered, key, rid), nil
}

func (bs *BufferedStore) Browse(key Key) (map[RID][]Value, error) {
	base, err := bs.durable.Browse(key)
	if err != nil {
		return nil, err
	}
	return bs.overlayMap(base, key), nil
}

func (bs *BufferedStore) Explore(key Key, op Operator, operands []Value) (map[RID][]Value, error) {
	base, err := bs.durable.Explore(key, op, operands)
	if err != nil {
		return nil, err
	}
	merged := bs.overlayMap(base, key)
	out := make(map[RID][]Value)
	for rid, vals := range merged {
		var kept []Value
		for _, v := range vals {
			if matches(op, v, operands) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[rid] = kept
		}
	}
	return out, nil
}

// overlayMap folds every Limbo write on key onto a Browse/Explore base
// map, per RID.
func (bs *BufferedStore) overlayMap(base map[RID][]Value, key Key) map[RID][]Value {
	rids := make(map[RID]bool, len(base))
	for rid := range base {
		rids[rid] = true
	}
	for _, w := range bs.lb.writes() {
		if w.Key == key {
			rids[w.RID] = true
		}
	}
	out := make(map[RID][]Value, len(rids))
	for rid := range rids {
		merged := overlay(base[rid], bs.lb.writes(), key, rid)
		if len(merged) > 0 {
			out[rid] = merged
		}
	}
	return out
}

func (bs *BufferedStore) Gather(keys []Key, rid RID, ts Version, historical bool) (map[Key][]Value, error) {
	base, err := bs.durable.Gather(keys, rid, ts, historical)
	if err != nil {
		return nil, err
	}
	out := make(map[Key][]Value, len(keys))
	for _, key := range keys {
		merged := overlay(base[key], bs.lb.writes(), key, rid)
		if len(merged) > 0 {
			out[key] = merged
		}
	}
	return out, nil
}

// Search returns the symmetric difference of durable and Limbo-overlay
// matches: a Limbo REMOVE cancels a durable match, an ADD contributes a
// new one (spec.md §4.5).
func (bs *BufferedStore) Search(key Key, query string) (map[RID]bool, error) {
	base, err := bs.durable.Search(key, query)
	if err != nil {
		return nil, err
	}
	out := make(map[RID]bool, len(base))
	for rid := range base {
		out[rid] = true
	}

	touched := make(map[RID]bool)
	for _, w := range bs.lb.writes() {
		if w.Key == key {
			touched[w.RID] = true
		}
	}
	for rid := range touched {
		vals, err := bs.Select(key, rid)
		if err != nil {
			return nil, err
		}
		match := false
		for _, v := range vals {
			if matchesQuery(query, v) {
				match = true
				break
			}
		}
		if match {
			out[rid] = true
		} else {
			delete(out, rid)
		}
	}
	return out, nil
}

// Version reports the highest version recorded for rid on either side: the
// durable side's, or that of any Write for rid in the Limbo. Writes in an
// operation's own Limbo still carry NoVersion until complete() stamps them,
// so they never raise it; the Engine's Buffer holds committed, versioned
// Writes that have not yet been transported, and those do.
func (bs *BufferedStore) Version(rid RID) (Version, error) {
	v, err := bs.durable.Version(rid)
	if err != nil {
		return NoVersion, err
	}
	for _, w := range bs.lb.writes() {
		if w.RID == rid && w.Ver > v {
			v = w.Ver
		}
	}
	return v, nil
}

func (bs *BufferedStore) Review(key Key, rid RID) ([]Value, error) {
	base, err := bs.durable.Review(key, rid)
	if err != nil {
		return nil, err
	}
	return overlay(base, bs.lb.writes(), key, rid), nil
}

// verify consults the Limbo's tri-state fast path first. TRUE is final, and
// so is FALSE when the Limbo holds a write for the fact (its last action is
// a REMOVE); FALSE with no such write, and UNSURE, fall back to the durable
// side (spec.md §4.5).
func (bs *BufferedStore) verify(key Key, val Value, rid RID) (bool, error) {
	res, err := bs.lb.verify(key, val, rid, maxVersion)
	if err != nil {
		return false, err
	}
	switch res {
	case verifyTrue:
		return true, nil
	case verifyFalse:
		if _, found, ferr := bs.lb.getLastWriteAction(key, val, rid, maxVersion); ferr == nil && found {
			return false, nil // Limbo authoritatively holds a REMOVE
		}
		return bs.durable.verify(key, val, rid)
	default: // verifyUnsure
		return bs.durable.verify(key, val, rid)
	}
}

func (bs *BufferedStore) verifyAt(key Key, val Value, rid RID, ts Version) (bool, error) {
	act, found, err := bs.lb.getLastWriteAction(key, val, rid, ts)
	if err != nil {
		return false, err
	}
	if found {
		return act == ActionAdd, nil
	}
	return bs.durable.verifyAt(key, val, rid, ts)
}
