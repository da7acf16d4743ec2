// The read/write surface spec.md §4.7 step 3 describes: every public call
// records a lock intention (unless it's a historical read, §4.7 "never
// record intentions") and then delegates to op.view — the BufferedStore
// layering this operation's own Limbo over its source's view — entirely
// without taking any lock on the underlying store. Transaction and
// TwoPhaseCommit inherit this surface by embedding *AtomicOperation.
package engine

// Add records key=val for rid. A self-referential link is silently
// rejected (spec.md §7: "Silently swallowed in add/remove paths").
func (op *AtomicOperation) Add(key Key, val Value, rid RID) error {
	w, err := NewWrite(key, val, rid, ActionAdd)
	if err != nil {
		if err == ErrSelfReferential {
			return nil
		}
		return err
	}
	if err := op.recordWrite(key, rid); err != nil {
		return err
	}
	return op.view.accept(w, false)
}

// Remove records the removal of key=val for rid. A self-referential link
// is silently rejected, matching Add.
func (op *AtomicOperation) Remove(key Key, val Value, rid RID) error {
	w, err := NewWrite(key, val, rid, ActionRemove)
	if err != nil {
		if err == ErrSelfReferential {
			return nil
		}
		return err
	}
	if err := op.recordWrite(key, rid); err != nil {
		return err
	}
	return op.view.accept(w, false)
}

// Set replaces every value currently present under key for rid with val.
// Unlike Add/Remove, a self-referential link is surfaced to the caller
// rather than silently dropped (spec.md §7: "surfaced in set").
func (op *AtomicOperation) Set(key Key, val Value, rid RID) error {
	current, err := op.Select(key, rid)
	if err != nil {
		return err
	}
	w, err := NewWrite(key, val, rid, ActionAdd)
	if err != nil {
		return err
	}
	for _, cur := range current {
		if cur.Equal(val) {
			continue
		}
		if rw, rerr := NewWrite(key, cur, rid, ActionRemove); rerr == nil {
			if err := op.recordWrite(key, rid); err != nil {
				return err
			}
			if err := op.view.accept(rw, false); err != nil {
				return err
			}
		}
	}
	if err := op.recordWrite(key, rid); err != nil {
		return err
	}
	return op.view.accept(w, false)
}

// Select returns the current values under key for rid.
func (op *AtomicOperation) Select(key Key, rid RID) ([]Value, error) {
	if err := op.recordRead(key, rid, true); err != nil {
		return nil, err
	}
	return op.view.Select(key, rid)
}

// Chronologize returns key's values for rid as of ts. A ts at or before
// the operation's current virtual clock is a historical read and records
// no intention (spec.md §4.7); a ts strictly ahead of now is treated as a
// present read.
func (op *AtomicOperation) Chronologize(key Key, rid RID, ts Version) ([]Value, error) {
	now := op.source.currentVersion()
	if !op.historicalRead(ts, now) {
		if err := op.recordRead(key, rid, true); err != nil {
			return nil, err
		}
	} else if err := op.checkState(); err != nil {
		return nil, err
	}
	return op.view.Chronologize(key, rid, ts)
}

// Browse returns every value currently recorded under key, by RID.
func (op *AtomicOperation) Browse(key Key) (map[RID][]Value, error) {
	if err := op.recordKeyRead(key); err != nil {
		return nil, err
	}
	return op.view.Browse(key)
}

// Explore evaluates operator/operands against key's Secondary values.
func (op *AtomicOperation) Explore(key Key, operatorOp Operator, operands []Value) (map[RID][]Value, error) {
	if err := op.recordRangeRead(key, operatorOp, operands); err != nil {
		return nil, err
	}
	return op.view.Explore(key, operatorOp, operands)
}

// Gather inverts Select across keys for rid, at ts (or current, if
// historical is false).
func (op *AtomicOperation) Gather(keys []Key, rid RID, ts Version, historical bool) (map[Key][]Value, error) {
	now := op.source.currentVersion()
	if !historical || !op.historicalRead(ts, now) {
		for _, key := range keys {
			if err := op.recordRead(key, rid, true); err != nil {
				return nil, err
			}
		}
	} else if err := op.checkState(); err != nil {
		return nil, err
	}
	return op.view.Gather(keys, rid, ts, historical)
}

// Search evaluates a multi-word infix query against key's indexed terms.
func (op *AtomicOperation) Search(key Key, query string) (map[RID]bool, error) {
	if err := op.recordKeyRead(key); err != nil {
		return nil, err
	}
	return op.view.Search(key, query)
}

// Review returns the values currently present under key for rid, the
// same set Select returns; the revision history itself is not listed.
func (op *AtomicOperation) Review(key Key, rid RID) ([]Value, error) {
	if err := op.recordRead(key, rid, true); err != nil {
		return nil, err
	}
	return op.view.Review(key, rid)
}

// Verify reports whether key=val currently holds for rid.
func (op *AtomicOperation) Verify(key Key, val Value, rid RID) (bool, error) {
	if err := op.recordRead(key, rid, true); err != nil {
		return false, err
	}
	return op.view.verify(key, val, rid)
}

// VerifyAt reports whether key=val held for rid as of ts.
func (op *AtomicOperation) VerifyAt(key Key, val Value, rid RID, ts Version) (bool, error) {
	now := op.source.currentVersion()
	if !op.historicalRead(ts, now) {
		if err := op.recordRead(key, rid, true); err != nil {
			return false, err
		}
	} else if err := op.checkState(); err != nil {
		return false, err
	}
	return op.view.verifyAt(key, val, rid, ts)
}

// GetVersion reports rid's current version, recording a whole-record read
// intention (the same token a Primary "get the whole record" read uses).
func (op *AtomicOperation) GetVersion(rid RID) (Version, error) {
	if err := op.recordRead("", rid, false); err != nil {
		return NoVersion, err
	}
	return op.view.Version(rid)
}
