// Limbo: an ordered, append-only sequence of Writes (spec.md §4.1). The
// Engine's Buffer (buffer.go) and a Transaction's ToggleQueue (toggle.go)
// both implement this interface; memoryQueue is the plain in-memory base
// case used directly by nested AtomicOperations.
package engine

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// limbo is the append-only write log every tier of the engine (operation,
// transaction, buffer) composes over a durable side.
type limbo interface {
	insert(w Write, sync bool) error
	writes() []Write
	transport(dst acceptor, sync bool) error
	transform(fn func(Write) Write)
	verify(key Key, val Value, rid RID, ts Version) (verifyResult, error)
	getLastWriteAction(key Key, val Value, rid RID, ts Version) (Action, bool, error)
}

// acceptor is anything a Limbo can transport its Writes into.
type acceptor interface {
	accept(w Write, sync bool) error
}

// verifyResult is the BufferedStore's tri-state verify answer (spec.md
// §4.5). memoryQueue.verify always folds the queue and answers TRUE or
// FALSE; toggleQueue.verify answers UNSURE only together with an error.
type verifyResult uint8

const (
	verifyFalse verifyResult = iota
	verifyTrue
	verifyUnsure
)

// limboAccelerateThreshold is the write count at which a memoryQueue
// builds its bloom filter + Table read-acceleration structures (spec.md
// §4.1: "threshold-triggered at ~10 writes").
const limboAccelerateThreshold = 10

// memoryQueue is the plain in-memory Limbo: O(1) insert, O(n) scan, with
// optional read acceleration once it grows past the threshold.
type memoryQueue struct {
	mu  sync.RWMutex
	buf []Write

	accelerated bool
	filter      *bloom.BloomFilter
	table       *Table
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{}
}

func (q *memoryQueue) insert(w Write, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, w)
	if q.accelerated {
		q.applyAccelerated(w)
	} else if len(q.buf) >= limboAccelerateThreshold {
		q.buildAcceleration()
	}
	return nil
}

func (q *memoryQueue) buildAcceleration() {
	q.filter = bloom.NewWithEstimates(uint(len(q.buf)*4+16), blockBloomFP)
	q.table = newTable()
	for _, w := range q.buf {
		q.addToFilter(w)
		q.table.apply(w)
	}
	q.accelerated = true
}

func (q *memoryQueue) applyAccelerated(w Write) {
	q.addToFilter(w)
	q.table.apply(w)
}

func (q *memoryQueue) addToFilter(w Write) {
	val, _ := encodeValue(w.Val)
	q.filter.Add(compositeKey([]byte(w.Key), compositeKey(val, appendU64(nil, w.RID))))
}

// writes returns a stable snapshot in insertion order.
func (q *memoryQueue) writes() []Write {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Write, len(q.buf))
	copy(out, q.buf)
	return out
}

// transport drains every write, in order, into dst.
func (q *memoryQueue) transport(dst acceptor, sync bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.buf {
		last := sync && i == len(q.buf)-1
		if err := dst.accept(w, last); err != nil {
			return err
		}
	}
	q.buf = q.buf[:0]
	q.accelerated = false
	q.filter = nil
	q.table = nil
	return nil
}

// transform rewrites every Write in place — used to stamp commit versions.
func (q *memoryQueue) transform(fn func(Write) Write) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.buf {
		q.buf[i] = fn(w)
	}
}

// verify reconstructs the current ADD/REMOVE state for (key,value,RID) at
// or before ts by folding the queue. If accelerated, a negative bloom
// answer short-circuits to verifyFalse.
func (q *memoryQueue) verify(key Key, val Value, rid RID, ts Version) (verifyResult, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.accelerated {
		valBytes, _ := encodeValue(val)
		if !q.filter.Test(compositeKey([]byte(key), compositeKey(valBytes, appendU64(nil, rid)))) {
			return verifyFalse, nil
		}
	}
	act, found := foldAction(q.buf, key, val, rid, ts)
	if !found {
		return verifyFalse, nil
	}
	if act == ActionAdd {
		return verifyTrue, nil
	}
	return verifyFalse, nil
}

// getLastWriteAction reports the last ADD/REMOVE applied to (key,value,
// RID) at or before ts, and whether any write touched that fact at all.
func (q *memoryQueue) getLastWriteAction(key Key, val Value, rid RID, ts Version) (Action, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	act, found := foldAction(q.buf, key, val, rid, ts)
	return act, found, nil
}

func foldAction(buf []Write, key Key, val Value, rid RID, ts Version) (Action, bool) {
	var last Action
	found := false
	for _, w := range buf {
		if w.Ver > ts && ts != maxVersion {
			continue
		}
		if w.RID != rid || w.Key != key || !w.Val.Equal(val) {
			continue
		}
		last = w.Act
		found = true
	}
	return last, found
}

// compositeKey joins two byte strings with a NUL separator, mirroring
// bloom.go's composite convention for one consistent hashing strategy
// across blocks and limbo acceleration.
func compositeKey(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b)+1)
	out = append(out, a...)
	out = append(out, 0)
	out = append(out, b...)
	return out
}

// Table maps RID -> key -> set of values, kept consistent by applying every
// Limbo insert once acceleration is built (spec.md §4.1). No read path
// consults it: verify and getLastWriteAction fold the queue linearly.
type Table struct {
	mu   sync.RWMutex
	rows map[RID]map[Key]map[string]Value
}

func newTable() *Table {
	return &Table{rows: make(map[RID]map[Key]map[string]Value)}
}

func (t *Table) apply(w Write) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[w.RID]
	if !ok {
		row = make(map[Key]map[string]Value)
		t.rows[w.RID] = row
	}
	col, ok := row[w.Key]
	if !ok {
		col = make(map[string]Value)
		row[w.Key] = col
	}
	enc, _ := encodeValue(w.Val)
	switch w.Act {
	case ActionAdd:
		col[string(enc)] = w.Val
	case ActionRemove:
		delete(col, string(enc))
	}
}

// Get returns the current values under (rid,key).
func (t *Table) Get(rid RID, key Key) []Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	col, ok := t.rows[rid][key]
	if !ok {
		return nil
	}
	out := make([]Value, 0, len(col))
	for _, v := range col {
		out = append(out, v)
	}
	return out
}
