// AtomicOperation: linearizable multi-read/multi-write isolation over an
// underlying AtomicSupport store with optimistic, JIT-locked commit
// (spec.md §4.7). Reads and writes never block on the underlying store —
// lock intentions accumulate as tokens and are only acquired, non-
// blockingly, at prepare() time; a version-change event observed in the
// meantime preempts the operation instead of blocking it.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationState is the AtomicOperation lifecycle (spec.md §3/§9: no
// PREPARED state — the source's PREPARED enum member was unused by any
// transition and is dropped here).
type OperationState uint8

const (
	StateOpen OperationState = iota
	StatePending
	StateFinalizing
	StatePreempted
	StateAborted
	StateCommitted
)

func (s OperationState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StatePending:
		return "PENDING"
	case StateFinalizing:
		return "FINALIZING"
	case StatePreempted:
		return "PREEMPTED"
	case StateAborted:
		return "ABORTED"
	case StateCommitted:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

// AtomicSupport is implemented by the Engine and by AtomicOperation
// itself, letting an operation nest inside another.
type AtomicSupport interface {
	viewFor(op *AtomicOperation, lb limbo) *BufferedStore
	announcer() *announcer
	brokerFor(op *AtomicOperation) broker
	onChildCommit(child *AtomicOperation)
	currentVersion() Version
	nextVersion() Version
}

// AtomicOperation is single-threaded: exactly one goroutine may drive a
// given instance's reads/writes/commit (spec.md §5).
type AtomicOperation struct {
	source AtomicSupport
	view   *BufferedStore
	lb     broker
	sub    *subscription

	state atomic.Int32 // OperationState, CAS'd at transitions

	mu              sync.Mutex
	reads2Lock      map[string]Token
	rangeReads2Lock map[string]Token
	writes2Lock     map[string]Token
	exemptions      map[string]bool

	permits []*Permit

	nested []*AtomicOperation
}

// newAtomicOperation constructs an operation whose own Limbo is lb — a
// plain memoryQueue for a regular AtomicOperation, a toggleQueue for a
// Transaction (transaction.go).
func newAtomicOperation(source AtomicSupport, lb limbo) *AtomicOperation {
	op := &AtomicOperation{
		source:          source,
		reads2Lock:      make(map[string]Token),
		rangeReads2Lock: make(map[string]Token),
		writes2Lock:     make(map[string]Token),
		exemptions:      make(map[string]bool),
	}
	op.state.Store(int32(StateOpen))
	op.view = source.viewFor(op, lb)
	op.lb = source.brokerFor(op)
	op.sub = source.announcer().subscribe(op)
	return op
}

func (op *AtomicOperation) State() OperationState {
	return OperationState(op.state.Load())
}

func (op *AtomicOperation) cas(from, to OperationState) bool {
	return op.state.CompareAndSwap(int32(from), int32(to))
}

// checkState aborts immediately if the operation is PREEMPTED, per
// spec.md §4.7 step 1 of every read/write.
func (op *AtomicOperation) checkState() error {
	if op.State() == StatePreempted {
		return newStateError(StatePreempted, true)
	}
	if op.State() != StateOpen {
		return newStateError(op.State(), true)
	}
	return nil
}

// onVersionChange implements versionChangeSubscriber: point tokens are
// assessed immediately (spec.md §4.7 "assessed immediately"); range
// tokens queue on the subscription for prepare()/status() to drain.
func (op *AtomicOperation) onVersionChange(t Token) {
	if t.IsRange() {
		return // queued by the subscription itself; nothing to do here
	}
	state := op.State()
	if state != StateOpen && state != StatePending {
		return
	}
	op.mu.Lock()
	_, isRead := op.reads2Lock[t.Key()]
	_, isWrite := op.writes2Lock[t.Key()]
	exempt := op.exemptions[t.Key()]
	op.mu.Unlock()
	if (isRead || isWrite) && !exempt {
		op.state.Store(int32(StatePreempted))
	}
}

// recordRead accumulates a point-read intention for (key,rid) or (rid)
// alone (pass key="" for a whole-record read).
func (op *AtomicOperation) recordRead(key Key, rid RID, hasKey bool) error {
	if err := op.checkState(); err != nil {
		return err
	}
	var t Token
	if hasKey {
		t = wrapKeyRID(key, rid)
	} else {
		t = wrapRID(rid)
	}
	op.mu.Lock()
	op.reads2Lock[t.Key()] = t
	op.mu.Unlock()
	return nil
}

// recordKeyRead accumulates a point-read intention for "field key across
// all records" (a Browse, which has no operator/operands to narrow it).
func (op *AtomicOperation) recordKeyRead(key Key) error {
	if err := op.checkState(); err != nil {
		return err
	}
	t := wrapKey(key)
	op.mu.Lock()
	op.reads2Lock[t.Key()] = t
	op.mu.Unlock()
	return nil
}

// recordRangeRead accumulates a range-read intention (explore at present
// time; Browse records a key read instead).
func (op *AtomicOperation) recordRangeRead(key Key, operatorOp Operator, operands []Value) error {
	if err := op.checkState(); err != nil {
		return err
	}
	t := rangeReadToken(key, operatorOp, operands)
	op.mu.Lock()
	op.rangeReads2Lock[t.Key()] = t
	op.mu.Unlock()
	return nil
}

// recordWrite accumulates the write token (key,RID), the wide token
// (RID) (both as a write AND as an exemption, per CON-669), and a write
// range token on key.
func (op *AtomicOperation) recordWrite(key Key, rid RID) error {
	if err := op.checkState(); err != nil {
		return err
	}
	writeTok := wrapKeyRID(key, rid)
	wideTok := shareableRID(rid)
	rangeTok := rangeWriteToken(key)

	op.mu.Lock()
	op.writes2Lock[writeTok.Key()] = writeTok
	op.writes2Lock[wideTok.Key()] = wideTok
	op.exemptions[wideTok.Key()] = true
	op.writes2Lock[rangeTok.Key()] = rangeTok
	op.mu.Unlock()
	return nil
}

// historicalRead is a no-op w.r.t. intentions: reads at or before the
// current virtual clock never record anything (spec.md §4.7).
func (op *AtomicOperation) historicalRead(ts, now Version) bool {
	return ts <= now
}

// assessQueuedRangeEvents drains any range-token version-change events
// queued on this operation's subscription and preempts it if one
// overlaps a range read it holds an intention for (spec.md §4.7: range
// events "are queued and assessed during prepare() and on demand via
// status()").
func (op *AtomicOperation) assessQueuedRangeEvents() {
	for _, t := range op.sub.drain() {
		op.mu.Lock()
		hit := false
		for _, owned := range op.rangeReads2Lock {
			if owned.RangeKey() == t.RangeKey() {
				hit = true
				break
			}
		}
		op.mu.Unlock()
		if hit {
			op.state.Store(int32(StatePreempted))
		}
	}
}

// Status reassesses any range-token events queued since the last check
// and returns the operation's current lifecycle state — the on-demand
// counterpart to the assessment prepare() performs automatically.
func (op *AtomicOperation) Status() OperationState {
	state := op.State()
	if state == StateOpen || state == StatePending {
		op.assessQueuedRangeEvents()
	}
	return op.State()
}

// prepare runs the two-phase commit's lock-acquisition phase.
func (op *AtomicOperation) prepare() bool {
	if !op.cas(StateOpen, StatePending) {
		return false
	}
	op.assessQueuedRangeEvents()
	if op.State() == StatePreempted {
		return false
	}
	if !op.acquireLocks() {
		op.state.Store(int32(StatePreempted))
		return false
	}
	op.sub.unsubscribe()
	return op.cas(StatePending, StateFinalizing)
}

// acquireLocks implements spec.md §4.7 step 3: write tokens first, then
// point reads not already held as writes, then range reads whose key has
// no range write token — one lock per surviving range read. Coverage is a
// plain per-key map check; rangeSet.xor is not used here.
func (op *AtomicOperation) acquireLocks() bool {
	op.mu.Lock()
	writes := make([]Token, 0, len(op.writes2Lock))
	for _, t := range op.writes2Lock {
		writes = append(writes, t)
	}
	reads := make([]Token, 0, len(op.reads2Lock))
	for k, t := range op.reads2Lock {
		if _, covered := op.writes2Lock[k]; !covered {
			reads = append(reads, t)
		}
	}
	rangeReads := make([]Token, 0, len(op.rangeReads2Lock))
	coveredRangeKeys := make(map[Key]bool)
	for _, t := range op.writes2Lock {
		if t.IsRange() {
			coveredRangeKeys[t.RangeKey()] = true
		}
	}
	for _, t := range op.rangeReads2Lock {
		if !coveredRangeKeys[t.RangeKey()] {
			rangeReads = append(rangeReads, t)
		}
	}
	op.mu.Unlock()

	if len(writes) == 0 && len(reads) == 0 && len(rangeReads) == 0 {
		return true // read-only: succeed immediately
	}

	for _, t := range writes {
		p, ok := op.lb.tryWriteLock(t)
		if !ok {
			return false
		}
		op.permits = append(op.permits, p)
	}
	for _, t := range reads {
		p, ok := op.lb.tryReadLock(t)
		if !ok {
			return false
		}
		op.permits = append(op.permits, p)
	}
	for _, t := range rangeReads {
		p, ok := op.lb.tryReadLock(t)
		if !ok {
			return false
		}
		op.permits = append(op.permits, p)
	}
	if op.State() == StatePreempted {
		return false
	}
	return true
}

// complete rewrites every Write in this operation's Limbo to carry
// version, transports them to the underlying durable side (group-synced
// at the end), releases locks, and notifies the parent.
func (op *AtomicOperation) complete(version Version) bool {
	if op.State() != StateFinalizing {
		return false
	}
	op.view.Limbo().transform(func(w Write) Write { return w.withVersion(version) })
	writes := op.view.Limbo().writes()
	for i, w := range writes {
		last := i == len(writes)-1
		if err := op.view.durable.accept(w, last); err != nil {
			op.releasePermits()
			op.state.Store(int32(StateAborted))
			return false
		}
	}
	op.releasePermits()
	op.source.onChildCommit(op)
	op.state.Store(int32(StateCommitted))
	atomicCommitsTotal.Inc()
	return true
}

// cancel is invoked when prepare() fails: unsubscribe, release any
// permits grabbed during acquireLocks, and mark ABORTED.
func (op *AtomicOperation) cancel() {
	if op.sub != nil {
		op.sub.unsubscribe()
	}
	op.releasePermits()
	op.state.Store(int32(StateAborted))
	atomicPreemptionsTotal.Inc()
}

func (op *AtomicOperation) releasePermits() {
	for _, p := range op.permits {
		p.Release()
	}
	op.permits = nil
}

// Commit runs prepare(); on success it assigns the next version and
// completes, otherwise it cancels and returns false (spec.md §7: "commit
// failures surface as a false return, never an exception").
func (op *AtomicOperation) Commit() bool {
	start := time.Now()
	defer func() { engineCommitDuration.Observe(time.Since(start).Seconds()) }()
	if !op.prepare() {
		op.cancel()
		return false
	}
	version := op.source.nextVersion()
	if !op.complete(version) {
		op.state.Store(int32(StateAborted))
		return false
	}
	return true
}

// Abort releases any held state without committing.
func (op *AtomicOperation) Abort() {
	if op.sub != nil {
		op.sub.unsubscribe()
	}
	op.releasePermits()
	op.state.Store(int32(StateAborted))
}

// --- AtomicSupport implementation, for nested AtomicOperations ---

func (op *AtomicOperation) viewFor(child *AtomicOperation, lb limbo) *BufferedStore {
	return newBufferedStore(lb, op.view)
}

func (op *AtomicOperation) announcer() *announcer { return op.source.announcer() }

// brokerFor hands nested operations a no-op broker: all locking defers to
// the root parent's commit (spec.md §4.7).
func (op *AtomicOperation) brokerFor(child *AtomicOperation) broker { return noOp() }

func (op *AtomicOperation) currentVersion() Version { return op.source.currentVersion() }
func (op *AtomicOperation) nextVersion() Version    { return op.source.nextVersion() }

// onChildCommit absorbs a nested operation's lock intentions into this
// (parent) operation, permitted only while the child is FINALIZING
// (spec.md §4.7 "absorb"). The child's writes are NOT re-inserted here:
// complete() already folded them into the parent's Limbo via
// op.view.durable.accept() (viewFor makes a nested child's durable side
// the parent's own *BufferedStore), so doing it again here would insert
// every nested-commit write twice.
func (op *AtomicOperation) onChildCommit(child *AtomicOperation) {
	op.mu.Lock()
	for k, t := range child.reads2Lock {
		op.reads2Lock[k] = t
	}
	for k, t := range child.rangeReads2Lock {
		op.rangeReads2Lock[k] = t
	}
	for k, t := range child.writes2Lock {
		op.writes2Lock[k] = t
	}
	for k := range child.exemptions {
		op.exemptions[k] = true
	}
	op.mu.Unlock()
	op.nested = append(op.nested, child)
}

// StartAtomicOperation starts a nested AtomicOperation whose commit
// absorbs into op instead of touching the durable side directly.
func (op *AtomicOperation) StartAtomicOperation() *AtomicOperation {
	return newAtomicOperation(op, newMemoryQueue())
}

var (
	atomicCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_atomicoperation_commits_total",
		Help: "Total AtomicOperation commits that completed successfully.",
	})
	atomicPreemptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_atomicoperation_preemptions_total",
		Help: "Total AtomicOperation cancellations due to preemption or failed lock acquisition.",
	})
)

func init() {
	prometheus.MustRegister(atomicCommitsTotal, atomicPreemptionsTotal)
}
