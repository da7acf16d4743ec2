package engine

import "testing"

// tryWriteLock must fail outright rather than block when a reader already
// holds the token — prepare()/acquireLocks() depends on this to abandon a
// commit attempt immediately instead of stalling (spec.md §5).
func TestLockBrokerWriteExcludesReader(t *testing.T) {
	b := newLockBroker()
	tok := wrapRID(1)

	rp, ok := b.tryReadLock(tok)
	if !ok {
		t.Fatalf("first read lock must succeed")
	}
	if _, ok := b.tryWriteLock(tok); ok {
		t.Fatalf("write lock must fail while a reader holds the token")
	}
	rp.Release()
	wp, ok := b.tryWriteLock(tok)
	if !ok {
		t.Fatalf("write lock must succeed once the reader releases")
	}
	wp.Release()
}

func TestLockBrokerMultipleReadersAllowed(t *testing.T) {
	b := newLockBroker()
	tok := wrapKey("status")
	p1, ok1 := b.tryReadLock(tok)
	p2, ok2 := b.tryReadLock(tok)
	if !ok1 || !ok2 {
		t.Fatalf("two concurrent readers of the same token must both succeed")
	}
	p1.Release()
	p2.Release()
}

func TestLockBrokerWriteExcludesWriter(t *testing.T) {
	b := newLockBroker()
	tok := wrapRID(1)
	wp, ok := b.tryWriteLock(tok)
	if !ok {
		t.Fatalf("first writer must succeed")
	}
	if _, ok := b.tryWriteLock(tok); ok {
		t.Fatalf("a second writer must not acquire the same token")
	}
	wp.Release()
}

// Releasing the same Permit twice must be a safe no-op, since
// cancel()/releasePermits() may run after a partial acquireLocks() failure
// that already released some permits.
func TestPermitReleaseIsIdempotent(t *testing.T) {
	b := newLockBroker()
	tok := wrapRID(1)
	p, _ := b.tryWriteLock(tok)
	p.Release()
	p.Release() // must not panic or double-decrement
	if _, ok := b.tryWriteLock(tok); !ok {
		t.Fatalf("token must be free after release")
	}
}

// noOpBroker always grants every lock instantly: a nested AtomicOperation
// must never be blocked by its own parent's lock table (spec.md §4.7).
func TestNoOpBrokerAlwaysGrants(t *testing.T) {
	nb := noOp()
	if _, ok := nb.tryReadLock(wrapRID(1)); !ok {
		t.Fatalf("noOpBroker read lock must always succeed")
	}
	if _, ok := nb.tryWriteLock(wrapRID(1)); !ok {
		t.Fatalf("noOpBroker write lock must always succeed")
	}
}
