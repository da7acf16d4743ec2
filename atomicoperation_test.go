package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Point tokens are delivered synchronously by the announcer: a read
// intention that is still held when a matching token arrives must flip the
// operation straight to PREEMPTED, without waiting for prepare() to notice.
func TestOnVersionChangeWithoutExemptionPreempts(t *testing.T) {
	eng := openTestEngine(t)
	op := eng.StartAtomicOperation()

	tok := wrapKeyRID("status", 42)
	op.reads2Lock[tok.Key()] = tok

	op.onVersionChange(tok)

	require.Equal(t, StatePreempted, op.State())
}

// CON-669: a wide write token (shareableRID) is recorded as an exemption
// for its own holder — if the exact same token were ever re-delivered to
// the operation that already holds it as a write intention, it must not
// self-preempt.
func TestOnVersionChangeExemptionPreventsSelfPreemption(t *testing.T) {
	eng := openTestEngine(t)
	op := eng.StartAtomicOperation()

	tok := shareableRID(42)
	op.writes2Lock[tok.Key()] = tok
	op.exemptions[tok.Key()] = true

	op.onVersionChange(tok)

	require.Equal(t, StateOpen, op.State(), "exempt token must not preempt its own holder")
}

// Range tokens are queued, never delivered synchronously: onVersionChange
// must return immediately for them and leave state untouched until a
// caller explicitly drains the queue via Status().
func TestOnVersionChangeIgnoresRangeTokensSynchronously(t *testing.T) {
	eng := openTestEngine(t)
	op := eng.StartAtomicOperation()

	tok := rangeWriteToken("score")
	op.rangeReads2Lock[tok.Key()] = rangeReadToken("score", OpGreaterThan, []Value{NewInt64(10)})

	op.onVersionChange(tok)

	require.Equal(t, StateOpen, op.State(), "range tokens must only preempt via Status()'s drain")
}

// Abort must move an open operation straight to ABORTED and release any
// permits it had acquired, regardless of whether it had ever reached
// PENDING/FINALIZING.
func TestAbortTransitionsFromOpen(t *testing.T) {
	eng := openTestEngine(t)
	op := eng.StartAtomicOperation()
	require.NoError(t, op.Add("k", NewInt64(1), 1))

	op.Abort()

	require.Equal(t, StateAborted, op.State())
	require.False(t, op.Commit(), "an aborted operation must never be able to commit")
}

// A child spawned from an open parent runs under the no-op broker, so its
// lock requests are always granted; its Commit() absorbs into the parent,
// and the parent then commits normally.
func TestNestedOperationGrantsLocksViaNoOpBroker(t *testing.T) {
	eng := openTestEngine(t)
	parent := eng.StartAtomicOperation()
	child := parent.StartAtomicOperation()

	_, ok := child.brokerFor(child).tryWriteLock(wrapRID(1))
	require.True(t, ok, "a nested operation's broker must always grant locks")

	require.NoError(t, child.Add("x", NewInt64(1), 1))
	require.True(t, child.Commit(), "child commit must succeed independent of the parent's eventual fate")
	require.True(t, parent.Commit())
}
