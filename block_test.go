package engine

import (
	"fmt"
	"testing"
)

func primaryRevisionFor(rid RID, i int) PrimaryRevision {
	return PrimaryRevision{RID: rid, Key: fmt.Sprintf("field%d", i%7), Val: NewInt64(int64(i)), Ver: Version(i + 1), Act: ActionAdd}
}

// Insert must reject writes once Sync has flipped the block immutable —
// the in-memory multiset is discarded at that point (spec.md §4.3), so an
// Insert slipping through afterward would silently vanish rather than
// ever reaching the .blk payload.
func TestBlockInsertRejectedAfterSync(t *testing.T) {
	dir := t.TempDir()
	b := newBlock(dir, OrientationPrimary, newBlockID())
	if err := b.Insert(primaryRevisionFor(1, 0)); err != nil {
		t.Fatalf("Insert before sync: %v", err)
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := b.Insert(primaryRevisionFor(2, 0)); err != ErrBlockImmutable {
		t.Fatalf("Insert after sync = %v, want ErrBlockImmutable", err)
	}
}

// Sync is documented idempotent: calling it twice must not re-serialize or
// error, since Database.triggerSync and a defensive caller retry must both
// be safe.
func TestBlockSyncIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	b := newBlock(dir, OrientationPrimary, newBlockID())
	_ = b.Insert(primaryRevisionFor(1, 0))
	if err := b.Sync(); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("second Sync must be a no-op, got: %v", err)
	}
}

// The bloom filter's negative answer is authoritative (spec.md §4.3): a
// locator/key/value triple that was never inserted must never report
// MightContain=true often enough to break Seek's short-circuit, and one
// that WAS inserted must always report true (no false negatives).
func TestBlockBloomNoFalseNegatives(t *testing.T) {
	dir := t.TempDir()
	b := newBlock(dir, OrientationPrimary, newBlockID())
	const n = 500
	for i := 0; i < n; i++ {
		rev := primaryRevisionFor(RID(i), i)
		if err := b.Insert(rev); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	for i := 0; i < n; i++ {
		rev := primaryRevisionFor(RID(i), i)
		valBytes, _ := encodeValue(rev.Val)
		if !b.MightContain(rev.Locator(), rev.RevKey(), valBytes) {
			t.Fatalf("MightContain false negative for inserted revision %d", i)
		}
	}
}

// The BlockIndex offset-span invariant: after Sync, Seek over a mmap'd
// immutable block must return exactly the same revisions (same count, same
// (key,value) pairs) that a pre-sync scan of the mutable multiset would
// have returned for the same locator.
func TestBlockSeekEquivalentBeforeAndAfterSync(t *testing.T) {
	dir := t.TempDir()
	b := newBlock(dir, OrientationPrimary, newBlockID())
	const perRID = 5
	const rids = 20
	for rid := 0; rid < rids; rid++ {
		for i := 0; i < perRID; i++ {
			rev := PrimaryRevision{RID: RID(rid), Key: fmt.Sprintf("k%d", i), Val: NewInt64(int64(rid*100 + i)), Ver: Version(i + 1), Act: ActionAdd}
			if err := b.Insert(rev); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
	}

	target := RID(7)
	var locator [8]byte
	putU64(locator[:], target)

	var before []revision
	if err := b.Seek(locator[:], nil, false, &before); err != nil {
		t.Fatalf("pre-sync Seek: %v", err)
	}
	if len(before) != perRID {
		t.Fatalf("pre-sync Seek returned %d revisions, want %d", len(before), perRID)
	}

	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var after []revision
	if err := b.Seek(locator[:], nil, false, &after); err != nil {
		t.Fatalf("post-sync Seek: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("post-sync Seek returned %d revisions, want %d (pre-sync count)", len(after), len(before))
	}

	seenBefore := make(map[string]bool, len(before))
	for _, r := range before {
		seenBefore[string(r.RevKey())+"|"+string(r.sortValue())] = true
	}
	for _, r := range after {
		k := string(r.RevKey()) + "|" + string(r.sortValue())
		if !seenBefore[k] {
			t.Fatalf("post-sync Seek produced a revision absent from the pre-sync view: key=%s", r.RevKey())
		}
	}

	b.Close()
}

// loadBlock reopens a previously-synced block from just its .fltr/.indx
// sidecar files (as Database.openDatabase does on restart) and must be
// able to Seek it identically to the original in-process Block.
func TestBlockReloadAfterRestart(t *testing.T) {
	dir := t.TempDir()
	id := newBlockID()
	b := newBlock(dir, OrientationPrimary, id)
	for i := 0; i < 50; i++ {
		if err := b.Insert(primaryRevisionFor(RID(i), i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	b.Close()

	reloaded, err := loadBlock(dir, OrientationPrimary, id)
	if err != nil {
		t.Fatalf("loadBlock: %v", err)
	}
	defer reloaded.Close()

	var locator [8]byte
	putU64(locator[:], 7)
	var got []revision
	if err := reloaded.Seek(locator[:], nil, false, &got); err != nil {
		t.Fatalf("Seek on reloaded block: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Seek on reloaded block returned %d revisions, want 1", len(got))
	}
}

// A Seek for a locator that was never inserted must short-circuit via the
// bloom filter to "no revisions" rather than error or scan needlessly.
func TestBlockSeekMissingLocatorReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	b := newBlock(dir, OrientationPrimary, newBlockID())
	_ = b.Insert(primaryRevisionFor(1, 0))
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	defer b.Close()

	var locator [8]byte
	putU64(locator[:], 999)
	var got []revision
	if err := b.Seek(locator[:], nil, false, &got); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no revisions for an absent locator, got %d", len(got))
	}
}
