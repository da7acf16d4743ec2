package engine

import (
	"path/filepath"
	"testing"
)

// Add must persist across restarts: if the snapshot file were only
// written lazily or skipped, a record written just before a crash would
// come back as "doesn't exist" per Database.verify's Inventory gate.
func TestInventoryPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory")
	inv, err := loadInventory(path)
	if err != nil {
		t.Fatalf("loadInventory: %v", err)
	}
	for _, rid := range []RID{1, 2, 3} {
		added, aerr := inv.Add(rid)
		if aerr != nil {
			t.Fatalf("Add(%d): %v", rid, aerr)
		}
		if !added {
			t.Fatalf("Add(%d) should report newly-added", rid)
		}
	}

	reloaded, err := loadInventory(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, rid := range []RID{1, 2, 3} {
		if !reloaded.Contains(rid) {
			t.Fatalf("reloaded inventory must contain %d", rid)
		}
	}
	if reloaded.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", reloaded.Count())
	}
}

func TestInventoryAddIsIdempotent(t *testing.T) {
	inv := newInventory(filepath.Join(t.TempDir(), "inventory"))
	added, err := inv.Add(5)
	if err != nil || !added {
		t.Fatalf("first Add(5): added=%v err=%v", added, err)
	}
	added, err = inv.Add(5)
	if err != nil {
		t.Fatalf("second Add(5): %v", err)
	}
	if added {
		t.Fatalf("second Add(5) must report false (already present)")
	}
	if inv.Generation() != 1 {
		t.Fatalf("Generation() = %d, want 1 (only one real add happened)", inv.Generation())
	}
}

func TestInventoryEachIteratesAscending(t *testing.T) {
	inv := newInventory(filepath.Join(t.TempDir(), "inventory"))
	for _, rid := range []RID{5, 1, 3} {
		if _, err := inv.Add(rid); err != nil {
			t.Fatalf("Add(%d): %v", rid, err)
		}
	}
	var seen []RID
	inv.Each(func(rid RID) { seen = append(seen, rid) })
	want := []RID{1, 3, 5}
	if len(seen) != len(want) {
		t.Fatalf("Each yielded %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Each yielded %v, want %v (ascending order)", seen, want)
		}
	}
}
