package engine

import (
	"path/filepath"
	"testing"
)

// readMetadata on a missing file must hand back sane zero-value defaults
// rather than erroring — a brand-new root has no metadata file yet.
func TestReadMetadataMissingFileReturnsDefaults(t *testing.T) {
	m, err := readMetadata(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if m.Version != metadataVersion || m.Dirty != 0 {
		t.Fatalf("defaults = %+v", m)
	}
}

// encode/readMetadata must round-trip, and markDirty's fixed-offset patch
// must land exactly on the `_d` digit — if the struct's field order ever
// drifts from dirtyByteOffset's assumption, this is what would catch it.
func TestMetadataEncodeRoundTripAndMarkDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	m := newMetadata(HashBlake2b)
	if err := writeMetadata(path, m); err != nil {
		t.Fatalf("writeMetadata: %v", err)
	}

	got, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if got.HashAlgorithm != HashBlake2b || got.Dirty != 0 {
		t.Fatalf("round-tripped metadata = %+v", got)
	}

	if err := markDirty(path, true); err != nil {
		t.Fatalf("markDirty(true): %v", err)
	}
	got, err = readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata after markDirty: %v", err)
	}
	if got.Dirty != 1 {
		t.Fatalf("Dirty = %d after markDirty(true), want 1", got.Dirty)
	}

	if err := markDirty(path, false); err != nil {
		t.Fatalf("markDirty(false): %v", err)
	}
	got, err = readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata after clean markDirty: %v", err)
	}
	if got.Dirty != 0 {
		t.Fatalf("Dirty = %d after markDirty(false), want 0", got.Dirty)
	}
}

// A clean Engine.Close() must leave the metadata file's dirty flag clear,
// so the next Open sees a clean prior shutdown and does not warn; while
// still open, the flag must read dirty, since that is exactly the window
// a crash would be detected in.
func TestEngineCloseClearsMetadataDirtyFlag(t *testing.T) {
	root := t.TempDir()
	eng, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := eng.metaPath

	got, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata while open: %v", err)
	}
	if got.Dirty != 1 {
		t.Fatalf("Dirty while engine is open = %d, want 1", got.Dirty)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err = readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata after close: %v", err)
	}
	if got.Dirty != 0 {
		t.Fatalf("Dirty after a clean Close = %d, want 0", got.Dirty)
	}
}
