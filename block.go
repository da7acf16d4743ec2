// Block: sorted, immutable-on-sync, on-disk revision group (spec.md §3/§4.3).
// Mutable blocks hold an in-memory multiset in insertion order, guarded by
// a per-block RW lock (spec.md §5: "Inserts hold write; seeks/dump/getBytes
// hold read."); it is not kept sorted while mutable. sync() sorts the
// multiset and serializes it into the `.blk` payload file,
// builds the bloom filter and BlockIndex alongside it, fsyncs both, then
// discards the in-memory multiset. Once immutable, seek mmaps the exact
// [start,length) slice BlockIndex names rather than scanning the file —
// the teacher's repair.go pioneers the "serialize in sort order while
// tracking byte offsets" technique this adapts from a whole-file compactor
// into a per-block sync.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
)

// BlockID is a monotonically-assigned timestamp identifying a block; block
// ids reflect commit/sync order (spec.md §5).
type BlockID = int64

func newBlockID() BlockID { return time.Now().UnixNano() }

// Block is mutable until Sync(); immutable blocks cache their bloom/index
// and release the in-memory multiset for GC.
type Block struct {
	ID          BlockID
	Orientation Orientation
	dir         string

	mu        sync.RWMutex
	mutable   atomic.Bool
	revisions []revision // only valid while mutable

	bloom *compositeBloom
	index *BlockIndex

	// mapped holds the memory-mapped `.blk` payload once immutable; nil
	// until the first seek after Sync (lazily opened, closed by Close).
	mappedMu sync.Mutex
	mapped   mmap.MMap
	mappedF  *os.File
}

// newBlock creates a fresh mutable block rooted in dir.
func newBlock(dir string, orientation Orientation, id BlockID) *Block {
	b := &Block{ID: id, Orientation: orientation, dir: dir, bloom: newCompositeBloom(1024)}
	b.mutable.Store(true)
	return b
}

func (b *Block) paths() (blk, fltr, indx string) {
	base := filepath.Join(b.dir, fmt.Sprintf("%d", b.ID))
	return base + ".blk", base + ".fltr", base + ".indx"
}

// Insert requires a write lock, rejects if immutable, appends to the
// multiset, and records the revision's composites in the bloom filter
// (spec.md §4.3).
func (b *Block) Insert(r revision) error {
	if !b.mutable.Load() {
		return ErrBlockImmutable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mutable.Load() {
		return ErrBlockImmutable
	}
	b.revisions = append(b.revisions, r)
	b.bloom.addRevision(r)
	return nil
}

// Len reports the in-memory revision count while mutable; once synced the
// in-memory multiset is released and Len returns 0.
func (b *Block) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.revisions)
}

// Sync serializes all revisions in sort order into the blk file; records,
// per contiguous group of identical locator (and per (locator,key)), the
// [start,end] byte offsets in the BlockIndex; fsyncs bloom and index;
// flips mutable=false and releases the in-memory multiset.
func (b *Block) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mutable.Load() {
		return nil // already synced; idempotent
	}

	slices.SortFunc(b.revisions, compareRevisions)

	blkPath, fltrPath, indxPath := b.paths()
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}

	blkFile, err := os.Create(blkPath)
	if err != nil {
		return err
	}
	defer blkFile.Close()

	index := newBlockIndex()

	var off int64
	var groupLocator []byte
	var groupLocatorKey []byte
	var groupStart int64
	var groupKeyStart int64

	flushLocator := func(end int64) {
		if groupLocator != nil {
			index.recordLocator(groupLocator, groupStart, end)
		}
	}
	flushLocatorKey := func(end int64) {
		if groupLocatorKey != nil {
			index.recordLocatorKey(groupLocator, groupLocatorKey, groupKeyStart, end)
		}
	}

	for _, r := range b.revisions {
		recStart := off
		enc := r.encode()
		n, werr := frame(blkFile, enc)
		if werr != nil {
			return werr
		}
		off += int64(n)

		if groupLocator == nil || !bytes.Equal(groupLocator, r.Locator()) {
			flushLocator(recStart)
			flushLocatorKey(recStart)
			groupLocator = append([]byte(nil), r.Locator()...)
			groupStart = recStart
			groupLocatorKey = nil
		}
		if groupLocatorKey == nil || !bytes.Equal(groupLocatorKey, r.RevKey()) {
			flushLocatorKey(recStart)
			groupLocatorKey = append([]byte(nil), r.RevKey()...)
			groupKeyStart = recStart
		}
	}
	flushLocator(off)
	flushLocatorKey(off)

	if err := blkFile.Sync(); err != nil {
		return err
	}

	fltrFile, err := os.Create(fltrPath)
	if err != nil {
		return err
	}
	if _, err := b.bloom.writeTo(fltrFile); err != nil {
		fltrFile.Close()
		return err
	}
	if err := fltrFile.Sync(); err != nil {
		fltrFile.Close()
		return err
	}
	fltrFile.Close()

	indxFile, err := os.Create(indxPath)
	if err != nil {
		return err
	}
	if err := index.writeTo(indxFile); err != nil {
		indxFile.Close()
		return err
	}
	if err := indxFile.Sync(); err != nil {
		indxFile.Close()
		return err
	}
	indxFile.Close()

	b.index = index
	b.mutable.Store(false)
	b.revisions = nil // release for GC; immutable reads go through mmap+index
	return nil
}

// MightContain consults the bloom filter for (locator,key,value).
func (b *Block) MightContain(locator, key, value []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bloom.mightContainTriple(locator, key, value)
}

// Seek appends every revision matching (locator[,key]) to dst, in stored
// order. While mutable it iterates the unsorted in-memory multiset; once
// immutable it consults BlockIndex for the exact [start,length) span and
// decodes only that slice.
func (b *Block) Seek(locator []byte, key []byte, hasKey bool, dst *[]revision) error {
	if !b.bloom.mightContainLocatorOrKey(locator, key, hasKey) {
		return nil
	}

	b.mu.RLock()
	mutable := b.mutable.Load()
	if mutable {
		defer b.mu.RUnlock()
		for _, r := range b.revisions {
			if !bytes.Equal(r.Locator(), locator) {
				continue
			}
			if hasKey && !bytes.Equal(r.RevKey(), key) {
				continue
			}
			*dst = append(*dst, r)
		}
		return nil
	}
	b.mu.RUnlock()

	span, ok := b.lookupSpan(locator, key, hasKey)
	if !ok {
		return nil
	}
	return b.decodeSpan(span, dst)
}

func (b *Block) lookupSpan(locator, key []byte, hasKey bool) (blockOffset, bool) {
	if hasKey {
		return b.index.lookupLocatorKey(locator, key)
	}
	return b.index.lookupLocator(locator)
}

// decodeSpan memory-maps the block's payload file (once, cached) and
// decodes every frame within [start,end) into dst.
func (b *Block) decodeSpan(span blockOffset, dst *[]revision) error {
	m, err := b.ensureMapped()
	if err != nil {
		return err
	}
	if span.end > int64(len(m)) || span.start < 0 || span.start > span.end {
		return fmt.Errorf("%w: span out of range", ErrCorruptBlock)
	}
	slice := m[span.start:span.end]
	off := 0
	for off < len(slice) {
		if off+4 > len(slice) {
			return fmt.Errorf("%w: truncated span frame", ErrCorruptBlock)
		}
		n := int(getU32(slice[off:]))
		off += 4
		if off+n > len(slice) {
			return fmt.Errorf("%w: truncated span payload", ErrCorruptBlock)
		}
		rev, err := decodeRevision(b.Orientation, slice[off:off+n])
		if err != nil {
			return err
		}
		*dst = append(*dst, rev)
		off += n
	}
	return nil
}

func (b *Block) ensureMapped() (mmap.MMap, error) {
	b.mappedMu.Lock()
	defer b.mappedMu.Unlock()
	if b.mapped != nil {
		return b.mapped, nil
	}
	blkPath, _, _ := b.paths()
	f, err := os.Open(blkPath)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		// mmap of a zero-length file is an error on most platforms; an
		// empty block simply has nothing to decode.
		f.Close()
		b.mapped = mmap.MMap{}
		return b.mapped, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	b.mapped = m
	b.mappedF = f
	return b.mapped, nil
}

// Close releases the memory-mapped payload, if any.
func (b *Block) Close() error {
	b.mappedMu.Lock()
	defer b.mappedMu.Unlock()
	if b.mapped != nil && len(b.mapped) > 0 {
		if err := b.mapped.Unmap(); err != nil {
			return err
		}
	}
	if b.mappedF != nil {
		return b.mappedF.Close()
	}
	return nil
}

// loadBlock reopens a previously synced block from disk (startup path).
func loadBlock(dir string, orientation Orientation, id BlockID) (*Block, error) {
	b := &Block{ID: id, Orientation: orientation, dir: dir}
	_, fltrPath, indxPath := b.paths()

	fltrFile, err := os.Open(fltrPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open fltr: %v", ErrCorruptBlock, err)
	}
	defer fltrFile.Close()
	bloomFilter, err := readCompositeBloom(fltrFile)
	if err != nil {
		return nil, fmt.Errorf("%w: parse fltr: %v", ErrCorruptBlock, err)
	}

	indxFile, err := os.Open(indxPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open indx: %v", ErrCorruptBlock, err)
	}
	defer indxFile.Close()
	index, err := readBlockIndex(indxFile)
	if err != nil {
		return nil, fmt.Errorf("%w: parse indx: %v", ErrCorruptBlock, err)
	}

	b.bloom = bloomFilter
	b.index = index
	b.mutable.Store(false)
	return b, nil
}

// mightContainLocatorOrKey gates a Seek before paying for a lock lookup.
func (c *compositeBloom) mightContainLocatorOrKey(locator, key []byte, hasKey bool) bool {
	if hasKey {
		return c.mightContainLocatorKey(locator, key)
	}
	return c.mightContainLocator(locator)
}
