// BlockIndex records, per contiguous group of identical locator (and per
// (locator,key)), the [start,end] byte offsets within a synced block's
// payload file — spec.md §3 invariant 4, §6 `.indx` encoding. Entries are
// looked up by a Composite hash over one or more Byteables (locator alone,
// or locator+key).
package engine

import (
	"io"

	"github.com/zeebo/xxh3"
)

// blockOffset is one contiguous [start,end) span of a synced block's
// payload file for a given composite key.
type blockOffset struct {
	start int64
	end   int64
}

// compositeHash is the lookup key: xxh3 over the composite bytes, matching
// the hashing strategy token.go uses for Token equality (one consistent
// hashing library across the engine rather than several bespoke ones).
type compositeHash = uint64

func hashComposite(parts ...[]byte) compositeHash {
	h := xxh3.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// BlockIndex maps composite(locator) and composite(locator,key) to their
// contiguous byte span in the owning block's `.blk` file.
type BlockIndex struct {
	byLocator    map[compositeHash]blockOffset
	byLocatorKey map[compositeHash]blockOffset
}

func newBlockIndex() *BlockIndex {
	return &BlockIndex{
		byLocator:    make(map[compositeHash]blockOffset),
		byLocatorKey: make(map[compositeHash]blockOffset),
	}
}

// recordLocator/recordLocatorKey extend (or create) the span for a
// composite key. Block.sync calls these once per contiguous run while
// serializing the sorted multiset, so spans always enclose exactly the
// contiguous revisions with that prefix (invariant 4).
func (bi *BlockIndex) recordLocator(locator []byte, start, end int64) {
	extendSpan(bi.byLocator, hashComposite(locator), start, end)
}
func (bi *BlockIndex) recordLocatorKey(locator, key []byte, start, end int64) {
	extendSpan(bi.byLocatorKey, hashComposite(locator, key), start, end)
}

func extendSpan(m map[compositeHash]blockOffset, h compositeHash, start, end int64) {
	if existing, ok := m[h]; ok {
		if start < existing.start {
			existing.start = start
		}
		if end > existing.end {
			existing.end = end
		}
		m[h] = existing
		return
	}
	m[h] = blockOffset{start: start, end: end}
}

// lookupLocator/lookupLocatorKey return the span and whether it exists.
func (bi *BlockIndex) lookupLocator(locator []byte) (blockOffset, bool) {
	o, ok := bi.byLocator[hashComposite(locator)]
	return o, ok
}
func (bi *BlockIndex) lookupLocatorKey(locator, key []byte) (blockOffset, bool) {
	o, ok := bi.byLocatorKey[hashComposite(locator, key)]
	return o, ok
}

// encode/decode implement the `.indx` file: a sequence of length-prefixed
// entries `[u32 size]{tag:u8,hash:u64,start:u32,end:u32}`, where hash is
// the xxh3 hash of the composite rather than the composite's bytes. Two
// entry streams are concatenated: all byLocator spans, then all
// byLocatorKey spans, the one-byte tag telling decode which map each entry
// belongs to.
const (
	indexEntryLocator    = 0
	indexEntryLocatorKey = 1
)

func (bi *BlockIndex) writeTo(w io.Writer) error {
	if err := writeIndexEntries(w, indexEntryLocator, bi.byLocator); err != nil {
		return err
	}
	return writeIndexEntries(w, indexEntryLocatorKey, bi.byLocatorKey)
}

func writeIndexEntries(w io.Writer, tag byte, m map[compositeHash]blockOffset) error {
	for h, span := range m {
		entry := make([]byte, 0, 1+8+4+4+8)
		entry = append(entry, tag)
		entry = appendU64(entry, h)
		entry = appendU32(entry, uint32(span.start))
		entry = appendU32(entry, uint32(span.end))
		if _, err := frame(w, entry); err != nil {
			return err
		}
	}
	return nil
}

func readBlockIndex(r io.Reader) (*BlockIndex, error) {
	bi := newBlockIndex()
	for {
		payload, err := readFrame(r)
		if err == io.EOF {
			return bi, nil
		}
		if err != nil {
			return nil, err
		}
		if len(payload) < 1+8+4+4 {
			return nil, ErrCorruptBlock
		}
		tag := payload[0]
		h := getU64(payload[1:])
		start := int64(getU32(payload[9:]))
		end := int64(getU32(payload[13:]))
		switch tag {
		case indexEntryLocator:
			bi.byLocator[h] = blockOffset{start, end}
		case indexEntryLocatorKey:
			bi.byLocatorKey[h] = blockOffset{start, end}
		default:
			return nil, ErrCorruptBlock
		}
	}
}
