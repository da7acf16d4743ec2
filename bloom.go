// Block-level bloom filter: approximate membership over composites of
// (locator), (locator,key), and (locator,key,value). A negative answer is
// authoritative; a positive may be a false positive (spec.md §3 invariant
// 3, §8 "Bloom soundness"). The teacher's bloom.go hand-rolls FNV double
// hashing; this upgrades to a maintained library per the "never fall back
// to stdlib where the ecosystem shows a way" rule, reusing the same
// bits-and-blooms family erigon pulls in for its RID bitsets.
package engine

import (
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

// blockBloomFP is the target false-positive rate for a block's bloom
// filter. newBlock sizes every block's filter for a fixed 1024 composites,
// not from the block's actual revision count.
const blockBloomFP = 0.01

// compositeBloom wraps a bloom.BloomFilter keyed on composite byte
// strings built from Locator/Key/Value.
type compositeBloom struct {
	filter *bloom.BloomFilter
}

// newCompositeBloom sizes a filter for n expected composites (three
// composites are inserted per revision: locator, locator+key, and
// locator+key+value, so callers should pass 3*expectedRevisions).
func newCompositeBloom(n uint) *compositeBloom {
	if n == 0 {
		n = 1
	}
	return &compositeBloom{filter: bloom.NewWithEstimates(n, blockBloomFP)}
}

func (c *compositeBloom) addRevision(r revision) {
	c.filter.Add(r.Locator())
	c.filter.Add(compositeKey(r.Locator(), r.RevKey()))
	c.filter.Add(compositeKey(compositeKey(r.Locator(), r.RevKey()), r.sortValue()))
}

// mightContainLocator/mightContainLocatorKey/mightContainTriple are the
// three granularities a Block seek uses: seek(locator) gates on the
// first, seek(locator,key) on the second, verify on the third.
func (c *compositeBloom) mightContainLocator(locator []byte) bool {
	return c.filter.Test(locator)
}
func (c *compositeBloom) mightContainLocatorKey(locator, key []byte) bool {
	return c.filter.Test(compositeKey(locator, key))
}
func (c *compositeBloom) mightContainTriple(locator, key, value []byte) bool {
	return c.filter.Test(compositeKey(compositeKey(locator, key), value))
}

func compositeKey(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b)+1)
	out = append(out, a...)
	out = append(out, 0)
	out = append(out, b...)
	return out
}

// writeTo serializes the filter for the `.fltr` file (spec.md §6: "a
// serialized bloom filter over composites..." — the spec fixes the
// semantics, not an exact byte layout, so the library's own wire format
// is used directly).
func (c *compositeBloom) writeTo(w io.Writer) (int64, error) {
	return c.filter.WriteTo(w)
}

func readCompositeBloom(r io.Reader) (*compositeBloom, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(r); err != nil {
		return nil, err
	}
	return &compositeBloom{filter: f}, nil
}
