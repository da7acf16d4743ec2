// Token: an immutable, hashable identifier used to key LockBroker permits
// and route version-change events (spec.md §3/§4.6). Point-token variants
// wrap(RID), wrap(key,RID), wrap(key), and a "wide" shareable(RID) variant
// exempt from causing its own holder's preemption (CON-669). Range tokens
// carry (key, operator, values) and can be asked whether they represent
// the same key as another range token for exemption purposes.
package engine

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

type tokenKind uint8

const (
	tokenRID tokenKind = iota
	tokenKeyRID
	tokenKey
	tokenShareableRID
	tokenRangeRead
	tokenRangeWrite
)

// Token is comparable (canonicalKey is a plain string), so it can be used
// directly as a map key by LockBroker and Announcer.
type Token struct {
	kind         tokenKind
	key          Key
	rid          RID
	op           Operator
	operandsHash uint64
	canonicalKey string
}

// wrapRID returns the point token for "the whole record rid" (a Primary
// read/write intention).
func wrapRID(rid RID) Token {
	return Token{kind: tokenRID, rid: rid, canonicalKey: fmt.Sprintf("R:%d", rid)}
}

// wrapKeyRID returns the point token for "field key of record rid".
func wrapKeyRID(key Key, rid RID) Token {
	return Token{kind: tokenKeyRID, key: key, rid: rid, canonicalKey: fmt.Sprintf("K:%s|%d", key, rid)}
}

// wrapKey returns the point token for "field key across all records" (a
// Secondary read/write intention).
func wrapKey(key Key) Token {
	return Token{kind: tokenKey, key: key, canonicalKey: fmt.Sprintf("S:%s", key)}
}

// shareableRID returns the "wide write" token for rid: it locks out wide
// reads of rid but is exempt from causing preemption of its own holder
// (CON-669); see atomicoperation.go exemptions.
func shareableRID(rid RID) Token {
	return Token{kind: tokenShareableRID, rid: rid, canonicalKey: fmt.Sprintf("W:%d", rid)}
}

// rangeReadToken / rangeWriteToken carry (key, operator, values) — used
// both for LockBroker range permits and for coarsening via valuerange.go.
func rangeReadToken(key Key, op Operator, operands []Value) Token {
	return Token{kind: tokenRangeRead, key: key, op: op, operandsHash: hashOperands(operands),
		canonicalKey: fmt.Sprintf("RR:%s|%d|%x", key, op, hashOperands(operands))}
}

func rangeWriteToken(key Key) Token {
	return Token{kind: tokenRangeWrite, key: key, canonicalKey: fmt.Sprintf("RW:%s", key)}
}

func hashOperands(operands []Value) uint64 {
	h := xxh3.New()
	for _, v := range operands {
		enc, _ := encodeValue(v)
		_, _ = h.Write(enc)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Key returns the comparable identity used by LockBroker's permit map and
// Announcer's subscriber map.
func (t Token) Key() string { return t.canonicalKey }

// IsRange reports whether t is a range token (its range-set lives under
// its plain key rather than being a single point).
func (t Token) IsRange() bool {
	return t.kind == tokenRangeRead || t.kind == tokenRangeWrite
}

// RangeKey returns the field key a range token coarsens over; only valid
// when IsRange() is true.
func (t Token) RangeKey() Key { return t.key }
