// Alternate hash algorithm option for composites/tokens. xxh3 is the
// default everywhere else in this package (blockindex.go, token.go);
// blake2b is offered as a slower, better-distributed alternative for
// callers embedding this engine who want a cryptographic-strength
// composite hash (e.g. cross-process token identifiers).
package engine

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm selects the hash used by HashComposite.
type HashAlgorithm uint8

const (
	HashXXH3 HashAlgorithm = iota
	HashBlake2b
)

// HashComposite hashes the null-byte-joined concatenation of parts, the
// same composite convention bloom.go and blockindex.go use, exposed here
// for callers that need a stable cross-process identifier rather than an
// in-process uint64 (blockindex.go's hashComposite is process-local and
// not exported).
func HashComposite(alg HashAlgorithm, parts ...[]byte) (string, error) {
	joined := make([]byte, 0, 64)
	for i, p := range parts {
		if i > 0 {
			joined = append(joined, 0)
		}
		joined = append(joined, p...)
	}
	switch alg {
	case HashXXH3:
		return fmt.Sprintf("%016x", hashComposite(parts...)), nil
	case HashBlake2b:
		h, err := blake2b.New(16, nil)
		if err != nil {
			return "", err
		}
		h.Write(joined)
		return fmt.Sprintf("%x", h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %d", alg)
	}
}
