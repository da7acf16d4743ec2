// Compression for large string/blob Values. Unlike the teacher's inline
// history snapshots (which needed ascii85 to stay newline-safe inside a
// JSON-lines file), Values here are already framed as length-prefixed
// binary (codec.go), so compressed bytes can be stored directly — no
// ascii85 step is needed.
package engine

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold: string/blob Values at or above this size are
// zstd-compressed before being written into a Revision's encoded form.
const compressThreshold = 256

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressBytes(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompressBytes(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return out, nil
}
