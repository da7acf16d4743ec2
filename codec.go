// Byteable primitives: fixed and variable-length binary encoding shared by
// locators, keys, values, positions, and tokens. Generalizes the teacher's
// newline-delimited JSON-lines framing (write.go/read.go) into the
// length-prefixed binary framing spec.md §6 requires for block files.
package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// putU32/getU32 write/read a 4-byte big-endian length prefix, matching the
// `[u32 size]` framing used throughout §6 (block payload, index entries).
func putU32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func getU32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }

func putU64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
func getU64(buf []byte) uint64    { return binary.BigEndian.Uint64(buf) }

// appendU32 appends v as a 4-byte big-endian integer.
func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	putU32(b[:], v)
	return append(dst, b[:]...)
}

// appendU64 appends v as an 8-byte big-endian integer.
func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	putU64(b[:], v)
	return append(dst, b[:]...)
}

// appendVarBytes appends a u32 length prefix followed by the bytes — the
// generic "variable" Byteable framing used for locators/keys that aren't
// fixed-width (spec.md §6 `locatorSize:u32?` / `keySize:u32?`).
func appendVarBytes(dst []byte, b []byte) []byte {
	dst = appendU32(dst, uint32(len(b)))
	return append(dst, b...)
}

// readVarBytes reads a u32-length-prefixed byte slice starting at off,
// returning the slice and the offset immediately after it.
func readVarBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	n := int(getU32(buf[off:]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return buf[off : off+n], off + n, nil
}

// frame writes one `[u32 size][payload]` record, the Block payload
// (`.blk`) framing specified in spec.md §6.
func frame(w io.Writer, payload []byte) (int, error) {
	var hdr [4]byte
	putU32(hdr[:], uint32(len(payload)))
	n1, err := w.Write(hdr[:])
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(payload)
	return n1 + n2, err
}

// readFrame reads one `[u32 size][payload]` record from r. Returns io.EOF
// when no more frames remain (clean end of file at a frame boundary).
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame header", ErrCorruptBlock)
		}
		return nil, err
	}
	n := getU32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated frame payload: %v", ErrCorruptBlock, err)
	}
	return payload, nil
}

// encodeCompressible writes a one-byte flag (1=zstd-compressed,
// 0=verbatim) followed by the var-length payload. String/Tag/Blob values
// at or above compressThreshold are compressed (compress.go); below it,
// compression overhead isn't worth paying.
func encodeCompressible(raw []byte) []byte {
	if len(raw) >= compressThreshold {
		return append([]byte{1}, appendVarBytes(nil, compressBytes(raw))...)
	}
	return append([]byte{0}, appendVarBytes(nil, raw)...)
}

func decodeCompressible(buf []byte, off int) ([]byte, int, error) {
	if off >= len(buf) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	compressed := buf[off] == 1
	off++
	raw, next, err := readVarBytes(buf, off)
	if err != nil {
		return nil, 0, err
	}
	if !compressed {
		return raw, next, nil
	}
	out, derr := decompressBytes(raw)
	if derr != nil {
		return nil, 0, derr
	}
	return out, next, nil
}

// encodeValue serializes a Value to its tagged-union binary form: one kind
// byte followed by a kind-specific payload. Infinite sentinels never reach
// disk — they exist only inside in-memory range tokens.
func encodeValue(v Value) ([]byte, error) {
	if v.IsInfinite() {
		return nil, fmt.Errorf("cannot encode infinite value sentinel")
	}
	buf := []byte{byte(v.kind)}
	switch v.kind {
	case KindBoolean:
		b := byte(0)
		if v.b {
			b = 1
		}
		buf = append(buf, b)
	case KindInt64, KindTimestamp:
		buf = appendU64(buf, uint64(v.i))
	case KindFloat64:
		buf = appendU64(buf, math.Float64bits(v.f))
	case KindString, KindTag:
		buf = append(buf, encodeCompressible([]byte(v.s))...)
	case KindLink:
		buf = appendU64(buf, v.link)
	case KindBlob:
		buf = append(buf, encodeCompressible(v.blob)...)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
	return buf, nil
}

// decodeValue is the inverse of encodeValue.
func decodeValue(buf []byte) (Value, error) {
	if len(buf) < 1 {
		return Value{}, io.ErrUnexpectedEOF
	}
	kind := ValueKind(buf[0])
	rest := buf[1:]
	switch kind {
	case KindBoolean:
		if len(rest) < 1 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return NewBoolean(rest[0] != 0), nil
	case KindInt64:
		if len(rest) < 8 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return NewInt64(int64(getU64(rest))), nil
	case KindTimestamp:
		if len(rest) < 8 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return NewTimestamp(int64(getU64(rest))), nil
	case KindFloat64:
		if len(rest) < 8 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return NewFloat64(math.Float64frombits(getU64(rest))), nil
	case KindString:
		s, _, err := decodeCompressible(rest, 0)
		if err != nil {
			return Value{}, err
		}
		return NewString(string(s)), nil
	case KindTag:
		s, _, err := decodeCompressible(rest, 0)
		if err != nil {
			return Value{}, err
		}
		return NewTag(string(s)), nil
	case KindLink:
		if len(rest) < 8 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return NewLink(getU64(rest)), nil
	case KindBlob:
		b, _, err := decodeCompressible(rest, 0)
		if err != nil {
			return Value{}, err
		}
		return NewBlob(b), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}
