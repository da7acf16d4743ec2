// Root metadata file: a small fixed-size JSON header recording the
// on-disk format version, the dirty/clean crash flag, and which
// HashAlgorithm composites were written with, generalized from the
// teacher's header.go (whose Header was embedded in the database file
// itself) to a standalone sidecar, since this engine's root has no single
// file for a header to live inside of.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// metadataSize is the fixed, space-padded, newline-terminated size of the
// metadata file, mirroring the teacher's fixed HeaderSize discipline so a
// partial write is always detectable (TrimSpace+Unmarshal fails loudly on
// a truncated tail rather than silently parsing a prefix).
const metadataSize = 128

const metadataVersion = 1

// metadata is written on Open and rewritten clean on Close; if Open finds
// it still marked dirty, the prior process never reached a clean Close
// (crash or kill -9) — transaction replay already makes this safe, so
// Open only logs a warning rather than refusing to start.
type metadata struct {
	Version       int           `json:"_v"`
	Dirty         int           `json:"_d"`
	HashAlgorithm HashAlgorithm `json:"_alg"`
	Timestamp     int64         `json:"_ts"`
}

// dirtyByteOffset is the byte offset of the `_d` field's value digit
// within the encoded JSON produced by encode() below — field order in the
// metadata struct must not change without updating this offset, the same
// brittle-but-fast fixed-offset patch the teacher's header.go dirty()
// relies on.
const dirtyByteOffset = len(`{"_v":1,"_d":`)

func readMetadata(path string) (*metadata, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &metadata{Version: metadataVersion, HashAlgorithm: HashXXH3}, nil
	}
	if err != nil {
		return nil, err
	}
	var m metadata
	if err := json.Unmarshal(bytes.TrimSpace(buf), &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptBlock, err)
	}
	return &m, nil
}

func (m *metadata) encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	padLen := metadataSize - len(data) - 1
	if padLen < 0 {
		return nil, fmt.Errorf("%w: metadata exceeds fixed size", ErrCorruptBlock)
	}
	buf := make([]byte, metadataSize)
	copy(buf, data)
	for i := len(data); i < metadataSize-1; i++ {
		buf[i] = ' '
	}
	buf[metadataSize-1] = '\n'
	return buf, nil
}

func writeMetadata(path string, m *metadata) error {
	buf, err := m.encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

// markDirty patches only the `_d` digit in place, matching the teacher's
// fixed-offset dirty() rather than rewriting+syncing the whole file on
// every open/close.
func markDirty(path string, dirty bool) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b := byte('0')
	if dirty {
		b = '1'
	}
	if _, err := f.WriteAt([]byte{b}, int64(dirtyByteOffset)); err != nil {
		return err
	}
	return f.Sync()
}

func newMetadata(alg HashAlgorithm) *metadata {
	return &metadata{Version: metadataVersion, HashAlgorithm: alg, Timestamp: time.Now().UnixMilli()}
}
