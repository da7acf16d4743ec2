// Buffer: the Engine's disk-backed Limbo (spec.md §4.9/§6). In-memory
// behavior (insert/scan/verify/acceleration) is delegated to a
// memoryQueue; Buffer additionally appends every insert as a length-
// prefixed frame to an on-disk page file and fsyncs it when the caller's
// sync flag is set, adapted from the teacher's write.go tail-offset-
// tracking append discipline.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const bufferPageName = "page.log"

// Buffer is a paged, fsyncable Limbo. "Paged" here means a single
// append-only page file per Buffer instance; Buffer.transport truncates it
// once the in-memory queue has been drained into the Database.
type Buffer struct {
	*memoryQueue

	dir     string
	fileMu  sync.Mutex
	file    *os.File
	tailOff int64
}

func openBuffer(dir string) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, bufferPageName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	b := &Buffer{memoryQueue: newMemoryQueue(), dir: dir, file: f}
	if err := b.replay(); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	b.tailOff = info.Size()
	return b, nil
}

// replay reconstructs the in-memory queue from the page file, for
// restart after a crash or clean shutdown.
func (b *Buffer) replay() error {
	if _, err := b.file.Seek(0, 0); err != nil {
		return err
	}
	for {
		payload, err := readFrame(b.file)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: replay buffer: %v", ErrCorruptBlock, err)
		}
		w, werr := decodeWrite(payload)
		if werr != nil {
			return werr
		}
		if ierr := b.memoryQueue.insert(w, false); ierr != nil {
			return ierr
		}
	}
	return nil
}

// insert appends w to the in-memory queue and, durably, to the page
// file; sync fsyncs the page file before returning (spec.md §4.1
// "the sync flag is advisory... the Engine's Buffer honors it").
func (b *Buffer) insert(w Write, sync bool) error {
	if err := b.memoryQueue.insert(w, sync); err != nil {
		return err
	}
	b.fileMu.Lock()
	defer b.fileMu.Unlock()
	enc := encodeWrite(w)
	n, err := frame(b.file, enc)
	if err != nil {
		return err
	}
	b.tailOff += int64(n)
	if sync {
		return b.file.Sync()
	}
	return nil
}

// transport drains the in-memory queue into dst, then truncates the page
// file since everything it recorded has now reached the durable side.
func (b *Buffer) transport(dst acceptor, sync bool) error {
	if err := b.memoryQueue.transport(dst, sync); err != nil {
		return err
	}
	b.fileMu.Lock()
	defer b.fileMu.Unlock()
	if err := b.file.Truncate(0); err != nil {
		return err
	}
	if _, err := b.file.Seek(0, 0); err != nil {
		return err
	}
	b.tailOff = 0
	return nil
}

func (b *Buffer) Close() error {
	b.fileMu.Lock()
	defer b.fileMu.Unlock()
	return b.file.Close()
}

// encodeWrite/decodeWrite serialize a Write the same way a Revision's
// columns are laid out: action, version, RID, key, value.
func encodeWrite(w Write) []byte {
	buf := make([]byte, 0, 32+len(w.Key))
	buf = append(buf, byte(w.Act))
	buf = appendU64(buf, w.Ver)
	buf = appendU64(buf, w.RID)
	buf = appendVarBytes(buf, []byte(w.Key))
	val, _ := encodeValue(w.Val)
	buf = append(buf, val...)
	return buf
}

func decodeWrite(buf []byte) (Write, error) {
	if len(buf) < 1+8+8 {
		return Write{}, fmt.Errorf("%w: short write record", ErrCorruptBlock)
	}
	act := Action(buf[0])
	off := 1
	ver := getU64(buf[off:])
	off += 8
	rid := getU64(buf[off:])
	off += 8
	key, off, err := readVarBytes(buf, off)
	if err != nil {
		return Write{}, err
	}
	val, err := decodeValue(buf[off:])
	if err != nil {
		return Write{}, err
	}
	return Write{Key: string(key), Val: val, RID: rid, Ver: ver, Act: act}, nil
}
