// Transaction: an AtomicOperation whose Limbo is a ToggleQueue, backed by
// a write-ahead backup file under buffer/txn/ so a crash between commit
// and durable apply can be replayed exactly once (spec.md §4.8/§6).
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const txnDirName = "txn"

var txnSeq atomic.Uint64

func newTransactionID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), txnSeq.Add(1))
}

// Transaction wraps an AtomicOperation, overriding complete() to write
// and fsync a backup file before applying, then delete it after.
type Transaction struct {
	*AtomicOperation
	id     string
	txnDir string
}

func newTransaction(engine *Engine) *Transaction {
	op := newAtomicOperation(engine, newToggleQueue())
	txn := &Transaction{AtomicOperation: op, id: newTransactionID(), txnDir: filepath.Join(engine.bufferDir, txnDirName)}
	return txn
}

func (t *Transaction) backupPath() string {
	return filepath.Join(t.txnDir, t.id+".txn")
}

// encodeBackup lays out the transaction backup file exactly per spec.md
// §6: `[u32 locksByteLength][locks...][writes...]`. "locks" records each
// lock intention's canonical Token key (sufficient to describe the lock
// set without re-deriving it on replay, since replay only needs the
// writes — lock intentions are re-accumulated live if the writes are
// re-run through a fresh operation); "writes" is every queued Write.
func (t *Transaction) encodeBackup() []byte {
	t.mu.Lock()
	var lockKeys []string
	for k := range t.writes2Lock {
		lockKeys = append(lockKeys, k)
	}
	for k := range t.reads2Lock {
		lockKeys = append(lockKeys, k)
	}
	for k := range t.rangeReads2Lock {
		lockKeys = append(lockKeys, k)
	}
	t.mu.Unlock()

	var locksBuf []byte
	for _, k := range lockKeys {
		locksBuf = appendVarBytes(locksBuf, []byte(k))
	}

	var writesBuf []byte
	for _, w := range t.view.Limbo().writes() {
		enc := encodeWrite(w)
		writesBuf = appendVarBytes(writesBuf, enc)
	}

	out := appendU32(nil, uint32(len(locksBuf)))
	out = append(out, locksBuf...)
	out = append(out, writesBuf...)
	return out
}

func decodeBackupWrites(buf []byte) ([]Write, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: short transaction backup", ErrCorruptBackup)
	}
	locksLen := int(getU32(buf))
	off := 4 + locksLen
	if off > len(buf) {
		return nil, fmt.Errorf("%w: transaction backup locks overrun", ErrCorruptBackup)
	}
	var writes []Write
	for off < len(buf) {
		enc, next, err := readVarBytes(buf, off)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
		}
		w, werr := decodeWrite(enc)
		if werr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBackup, werr)
		}
		writes = append(writes, w)
		off = next
	}
	return writes, nil
}

// Commit backs the transaction up to disk before applying, and removes
// the backup once applied — the crash window this protects against is
// covered by replayTransactionBackups on the next Engine startup. The
// commit version is assigned and stamped onto every queued Write before
// the backup is serialized, so a replay always sees properly versioned
// writes rather than NoVersion placeholders.
func (t *Transaction) Commit() bool {
	start := time.Now()
	defer func() { engineCommitDuration.Observe(time.Since(start).Seconds()) }()
	if !t.prepare() {
		t.cancel()
		return false
	}

	version := t.source.nextVersion()
	t.view.Limbo().transform(func(w Write) Write { return w.withVersion(version) })

	if err := os.MkdirAll(t.txnDir, 0o755); err != nil {
		t.state.Store(int32(StateAborted))
		return false
	}
	backup := t.encodeBackup()
	path := t.backupPath()
	if err := os.WriteFile(path, backup, 0o644); err != nil {
		t.state.Store(int32(StateAborted))
		return false
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}

	if !t.complete(version) {
		t.state.Store(int32(StateAborted))
		return false
	}
	_ = os.Remove(path)
	return true
}

// replayTransactionBackups is invoked on Engine startup: every file under
// buffer/txn/ is replayed with sync-and-verify (each write is accepted
// directly into the Buffer); corrupt files are reported and deleted
// rather than halting startup (spec.md §4.8).
func replayTransactionBackups(engine *Engine) error {
	dir := filepath.Join(engine.bufferDir, txnDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			log.Error().Err(rerr).Str("file", path).Msg("failed reading transaction backup")
			_ = os.Remove(path)
			continue
		}
		writes, derr := decodeBackupWrites(data)
		if derr != nil {
			log.Warn().Err(derr).Str("file", path).Msg("corrupt transaction backup, discarding")
			_ = os.Remove(path)
			continue
		}
		for _, w := range writes {
			if verr := engine.buffer.insert(w, true); verr != nil {
				log.Error().Err(verr).Str("file", path).Msg("failed replaying transaction backup write")
			}
		}
		_ = os.Remove(path)
	}
	return nil
}
