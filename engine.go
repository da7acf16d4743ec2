// Engine: the root BufferedStore (spec.md §4.9). Its Limbo is a disk-backed
// Buffer; its durable side is a Database. Beyond BufferedStore it owns the
// Inventory, guards reads against a concurrent Transporter drain via a
// read-biased transportLock, announces token version-change events to
// subscribed AtomicOperations, and replays pending transaction backups on
// startup before starting its Transporter — generalizing the teacher's
// db.go Open/Close lifecycle from one JSON-lines file to a Buffer+Database
// pair.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dbDirName         = "db"
	bufferSubdirName  = "buffer"
	metaSubdirName    = "meta"
	inventoryFileName = "inventory"
	metadataFileName  = "meta.json"

	defaultTransporterWorkers = 2
	defaultTwoPhaseReapTTL    = 5 * time.Minute
	defaultTwoPhaseReapPeriod = time.Minute
)

// Options configures Open. The zero value is a usable default.
type Options struct {
	TransporterWorkers int
	TwoPhaseReapTTL    time.Duration
}

// Engine is thread-safe and serves as the root store every AtomicOperation
// and Transaction ultimately reads and writes through (spec.md §4.9/§5).
type Engine struct {
	root      string
	bufferDir string
	dbDir     string

	buffer   *Buffer
	database *Database
	inv      *Inventory
	store    *BufferedStore // buffer (limbo) ⊕ database (durable)

	ann    *announcer
	broker *LockBroker

	transportLock sync.RWMutex
	transporter   *Transporter

	metaPath   string
	Allocator  *Allocator
	reaperStop chan struct{}

	version atomic.Uint64
	closed  atomic.Bool
}

// Open prepares <root>/buffer and <root>/db, loads the Inventory, opens the
// Buffer (replaying its page file) and the Database (reconciling block ids
// per spec.md §4.2), replays any pending transaction backups, and starts
// the background Transporter and the Allocator's abandoned-participant
// reaper.
func Open(root string, opts Options) (*Engine, error) {
	if opts.TransporterWorkers <= 0 {
		opts.TransporterWorkers = defaultTransporterWorkers
	}
	if opts.TwoPhaseReapTTL <= 0 {
		opts.TwoPhaseReapTTL = defaultTwoPhaseReapTTL
	}

	bufferDir := filepath.Join(root, bufferSubdirName)
	dbDir := filepath.Join(root, dbDirName)
	metaDir := filepath.Join(bufferDir, metaSubdirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: prepare meta dir: %w", err)
	}

	inv, err := loadInventory(filepath.Join(metaDir, inventoryFileName))
	if err != nil {
		return nil, fmt.Errorf("engine: load inventory: %w", err)
	}

	metaPath := filepath.Join(metaDir, metadataFileName)
	prior, err := readMetadata(metaPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read metadata: %w", err)
	}
	if prior.Dirty == 1 {
		log.Warn().Str("root", root).Msg("engine reopened with a dirty metadata flag: prior process did not close cleanly")
	}
	fresh := newMetadata(prior.HashAlgorithm)
	fresh.Dirty = 1
	if err := writeMetadata(metaPath, fresh); err != nil {
		return nil, fmt.Errorf("engine: write metadata: %w", err)
	}

	buf, err := openBuffer(bufferDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open buffer: %w", err)
	}

	db, err := openDatabase(dbDir, inv)
	if err != nil {
		buf.Close()
		return nil, fmt.Errorf("engine: open database: %w", err)
	}

	e := &Engine{
		root:      root,
		bufferDir: bufferDir,
		dbDir:     dbDir,
		buffer:    buf,
		database:  db,
		inv:       inv,
		ann:       newAnnouncer(),
		broker:    newLockBroker(),
		metaPath:  metaPath,
	}
	e.store = newBufferedStore(buf, db)
	e.Allocator = newAllocator(e, opts.TwoPhaseReapTTL)

	if err := replayTransactionBackups(e); err != nil {
		log.Error().Err(err).Msg("failed replaying transaction backups on startup")
	}

	e.transporter = newTransporter(opts.TransporterWorkers, e.transportOnce)
	e.transporter.Start()

	e.reaperStop = make(chan struct{})
	go e.Allocator.RunReaper(defaultTwoPhaseReapPeriod, e.reaperStop)

	return e, nil
}

// Close stops the Allocator's reaper and the Transporter, then releases the
// Buffer's page file and the Database's mmap handles. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.reaperStop)
	e.transporter.Stop()
	var firstErr error
	if err := e.buffer.Close(); err != nil {
		firstErr = err
	}
	if err := e.database.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := markDirty(e.metaPath, false); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// StartAtomicOperation opens a new root-level AtomicOperation against this
// Engine (spec.md §4.9).
func (e *Engine) StartAtomicOperation() *AtomicOperation {
	return newAtomicOperation(e, newMemoryQueue())
}

// StartTransaction opens a new root-level Transaction against this Engine.
func (e *Engine) StartTransaction() *Transaction {
	return newTransaction(e)
}

// StartTwoPhaseCommit registers a new distributed-commit participant under
// externalID via this Engine's Allocator (spec.md §4.10).
func (e *Engine) StartTwoPhaseCommit(externalID string) *TwoPhaseCommit {
	return e.Allocator.Start(externalID)
}

// Inventory exposes the Engine's Inventory handle for callers that need to
// enumerate or count known RIDs directly (e.g. maintenance tooling).
func (e *Engine) Inventory() *Inventory { return e.inv }

// --- AtomicSupport ---

func (e *Engine) viewFor(op *AtomicOperation, lb limbo) *BufferedStore {
	return newBufferedStore(lb, e)
}

func (e *Engine) announcer() *announcer { return e.ann }

func (e *Engine) brokerFor(op *AtomicOperation) broker { return e.broker }

// onChildCommit is a no-op at the root: the Engine has no parent to notify.
func (e *Engine) onChildCommit(child *AtomicOperation) {}

func (e *Engine) currentVersion() Version { return e.version.Load() }

func (e *Engine) nextVersion() Version { return e.version.Add(1) }

// --- dataStore: reads are guarded by transportLock.RLock so a concurrent
// Transporter drain can never run between the "consult durable" and
// "consult limbo" steps of a buffered read (spec.md §4.9).

func (e *Engine) Select(key Key, rid RID) ([]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Select(key, rid)
}

func (e *Engine) Chronologize(key Key, rid RID, ts Version) ([]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Chronologize(key, rid, ts)
}

func (e *Engine) Browse(key Key) (map[RID][]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Browse(key)
}

func (e *Engine) Explore(key Key, op Operator, operands []Value) (map[RID][]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Explore(key, op, operands)
}

func (e *Engine) Gather(keys []Key, rid RID, ts Version, historical bool) (map[Key][]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Gather(keys, rid, ts, historical)
}

func (e *Engine) Search(key Key, query string) (map[RID]bool, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Search(key, query)
}

func (e *Engine) Review(key Key, rid RID) ([]Value, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Review(key, rid)
}

func (e *Engine) Version(rid RID) (Version, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.Version(rid)
}

func (e *Engine) verify(key Key, val Value, rid RID) (bool, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.verify(key, val, rid)
}

func (e *Engine) verifyAt(key Key, val Value, rid RID, ts Version) (bool, error) {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.store.verifyAt(key, val, rid, ts)
}

// accept is the Engine's write path: every committed Write lands here,
// appended to the Buffer, recorded in Inventory, and announced to
// subscribed AtomicOperations as a set of version-change tokens (spec.md
// §4.9 "Announces version-change token events on writes").
func (e *Engine) accept(w Write, sync bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.store.accept(w, sync); err != nil {
		return err
	}
	if _, err := e.inv.Add(w.RID); err != nil {
		log.Error().Err(err).Uint64("rid", w.RID).Msg("failed persisting inventory add")
	}
	engineWritesTotal.Inc()
	bufferDepth.Set(float64(len(e.buffer.writes())))

	e.ann.announce(wrapKeyRID(w.Key, w.RID))
	e.ann.announce(wrapRID(w.RID))
	e.ann.announce(wrapKey(w.Key))
	e.ann.announce(rangeWriteToken(w.Key))
	return nil
}

// transportOnce is the Transporter's transportFunc: a non-blocking attempt
// at transportLock's write side, draining everything currently queued in
// the Buffer into the Database in one group-synced pass if acquired
// (spec.md §4.11).
func (e *Engine) transportOnce(_ context.Context) (bool, error) {
	if !e.transportLock.TryLock() {
		return false, nil
	}
	defer e.transportLock.Unlock()

	pending := e.buffer.writes()
	if len(pending) == 0 {
		return false, nil
	}

	start := time.Now()
	err := e.buffer.transport(e.database, true)
	engineBlockSyncDuration.Observe(time.Since(start).Seconds())
	bufferDepth.Set(0)
	if err != nil {
		return true, err
	}
	return true, nil
}
