// Database: the durable store — three parallel block lists (primary,
// secondary, search), each rooted in its own directory (spec.md §4.2/§6).
// Generalizes the teacher's single `db.go` file (one JSON-lines file with
// a binary-search sorted index section) into three independently synced,
// independently seekable block chains sharing one block-id clock.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	primaryDirName   = "cpb"
	secondaryDirName = "csb"
	searchDirName    = "ctb"

	recordCacheSize = 4096
)

// Database is a PermanentStore: three parallel block chains plus the
// Inventory, and bounded LRU Record caches keyed by locator (partial
// caches additionally keyed by key).
type Database struct {
	root string
	inv  *Inventory

	mu         sync.Mutex // guards block list mutation and current-block swap during sync
	primary    []*Block
	secondary  []*Block
	search     []*Block
	curPrimary *Block
	curSecondary *Block
	curSearch  *Block

	primaryCache   *lru.Cache[string, *Record]
	secondaryCache *lru.Cache[string, *Record]
}

func dirs(root string) (primary, secondary, search string) {
	return filepath.Join(root, primaryDirName),
		filepath.Join(root, secondaryDirName),
		filepath.Join(root, searchDirName)
}

// openDatabase reconciles block IDs found on disk against the
// both-primary-and-secondary rule and loads surviving blocks.
func openDatabase(root string, inv *Inventory) (*Database, error) {
	primaryDir, secondaryDir, searchDir := dirs(root)
	for _, d := range []string{primaryDir, secondaryDir, searchDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	primaryIDs, err := blockIDsIn(primaryDir)
	if err != nil {
		return nil, err
	}
	secondaryIDs, err := blockIDsIn(secondaryDir)
	if err != nil {
		return nil, err
	}
	searchIDs, err := blockIDsIn(searchDir)
	if err != nil {
		return nil, err
	}

	keep := make(map[BlockID]bool)
	secondarySet := make(map[BlockID]bool, len(secondaryIDs))
	for _, id := range secondaryIDs {
		secondarySet[id] = true
	}
	for _, id := range primaryIDs {
		if secondarySet[id] {
			keep[id] = true
		}
	}

	db := &Database{root: root, inv: inv}
	for _, id := range primaryIDs {
		if !keep[id] {
			continue
		}
		b, lerr := loadBlock(primaryDir, OrientationPrimary, id)
		if lerr != nil {
			return nil, fmt.Errorf("load primary block %d: %w", id, lerr)
		}
		db.primary = append(db.primary, b)
	}
	for _, id := range secondaryIDs {
		if !keep[id] {
			continue
		}
		b, lerr := loadBlock(secondaryDir, OrientationSecondary, id)
		if lerr != nil {
			return nil, fmt.Errorf("load secondary block %d: %w", id, lerr)
		}
		db.secondary = append(db.secondary, b)
	}
	for _, id := range searchIDs {
		if !keep[id] {
			continue // search blocks without a primary/secondary counterpart are discarded
		}
		b, lerr := loadBlock(searchDir, OrientationSearch, id)
		if lerr != nil {
			return nil, fmt.Errorf("load search block %d: %w", id, lerr)
		}
		db.search = append(db.search, b)
	}

	db.primaryCache, err = lru.New[string, *Record](recordCacheSize)
	if err != nil {
		return nil, err
	}
	db.secondaryCache, err = lru.New[string, *Record](recordCacheSize)
	if err != nil {
		return nil, err
	}

	db.newCurrentBlocks(newBlockID())
	return db, nil
}

func blockIDsIn(dir string) ([]BlockID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[BlockID]bool)
	var ids []BlockID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".blk" {
			continue
		}
		base := e.Name()[:len(e.Name())-len(ext)]
		var id BlockID
		if _, serr := fmt.Sscanf(base, "%d", &id); serr != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (db *Database) newCurrentBlocks(id BlockID) {
	primaryDir, secondaryDir, searchDir := dirs(db.root)
	db.curPrimary = newBlock(primaryDir, OrientationPrimary, id)
	db.curSecondary = newBlock(secondaryDir, OrientationSecondary, id)
	db.curSearch = newBlock(searchDir, OrientationSearch, id)
	db.primary = append(db.primary, db.curPrimary)
	db.secondary = append(db.secondary, db.curSecondary)
	db.search = append(db.search, db.curSearch)
}

// accept fans w out into Primary and Secondary revisions (always) and
// Search revisions (if the value tokenizes), inserting each into the
// database's current mutable block of that orientation. Those blocks are
// in memory; nothing reaches disk until a sync, which accept triggers
// (triggerSync) when the sync parameter is set.
func (db *Database) accept(w Write, sync bool) error {
	db.mu.Lock()
	cp, cs, ct := db.curPrimary, db.curSecondary, db.curSearch
	db.mu.Unlock()

	if err := cp.Insert(w.toPrimary()); err != nil {
		return err
	}
	if err := cs.Insert(w.toSecondary()); err != nil {
		return err
	}
	for _, sr := range w.toSearch() {
		if err := ct.Insert(sr); err != nil {
			return err
		}
	}

	db.invalidateOnAccept(w)

	if sync {
		return db.triggerSync()
	}
	return nil
}

// invalidateOnAccept appends w's revisions directly to any cached Record
// they affect, rather than evicting, per spec.md §4.2.
func (db *Database) invalidateOnAccept(w Write) {
	if rec, ok := db.primaryCache.Get(primaryCacheKey(w.RID, w.Key, true)); ok {
		_, _ = rec.append(w.toPrimary())
	}
	if rec, ok := db.primaryCache.Get(primaryCacheKey(w.RID, "", false)); ok {
		_, _ = rec.append(w.toPrimary())
	}
	if rec, ok := db.secondaryCache.Get(w.Key); ok {
		_, _ = rec.append(w.toSecondary())
	}
}

// triggerSync syncs the three current blocks to disk, then allocates
// fresh ones sharing a new block id.
func (db *Database) triggerSync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.curPrimary.Sync(); err != nil {
		return err
	}
	if err := db.curSecondary.Sync(); err != nil {
		return err
	}
	if err := db.curSearch.Sync(); err != nil {
		return err
	}
	db.newCurrentBlocks(newBlockID())
	return nil
}

func primaryCacheKey(rid RID, key Key, partial bool) string {
	var b [9]byte
	putU64(b[:8], rid)
	if partial {
		b[8] = 1
		return string(b[:]) + string(key)
	}
	b[8] = 0
	return string(b[:])
}

// seekBlocks merges revisions for (locator[,key]) across blocks, in
// chronological (block-id, i.e. list) order, into a fresh or existing
// Record.
func (db *Database) seekBlocks(blocks []*Block, rec *Record, locator, key []byte, hasKey bool) error {
	var revs []revision
	for _, b := range blocks {
		revs = revs[:0]
		if err := b.Seek(locator, key, hasKey, &revs); err != nil {
			return err
		}
		for _, r := range revs {
			if _, err := rec.append(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *Database) snapshotBlocks(kind Orientation) []*Block {
	db.mu.Lock()
	defer db.mu.Unlock()
	switch kind {
	case OrientationPrimary:
		return append([]*Block(nil), db.primary...)
	case OrientationSecondary:
		return append([]*Block(nil), db.secondary...)
	default:
		return append([]*Block(nil), db.search...)
	}
}

// primaryRecord materializes (or returns a cached) Primary Record for rid,
// optionally narrowed to key.
func (db *Database) primaryRecord(rid RID, key Key, partial bool) (*Record, error) {
	cacheKey := primaryCacheKey(rid, key, partial)
	if rec, ok := db.primaryCache.Get(cacheKey); ok {
		return rec, nil
	}
	var rec *Record
	var locator [8]byte
	putU64(locator[:], rid)
	if partial {
		rec = newPartialRecord(OrientationPrimary, locator[:], []byte(key))
	} else {
		rec = newRecord(OrientationPrimary, locator[:])
	}
	if err := db.seekBlocks(db.snapshotBlocks(OrientationPrimary), rec, locator[:], []byte(key), partial); err != nil {
		return nil, err
	}
	db.primaryCache.Add(cacheKey, rec)
	return rec, nil
}

// secondaryRecord materializes (or returns a cached) Secondary Record for
// the given key (every revision with that key, across all values/RIDs).
func (db *Database) secondaryRecord(key Key) (*Record, error) {
	if rec, ok := db.secondaryCache.Get(key); ok {
		return rec, nil
	}
	rec := newRecord(OrientationSecondary, []byte(key))
	if err := db.seekBlocks(db.snapshotBlocks(OrientationSecondary), rec, []byte(key), nil, false); err != nil {
		return nil, err
	}
	db.secondaryCache.Add(key, rec)
	return rec, nil
}

// searchRecord materializes a Search Record for key, containing every
// indexed term for values written under that key.
func (db *Database) searchRecord(key Key) (*Record, error) {
	rec := newRecord(OrientationSearch, []byte(key))
	if err := db.seekBlocks(db.snapshotBlocks(OrientationSearch), rec, []byte(key), nil, false); err != nil {
		return nil, err
	}
	return rec, nil
}

// verify reports whether (key,value,RID) currently holds, gating first on
// Inventory membership (spec.md §4.2).
func (db *Database) verify(key Key, val Value, rid RID) (bool, error) {
	if !db.inv.Contains(rid) {
		return false, nil
	}
	rec, err := db.primaryRecord(rid, key, true)
	if err != nil {
		return false, err
	}
	for _, v := range rec.Get(key) {
		if v.Equal(val) {
			return true, nil
		}
	}
	return false, nil
}

func (db *Database) verifyAt(key Key, val Value, rid RID, ts Version) (bool, error) {
	if !db.inv.Contains(rid) {
		return false, nil
	}
	rec, err := db.primaryRecord(rid, key, true)
	if err != nil {
		return false, err
	}
	for _, v := range rec.GetAt(key, ts) {
		if v.Equal(val) {
			return true, nil
		}
	}
	return false, nil
}

// Select returns the current values under key for a record.
func (db *Database) Select(key Key, rid RID) ([]Value, error) {
	rec, err := db.primaryRecord(rid, key, true)
	if err != nil {
		return nil, err
	}
	return rec.Get(key), nil
}

// Chronologize returns the historical fold of key for rid at ts.
func (db *Database) Chronologize(key Key, rid RID, ts Version) ([]Value, error) {
	rec, err := db.primaryRecord(rid, key, true)
	if err != nil {
		return nil, err
	}
	return rec.GetAt(key, ts), nil
}

// Browse returns every value currently recorded under key, mapped to the
// RIDs holding it.
func (db *Database) Browse(key Key) (map[RID][]Value, error) {
	rec, err := db.secondaryRecord(key)
	if err != nil {
		return nil, err
	}
	return rec.AllSecondary(), nil
}

// Explore evaluates operator/operands against key's Secondary Record.
func (db *Database) Explore(key Key, op Operator, operands []Value) (map[RID][]Value, error) {
	rec, err := db.secondaryRecord(key)
	if err != nil {
		return nil, err
	}
	return rec.Explore(op, operands), nil
}

// Gather inverts Select across keys: every (key,[]Value) pair currently
// held by rid. ts==0 with historical=false means "current".
func (db *Database) Gather(keys []Key, rid RID, ts Version, historical bool) (map[Key][]Value, error) {
	out := make(map[Key][]Value)
	for _, key := range keys {
		rec, err := db.secondaryRecord(key)
		if err != nil {
			return nil, err
		}
		vals := rec.Gather(rid, ts, historical)
		if len(vals) > 0 {
			out[key] = vals
		}
	}
	return out, nil
}

// Search evaluates a multi-word query against key's Search Record,
// returning RIDs whose indexed term positions satisfy the query.
func (db *Database) Search(key Key, query string) (map[RID]bool, error) {
	rec, err := db.searchRecord(key)
	if err != nil {
		return nil, err
	}
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return map[RID]bool{}, nil
	}

	type posSet struct {
		positions map[int]bool
	}
	candidates := make(map[RID]map[int]bool) // RID -> positions where token[0] matched

	first := rec.SearchTerm(tokens[0].term)
	for _, sr := range first {
		m, ok := candidates[sr.RID]
		if !ok {
			m = make(map[int]bool)
			candidates[sr.RID] = m
		}
		m[sr.Position] = true
	}

	for i := 1; i < len(tokens); i++ {
		next := rec.SearchTerm(tokens[i].term)
		byRID := make(map[RID]map[int]bool)
		for _, sr := range next {
			m, ok := byRID[sr.RID]
			if !ok {
				m = make(map[int]bool)
				byRID[sr.RID] = m
			}
			m[sr.Position] = true
		}
		offset := 1 + tokens[i].skippedBefore
		merged := make(map[RID]map[int]bool)
		for rid, prevPositions := range candidates {
			nextPositions, ok := byRID[rid]
			if !ok {
				continue
			}
			for p := range prevPositions {
				if nextPositions[p+offset] {
					m, ok := merged[rid]
					if !ok {
						m = make(map[int]bool)
						merged[rid] = m
					}
					m[p+offset] = true
				}
			}
		}
		candidates = merged
		if len(candidates) == 0 {
			break
		}
	}

	out := make(map[RID]bool, len(candidates))
	for rid := range candidates {
		out[rid] = true
	}
	return out, nil
}

// Review returns the values currently present under key for rid (the
// Record folded at maxVersion), the same set Select returns; the
// revision history itself is not listed.
func (db *Database) Review(key Key, rid RID) ([]Value, error) {
	rec, err := db.primaryRecord(rid, key, true)
	if err != nil {
		return nil, err
	}
	return rec.GetAt(key, maxVersion), nil
}

// Version reports the highest version committed to rid's Primary Record,
// or NoVersion if rid has never been written.
func (db *Database) Version(rid RID) (Version, error) {
	rec, err := db.primaryRecord(rid, "", false)
	if err != nil {
		return NoVersion, err
	}
	return rec.MaxVersion(), nil
}

const maxVersion Version = ^Version(0)

// Close releases mmap handles held by any immutable blocks.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var firstErr error
	for _, list := range [][]*Block{db.primary, db.secondary, db.search} {
		for _, b := range list {
			if err := b.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
