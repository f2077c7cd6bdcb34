// Package lsm ties the WAL, memtable, SSTable and manifest layers into the
// engine described in spec §3 ("LSM Engine") and §4.2 ("Core algorithms"):
// the write path (WAL append, memtable insert, memtable-size-triggered
// flush), the read path (memtable, then immutable memtables, then per-level
// SSTables, newest first) and compaction. Grounded on the teacher's DB type
// in velocity.go (Put/Get/Delete, flushMemTable, compactionLoop), adapted to
// this spec's WAL/SSTable/manifest formats and multi-level compaction rules.
package lsm

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/oarkflow/emberdb/config"
	"github.com/oarkflow/emberdb/errs"
	"github.com/oarkflow/emberdb/manifest"
	"github.com/oarkflow/emberdb/memtable"
	"github.com/oarkflow/emberdb/sstable"
	"github.com/oarkflow/emberdb/wal"
)

const (
	walDirName = "wal"
	sstDirName = "sst"
)

// Engine is the storage engine binding every layer together (spec §3's top
// level picture: "WAL -> Memtable -> (flush) -> SSTable levels, with a
// Manifest recording the live file set").
type Engine struct {
	dir  string
	opts config.Options

	w *wal.WAL
	m *manifest.Manifest

	// memMu guards swapping the active memtable and the immutable list; it
	// is held only long enough to install a new pointer, never across I/O
	// (spec §5 "Memtable: a single reader-writer lock ... Immutable
	// memtables list: a short critical section").
	memMu      sync.Mutex
	active     *memtable.Memtable
	immutables []*immutable

	// compactMu serialises compaction passes (spec §5 "Compactor: a single
	// mutex preventing concurrent compactions"): TryLock lets a flush that
	// triggers compaction skip cleanly if another compaction is already
	// running rather than blocking the write path on it.
	compactMu sync.Mutex

	// readersMu guards the open-SSTable-reader cache, keyed by file path.
	readersMu sync.Mutex
	readers   map[string]*sstable.Reader

	sequence atomic.Uint64

	blockCache *blockCache
}

// immutable is a memtable that has been swapped out of the write path and is
// awaiting (or undergoing) its flush to a level-0 SSTable.
type immutable struct {
	mt  *memtable.Memtable
	seq uint64
}

// Open recovers dir into a ready Engine: it creates the engine's
// subdirectories, loads the manifest, opens the WAL (which replays its own
// crash-recovery scan), seeds the sequence counter, and replays every WAL
// record returned by recovery into a fresh memtable (spec §4.2 "Recovery on
// open").
func Open(dir string, opts config.Options) (*Engine, error) {
	for _, sub := range []string{walDirName, sstDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.Io, "create engine subdirectory", err)
		}
	}

	m, err := manifest.Open(dir, opts.ManifestLogThreshold)
	if err != nil {
		return nil, err
	}

	w, records, _, err := wal.Open(filepath.Join(dir, walDirName), opts)
	if err != nil {
		m.Close()
		return nil, err
	}

	e := &Engine{
		dir:        dir,
		opts:       opts,
		w:          w,
		m:          m,
		active:     memtable.New(),
		readers:    make(map[string]*sstable.Reader),
		blockCache: newBlockCache(opts.BlockCacheBytes),
	}
	e.sequence.Store(m.Sequence())

	for _, rec := range records {
		seq := e.sequence.Add(1)
		switch rec.Type {
		case wal.TypePut:
			e.active.Put(rec.Key, rec.Value, seq)
		case wal.TypeDelete:
			e.active.Delete(rec.Key, seq)
		}
	}

	for _, meta := range m.Live() {
		r, err := sstable.Open(meta.Path)
		if err != nil {
			w.Close()
			m.Close()
			return nil, err
		}
		e.readers[meta.Path] = r
	}

	return e, nil
}

// Put advances the sequence counter, appends a WAL record, and installs the
// value into the active memtable, flushing and compacting as needed (spec
// §4.2 write path steps 1-5).
func (e *Engine) Put(key, value []byte) error {
	return e.write(wal.PutRecord(key, value), func(seq uint64) {
		e.active.Put(key, value, seq)
	})
}

// Delete installs a tombstone for key, following the same path as Put.
func (e *Engine) Delete(key []byte) error {
	return e.write(wal.DeleteRecord(key), func(seq uint64) {
		e.active.Delete(key, seq)
	})
}

func (e *Engine) write(rec wal.Record, apply func(seq uint64)) error {
	seq := e.sequence.Add(1)

	if _, err := e.w.Append(rec); err != nil {
		return err
	}

	e.memMu.Lock()
	apply(seq)
	full := e.active.Size() >= e.opts.MemtableSize
	e.memMu.Unlock()

	if full {
		if err := e.rotateAndFlush(); err != nil {
			return err
		}
	}
	return nil
}

// rotateAndFlush implements spec §4.2 write path step 4: swap the active
// memtable for an empty one, push the old one onto the immutable list, and
// flush it into a new level-0 SSTable.
func (e *Engine) rotateAndFlush() error {
	e.memMu.Lock()
	old := e.active
	oldSeq := e.sequence.Load()
	e.active = memtable.New()
	imm := &immutable{mt: old, seq: oldSeq}
	e.immutables = append(e.immutables, imm)
	e.memMu.Unlock()

	if err := e.flushImmutable(imm); err != nil {
		return err
	}

	if err := e.m.UpdateSequence(e.sequence.Load()); err != nil {
		return err
	}
	if _, err := e.w.Checkpoint(e.sequence.Load()); err != nil {
		return err
	}

	return e.maybeCompactLevel0()
}

// flushImmutable writes imm's contents to a new level-0 SSTable, registers it
// in the manifest and reader cache, and removes imm from the immutable list.
func (e *Engine) flushImmutable(imm *immutable) error {
	rows := imm.mt.Scan()
	if len(rows) == 0 {
		e.removeImmutable(imm)
		return nil
	}

	path := sstable.FileName(filepath.Join(e.dir, sstDirName), 0, imm.seq)
	ww, err := sstable.NewWriter(path, e.opts.BlockSize, len(rows), e.opts.BloomBitsPerKey)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := ww.Add(row.Key, row.Value, row.Tombstone, row.Sequence); err != nil {
			ww.Abandon()
			return err
		}
	}
	meta, bloomBytes, err := ww.Finish()
	if err != nil {
		return err
	}
	meta.Level = 0
	meta.Sequence = imm.seq
	if err := os.WriteFile(meta.Path+".bloom", bloomBytes, 0o644); err != nil {
		return errs.Wrap(errs.Io, "write sstable bloom sidecar", err)
	}

	r, err := sstable.Open(meta.Path)
	if err != nil {
		return err
	}

	if err := e.m.AddSSTable(meta); err != nil {
		r.Close()
		return err
	}

	e.readersMu.Lock()
	e.readers[meta.Path] = r
	e.readersMu.Unlock()

	e.removeImmutable(imm)
	return nil
}

func (e *Engine) removeImmutable(imm *immutable) {
	e.memMu.Lock()
	defer e.memMu.Unlock()
	for i, x := range e.immutables {
		if x == imm {
			e.immutables = append(e.immutables[:i], e.immutables[i+1:]...)
			return
		}
	}
}

// Get implements the spec §4.2 read path: active memtable, then immutable
// memtables newest first, then per-level SSTables newest first, skipping any
// whose key range excludes key. The first match (value or tombstone) wins.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.memMu.Lock()
	if v, tomb, found := e.active.Get(key); found {
		e.memMu.Unlock()
		return valueOrNil(v, tomb), !tomb && found, nil
	}
	immSnapshot := make([]*immutable, len(e.immutables))
	copy(immSnapshot, e.immutables)
	e.memMu.Unlock()

	for i := len(immSnapshot) - 1; i >= 0; i-- {
		if v, tomb, found := immSnapshot[i].mt.Get(key); found {
			return valueOrNil(v, tomb), !tomb && found, nil
		}
	}

	live := e.m.Live()
	byLevel := groupByLevel(live, e.opts.MaxLevels)
	for level := 0; level < len(byLevel); level++ {
		metas := byLevel[level]
		sort.Slice(metas, func(i, j int) bool { return metas[i].Sequence > metas[j].Sequence })
		for _, meta := range metas {
			if !meta.Contains(key) {
				continue
			}
			cacheKey := meta.Path + "|" + string(key)
			if cached, ok := e.blockCache.get(cacheKey); ok {
				tomb := cached[0] == 1
				return valueOrNil(cached[1:], tomb), !tomb, nil
			}

			r, err := e.getReader(meta.Path)
			if err != nil {
				return nil, false, err
			}
			v, tomb, found, err := r.Get(key)
			if err != nil {
				return nil, false, err
			}
			if found {
				cached := make([]byte, 1+len(v))
				if tomb {
					cached[0] = 1
				}
				copy(cached[1:], v)
				e.blockCache.put(cacheKey, cached)
				return valueOrNil(v, tomb), !tomb, nil
			}
		}
	}
	return nil, false, nil
}

func valueOrNil(v []byte, tomb bool) []byte {
	if tomb {
		return nil
	}
	return v
}

func (e *Engine) getReader(path string) (*sstable.Reader, error) {
	e.readersMu.Lock()
	defer e.readersMu.Unlock()
	if r, ok := e.readers[path]; ok {
		return r, nil
	}
	r, err := sstable.Open(path)
	if err != nil {
		return nil, err
	}
	e.readers[path] = r
	return r, nil
}

func groupByLevel(metas []sstable.Meta, maxLevels int) [][]sstable.Meta {
	out := make([][]sstable.Meta, maxLevels)
	for _, m := range metas {
		if m.Level < 0 || m.Level >= maxLevels {
			continue
		}
		out[m.Level] = append(out[m.Level], m)
	}
	return out
}

// Has reports whether key currently has a live (non-tombstoned) value.
func (e *Engine) Has(key []byte) (bool, error) {
	_, found, err := e.Get(key)
	return found, err
}

// Stats summarises the engine's current shape, formatted the way the
// teacher reports its own periodic stats, via go-humanize.
type Stats struct {
	Sequence       uint64
	MemtableBytes  string
	ImmutableCount int
	LevelCounts    []int
	OpenReaders    int
}

// Stats returns a human-readable snapshot of the engine's state.
func (e *Engine) Stats() Stats {
	e.memMu.Lock()
	memBytes := e.active.Size()
	immCount := len(e.immutables)
	e.memMu.Unlock()

	live := e.m.Live()
	byLevel := groupByLevel(live, e.opts.MaxLevels)
	counts := make([]int, len(byLevel))
	for i, l := range byLevel {
		counts[i] = len(l)
	}

	e.readersMu.Lock()
	openReaders := len(e.readers)
	e.readersMu.Unlock()

	return Stats{
		Sequence:       e.sequence.Load(),
		MemtableBytes:  humanize.Bytes(uint64(memBytes)),
		ImmutableCount: immCount,
		LevelCounts:    counts,
		OpenReaders:    openReaders,
	}
}

// Close flushes any remaining immutable memtables, closes every open
// SSTable reader, and closes the WAL and manifest.
func (e *Engine) Close() error {
	e.memMu.Lock()
	pending := make([]*immutable, len(e.immutables))
	copy(pending, e.immutables)
	e.memMu.Unlock()

	for _, imm := range pending {
		if err := e.flushImmutable(imm); err != nil {
			return err
		}
	}

	e.readersMu.Lock()
	for _, r := range e.readers {
		r.Close()
	}
	e.readersMu.Unlock()

	if err := e.w.Close(); err != nil {
		return err
	}
	return e.m.Close()
}

