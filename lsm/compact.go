package lsm

import (
	"bytes"
	"container/heap"
	"path/filepath"
	"sort"

	"github.com/oarkflow/emberdb/config"
	"github.com/oarkflow/emberdb/sstable"
)

// maybeCompactLevel0 triggers a level-0 to level-1 compaction once the
// number of level-0 tables reaches opts.Level0Trigger (spec §4.2 write path
// step 5).
func (e *Engine) maybeCompactLevel0() error {
	live := e.m.Live()
	var l0 []sstable.Meta
	for _, m := range live {
		if m.Level == 0 {
			l0 = append(l0, m)
		}
	}
	if len(l0) < e.opts.Level0Trigger {
		return nil
	}
	return e.compactLevel(0)
}

// mergeRow is one row flowing through a compaction merge.
type mergeRow struct {
	sstable.Row
}

// mergeSource pulls rows out of one SSTable in ascending key order.
type mergeSource struct {
	rows []sstable.Row
	pos  int
	meta sstable.Meta
}

func (s *mergeSource) peek() (sstable.Row, bool) {
	if s.pos >= len(s.rows) {
		return sstable.Row{}, false
	}
	return s.rows[s.pos], true
}

func (s *mergeSource) advance() { s.pos++ }

// mergeHeap is a min-heap over the current head row of each source, ordered
// by key then by per-row sequence descending (so that among equal keys, the
// newest write surfaces first).
type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	ri, _ := h[i].peek()
	rj, _ := h[j].peek()
	if c := bytes.Compare(ri.Key, rj.Key); c != 0 {
		return c < 0
	}
	// duplicate key across sources: the entry with the higher per-row
	// sequence number is the newer write and wins (spec §4.2 "duplicate
	// keys across inputs keep the value from the source with the higher
	// sequence").
	return ri.Sequence > rj.Sequence
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSources performs a k-way merge across every source's rows, keeping
// only the newest version of each key (by per-row sequence). Tombstones are
// kept in the output; the returned rows carry no originating level, so the
// caller decides tombstone retention from the destination level.
func mergeSources(sources []*mergeSource) []mergeRow {
	h := make(mergeHeap, 0, len(sources))
	for _, s := range sources {
		if _, ok := s.peek(); ok {
			h = append(h, s)
		}
	}
	heap.Init(&h)

	var out []mergeRow
	for h.Len() > 0 {
		top := h[0]
		row, _ := top.peek()
		top.advance()
		if _, ok := top.peek(); ok {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}

		if len(out) > 0 && bytes.Equal(out[len(out)-1].Key, row.Key) {
			// already have the newest version of this key (the heap's
			// sequence-descending tie-break means it surfaced first).
			continue
		}
		out = append(out, mergeRow{Row: row})
	}
	return out
}

// compactLevel merges every SSTable in level `level` with every SSTable in
// level+1 that overlaps their combined key range, and writes the result as a
// new set of non-overlapping SSTables in level+1 (spec §4.2 "Level 0
// compaction" / "Level N compaction", §8 invariant "no two SSTables within a
// level >= 1 share overlapping key ranges").
func (e *Engine) compactLevel(level int) error {
	if !e.compactMu.TryLock() {
		return nil
	}
	defer e.compactMu.Unlock()

	dstLevel := level + 1
	if dstLevel >= e.opts.MaxLevels {
		dstLevel = e.opts.MaxLevels - 1
		if dstLevel == level {
			return nil
		}
	}

	live := e.m.Live()
	var srcMetas []sstable.Meta
	for _, m := range live {
		if m.Level == level {
			srcMetas = append(srcMetas, m)
		}
	}
	if len(srcMetas) == 0 {
		return nil
	}

	minKey, maxKey := srcMetas[0].MinKey, srcMetas[0].MaxKey
	for _, m := range srcMetas[1:] {
		if bytes.Compare(m.MinKey, minKey) < 0 {
			minKey = m.MinKey
		}
		if bytes.Compare(m.MaxKey, maxKey) > 0 {
			maxKey = m.MaxKey
		}
	}

	var dstMetas []sstable.Meta
	for _, m := range live {
		if m.Level == dstLevel && m.Overlaps(minKey, maxKey) {
			dstMetas = append(dstMetas, m)
		}
	}

	inputs := append(append([]sstable.Meta{}, srcMetas...), dstMetas...)

	var sources []*mergeSource
	for _, m := range inputs {
		r, err := e.getReader(m.Path)
		if err != nil {
			return err
		}
		rows, err := r.Scan()
		if err != nil {
			return err
		}
		sources = append(sources, &mergeSource{rows: rows, meta: m})
	}

	merged := mergeSources(sources)

	isMaxLevel := dstLevel == e.opts.MaxLevels-1

	outputs, err := e.writeCompactedTables(dstLevel, merged, isMaxLevel)
	if err != nil {
		return err
	}

	var inputPaths []string
	for _, m := range inputs {
		inputPaths = append(inputPaths, m.Path)
	}
	var outputPaths []string
	for _, m := range outputs {
		outputPaths = append(outputPaths, m.Path)
	}
	if err := e.m.RecordCompaction(dstLevel, inputPaths, outputPaths); err != nil {
		return err
	}
	for _, m := range outputs {
		if err := e.m.AddSSTable(m); err != nil {
			return err
		}
	}
	for _, m := range inputs {
		if err := e.m.RemoveSSTable(m.Path); err != nil {
			return err
		}
		e.dropReader(m.Path)
		if err := sstable.Remove(m.Path); err != nil {
			return err
		}
	}

	return e.maybeCompactHigherLevel(dstLevel)
}

// writeCompactedTables partitions merged rows into TargetFileSize-bounded
// SSTables, dropping tombstones whose destination level is the maximum
// level (spec §4.2 "tombstones being compacted into the maximum level can
// be dropped; tombstones at lower levels must be retained").
func (e *Engine) writeCompactedTables(dstLevel int, merged []mergeRow, isMaxLevel bool) ([]sstable.Meta, error) {
	var outputs []sstable.Meta
	seq := e.sequence.Add(1)

	var w *sstableBuilder
	flush := func() error {
		if w == nil {
			return nil
		}
		meta, err := w.finish(dstLevel, seq)
		if err != nil {
			return err
		}
		if meta.EntryCount > 0 {
			outputs = append(outputs, meta)
		}
		w = nil
		return nil
	}

	for _, row := range merged {
		if row.Tombstone && isMaxLevel {
			continue
		}
		if w == nil {
			path := sstable.FileName(e.sstDir(), dstLevel, seq)
			var err error
			w, err = newSSTableBuilder(path, e.opts)
			if err != nil {
				return nil, err
			}
		}
		if err := w.add(row.Row); err != nil {
			return nil, err
		}
		if w.size() >= e.opts.TargetFileSize {
			if err := flush(); err != nil {
				return nil, err
			}
			seq = e.sequence.Add(1)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (e *Engine) sstDir() string {
	return joinDir(e.dir, sstDirName)
}

func (e *Engine) dropReader(path string) {
	e.readersMu.Lock()
	defer e.readersMu.Unlock()
	if r, ok := e.readers[path]; ok {
		r.Close()
		delete(e.readers, path)
	}
}

// maybeCompactHigherLevel checks whether level's total byte footprint
// exceeds its configured budget (Level1MaxSize * LevelMultiplier^(level-1))
// and, if so, compacts a bounded, round-robin batch of its oldest SSTables
// into the next level (Open Question decision recorded in DESIGN.md: no
// explicit policy is specified for selecting which higher-level files to
// compact first, so oldest-first keeps file age bounded without needing
// extra per-level cursors).
func (e *Engine) maybeCompactHigherLevel(level int) error {
	if level <= 0 || level >= e.opts.MaxLevels-1 {
		return nil
	}

	budget := levelBudget(e.opts, level)
	live := e.m.Live()
	var metas []sstable.Meta
	var total int64
	for _, m := range live {
		if m.Level == level {
			metas = append(metas, m)
			total += m.FileSize
		}
	}
	if total < budget || len(metas) == 0 {
		return nil
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Sequence < metas[j].Sequence })

	batch := e.opts.Level0CompactionBatch
	if batch > len(metas) {
		batch = len(metas)
	}
	return e.compactBatch(level, metas[:batch])
}

// levelBudget computes level N's byte budget: Level1MaxSize for level 1,
// scaled by LevelMultiplier^(N-1) for deeper levels (spec §4.2 "Higher-level
// compaction").
func levelBudget(opts config.Options, level int) int64 {
	budget := float64(opts.Level1MaxSize)
	for i := 1; i < level; i++ {
		budget *= opts.LevelMultiplier
	}
	return int64(budget)
}

// compactBatch merges a specific subset of level's SSTables (rather than
// the whole level) against their overlapping level+1 tables, reusing the
// same merge machinery as compactLevel.
func (e *Engine) compactBatch(level int, batch []sstable.Meta) error {
	dstLevel := level + 1

	minKey, maxKey := batch[0].MinKey, batch[0].MaxKey
	for _, m := range batch[1:] {
		if bytes.Compare(m.MinKey, minKey) < 0 {
			minKey = m.MinKey
		}
		if bytes.Compare(m.MaxKey, maxKey) > 0 {
			maxKey = m.MaxKey
		}
	}

	live := e.m.Live()
	var dstMetas []sstable.Meta
	for _, m := range live {
		if m.Level == dstLevel && m.Overlaps(minKey, maxKey) {
			dstMetas = append(dstMetas, m)
		}
	}

	inputs := append(append([]sstable.Meta{}, batch...), dstMetas...)

	var sources []*mergeSource
	for _, m := range inputs {
		r, err := e.getReader(m.Path)
		if err != nil {
			return err
		}
		rows, err := r.Scan()
		if err != nil {
			return err
		}
		sources = append(sources, &mergeSource{rows: rows, meta: m})
	}

	merged := mergeSources(sources)
	isMaxLevel := dstLevel == e.opts.MaxLevels-1

	outputs, err := e.writeCompactedTables(dstLevel, merged, isMaxLevel)
	if err != nil {
		return err
	}

	var inputPaths, outputPaths []string
	for _, m := range inputs {
		inputPaths = append(inputPaths, m.Path)
	}
	for _, m := range outputs {
		outputPaths = append(outputPaths, m.Path)
	}
	if err := e.m.RecordCompaction(dstLevel, inputPaths, outputPaths); err != nil {
		return err
	}
	for _, m := range outputs {
		if err := e.m.AddSSTable(m); err != nil {
			return err
		}
	}
	for _, m := range inputs {
		if err := e.m.RemoveSSTable(m.Path); err != nil {
			return err
		}
		e.dropReader(m.Path)
		if err := sstable.Remove(m.Path); err != nil {
			return err
		}
	}

	return e.maybeCompactHigherLevel(dstLevel)
}

func joinDir(dir, sub string) string {
	return filepath.Join(dir, sub)
}
