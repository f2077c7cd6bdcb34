package lsm

import "github.com/oarkflow/emberdb/wal"

// batchOp is one staged Put or Delete, grounded on the teacher's Entry
// struct in writer.go (key/value/deleted), trimmed to what the WAL record
// and memtable apply actually need.
type batchOp struct {
	key     []byte
	value   []byte
	deleted bool
}

// Batch accumulates Put/Delete operations and applies them to the engine as
// one WAL append with a single sync, instead of one append-plus-sync per
// call (grounded on writer.go's BatchWriter: "batch write to WAL with
// single sync" / "batch write to memtable"). The search-indexing half of
// the teacher's BatchWriter has no counterpart here; this Batch only
// carries the storage-engine write-amortisation idea forward.
type Batch struct {
	e   *Engine
	ops []batchOp
}

// NewBatch returns an empty batch bound to e.
func (e *Engine) NewBatch() *Batch {
	return &Batch{e: e}
}

// Put stages a key/value write. Neither key nor value is copied until
// Commit encodes the WAL frame, so callers must not mutate either slice
// before calling Commit.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete stages a tombstone write.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, deleted: true})
}

// Len reports the number of staged operations.
func (b *Batch) Len() int { return len(b.ops) }

// Commit appends every staged operation to the WAL under one lock and one
// sync, then applies them to the active memtable in order, rotating and
// flushing afterward if the memtable crossed its size threshold. An empty
// batch is a no-op.
func (b *Batch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}

	recs := make([]wal.Record, len(b.ops))
	for i, op := range b.ops {
		if op.deleted {
			recs[i] = wal.DeleteRecord(op.key)
		} else {
			recs[i] = wal.PutRecord(op.key, op.value)
		}
	}

	if _, err := b.e.w.AppendBatch(recs); err != nil {
		return err
	}

	b.e.memMu.Lock()
	for _, op := range b.ops {
		seq := b.e.sequence.Add(1)
		if op.deleted {
			b.e.active.Delete(op.key, seq)
		} else {
			b.e.active.Put(op.key, op.value, seq)
		}
	}
	full := b.e.active.Size() >= b.e.opts.MemtableSize
	b.e.memMu.Unlock()

	b.ops = b.ops[:0]

	if full {
		return b.e.rotateAndFlush()
	}
	return nil
}
