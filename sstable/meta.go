package sstable

import (
	"bytes"
	"fmt"
)

// sstFileName formats the on-disk name for an SSTable at the given level
// and creation sequence number, following spec §6's
// `L<level>_<timestamp>[_counter].sst` convention: sequence fills the
// `<timestamp>` slot (a monotonic write-sequence counter rather than a
// wall-clock time, since the engine already hands out one and it serves
// the same purpose the convention needs — a per-level-0 flush a strictly
// increasing discriminator). The optional `_<counter>` suffix is never
// needed here: sequence alone is already unique per SSTable.
func sstFileName(level int, sequence uint64) string {
	return fmt.Sprintf("L%d_%016x.sst", level, sequence)
}

// Meta is an SSTable's metadata as held in RAM and mirrored into the
// manifest (spec §3 "SSTable metadata").
type Meta struct {
	Path       string
	Level      int
	MinKey     []byte
	MaxKey     []byte
	EntryCount uint64
	FileSize   int64
	Sequence   uint64
}

// Overlaps reports whether [lo, hi] intersects m's [MinKey, MaxKey], used by
// compaction's range selection (§4.2 "Collect every level-1 SSTable whose
// range intersects"). The read path's per-key skip rule uses Contains.
func (m Meta) Overlaps(lo, hi []byte) bool {
	return bytes.Compare(lo, m.MaxKey) <= 0 && bytes.Compare(hi, m.MinKey) >= 0
}

// Contains reports whether key falls within [MinKey, MaxKey].
func (m Meta) Contains(key []byte) bool {
	return bytes.Compare(key, m.MinKey) >= 0 && bytes.Compare(key, m.MaxKey) <= 0
}
