package lsm

import (
	"os"

	"github.com/oarkflow/emberdb/config"
	"github.com/oarkflow/emberdb/sstable"
)

// sstableBuilder wraps sstable.Writer with a running byte estimate so a
// compaction pass can rotate output files at TargetFileSize (spec §4.2
// "rotating by target_file_size").
type sstableBuilder struct {
	w        *sstable.Writer
	path     string
	bytes    int64
	bloom    []byte
	finished bool
}

func newSSTableBuilder(path string, opts config.Options) (*sstableBuilder, error) {
	w, err := sstable.NewWriter(path, opts.BlockSize, 1024, opts.BloomBitsPerKey)
	if err != nil {
		return nil, err
	}
	return &sstableBuilder{w: w, path: path}, nil
}

func (b *sstableBuilder) add(row sstable.Row) error {
	if err := b.w.Add(row.Key, row.Value, row.Tombstone, row.Sequence); err != nil {
		return err
	}
	b.bytes += int64(len(row.Key) + len(row.Value))
	return nil
}

func (b *sstableBuilder) size() int64 { return b.bytes }

// finish completes the underlying writer and fills in the level/sequence
// the caller chose for this output file, persisting the bloom sidecar
// alongside it.
func (b *sstableBuilder) finish(level int, sequence uint64) (sstable.Meta, error) {
	meta, bloomBytes, err := b.w.Finish()
	if err != nil {
		return sstable.Meta{}, err
	}
	meta.Level = level
	meta.Sequence = sequence
	if err := os.WriteFile(meta.Path+".bloom", bloomBytes, 0o644); err != nil {
		return meta, err
	}
	b.finished = true
	return meta, nil
}
