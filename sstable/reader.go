// Package sstable implements the immutable, sorted, block-based on-disk
// file format described in spec §3 ("SSTable") and byte-exact in §6
// ("SSTable binary layout"): a sequence of CRC32'd data blocks, an index
// block, and a footer located via a trailing 4-byte length.
package sstable

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/oarkflow/emberdb/errs"
)

// Reader is a memory-mapped, read-only view of one SSTable file, grounded
// on the teacher's LoadSSTable/Get (mmap the whole file, bloom-filter gate,
// binary search the index), adapted to this spec's block layout.
type Reader struct {
	file  *os.File
	data  []byte
	index []IndexEntry
	meta  Meta
	bloom *bloomFilter
}

// Open mmaps path and parses its footer and index block. It also tries to
// load a sidecar `<path>.bloom` file; if absent or unreadable, the bloom
// filter is rebuilt by scanning every block once (so a missing sidecar
// degrades gracefully instead of failing the open).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "open sstable", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Io, "stat sstable", err)
	}
	if stat.Size() < 4 {
		f.Close()
		return nil, errs.New(errs.Corruption, "sstable: file too small to contain a footer")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Io, "mmap sstable", err)
	}

	footerLen := binary.LittleEndian.Uint32(data[len(data)-4:])
	if int(footerLen) > len(data)-4 {
		unix.Munmap(data)
		f.Close()
		return nil, errs.New(errs.Corruption, "sstable: footer length out of range")
	}
	footerStart := len(data) - 4 - int(footerLen)
	ft, err := decodeFooter(data[footerStart : len(data)-4])
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	if int(ft.IndexOffset+uint64(ft.IndexSize)) > footerStart {
		unix.Munmap(data)
		f.Close()
		return nil, errs.New(errs.Corruption, "sstable: index block out of range")
	}
	index, err := decodeIndexBlock(data[ft.IndexOffset : ft.IndexOffset+uint64(ft.IndexSize)])
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	r := &Reader{
		file:  f,
		data:  data,
		index: index,
		meta: Meta{
			Path:       path,
			MinKey:     ft.MinKey,
			MaxKey:     ft.MaxKey,
			EntryCount: ft.EntryCount,
			FileSize:   stat.Size(),
		},
	}

	if bf, err := loadBloomSidecar(path); err == nil {
		r.bloom = bf
	} else {
		r.bloom = r.rebuildBloom()
	}

	return r, nil
}

func loadBloomSidecar(path string) (*bloomFilter, error) {
	b, err := os.ReadFile(path + ".bloom")
	if err != nil {
		return nil, err
	}
	return unmarshalBloomFilter(b)
}

func (r *Reader) rebuildBloom() *bloomFilter {
	bf := newBloomFilter(int(r.meta.EntryCount), 10)
	for _, idx := range r.index {
		block, err := r.readBlock(idx)
		if err != nil {
			continue
		}
		for off := 0; off < len(block); {
			key, _, _, _, n, err := decodeEntry(block[off:])
			if err != nil {
				break
			}
			bf.add(key)
			off += n
		}
	}
	return bf
}

// Meta returns the table's metadata as parsed from its footer.
func (r *Reader) Meta() Meta { return r.meta }

// SaveBloomSidecar persists the reader's in-memory bloom filter to
// `<path>.bloom` so a future Open can skip the rebuild scan.
func (r *Reader) SaveBloomSidecar() error {
	return os.WriteFile(r.meta.Path+".bloom", r.bloom.marshal(), 0o644)
}

func (r *Reader) readBlock(idx IndexEntry) ([]byte, error) {
	if idx.Offset+uint64(idx.Size) > uint64(len(r.data)) {
		return nil, errs.New(errs.Corruption, "sstable: block out of range")
	}
	span := r.data[idx.Offset : idx.Offset+uint64(idx.Size)]
	if len(span) < 4 {
		return nil, errs.New(errs.Corruption, "sstable: block too short")
	}
	body := span[:len(span)-4]
	wantCRC := binary.LittleEndian.Uint32(span[len(span)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, errs.New(errs.Corruption, "sstable: block crc mismatch")
	}
	return body, nil
}

// Get looks up key, returning (value, tombstone, found). A bloom-filter
// negative short-circuits to not-found without touching disk.
func (r *Reader) Get(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if r.bloom != nil && !r.bloom.mayContain(key) {
		return nil, false, false, nil
	}
	if len(r.index) == 0 {
		return nil, false, false, nil
	}
	if bytes.Compare(key, r.meta.MinKey) < 0 || bytes.Compare(key, r.meta.MaxKey) > 0 {
		return nil, false, false, nil
	}

	// partition point: the last block whose first key <= target.
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].FirstKey, key) > 0
	})
	if i == 0 {
		return nil, false, false, nil
	}
	blockIdx := r.index[i-1]

	body, err := r.readBlock(blockIdx)
	if err != nil {
		return nil, false, false, err
	}

	for off := 0; off < len(body); {
		k, v, tomb, _, n, derr := decodeEntry(body[off:])
		if derr != nil {
			return nil, false, false, derr
		}
		cmp := bytes.Compare(k, key)
		if cmp == 0 {
			if tomb {
				return nil, true, true, nil
			}
			return append([]byte(nil), v...), false, true, nil
		}
		if cmp > 0 {
			return nil, false, false, nil
		}
		off += n
	}
	return nil, false, false, nil
}

// Row is one decoded entry as seen by a full-table scan (used by
// compaction's merge).
type Row struct {
	Key       []byte
	Value     []byte
	Tombstone bool
	Sequence  uint64
}

// Scan returns every entry in the table in ascending key order.
func (r *Reader) Scan() ([]Row, error) {
	rows := make([]Row, 0, r.meta.EntryCount)
	for _, idx := range r.index {
		body, err := r.readBlock(idx)
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(body); {
			k, v, tomb, seq, n, derr := decodeEntry(body[off:])
			if derr != nil {
				return nil, derr
			}
			rows = append(rows, Row{
				Key:       append([]byte(nil), k...),
				Value:     append([]byte(nil), v...),
				Tombstone: tomb,
				Sequence:  seq,
			})
			off += n
		}
	}
	return rows, nil
}

// Close unmaps the file and closes the descriptor.
func (r *Reader) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return errs.Wrap(errs.Io, "munmap sstable", err)
	}
	return r.file.Close()
}

// Remove deletes the table's file and its bloom sidecar (if any), used once
// the manifest has dropped the table's entry (spec §3 "Ownership").
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Io, "remove sstable", err)
	}
	_ = os.Remove(path + ".bloom")
	return nil
}

// FileName builds the on-disk SSTable filename for a level and sequence
// number, per spec §6's `L<level>_<timestamp>[_counter].sst` convention:
// `L<level>_<sequence>.sst`.
func FileName(dir string, level int, sequence uint64) string {
	return filepath.Join(dir, sstFileName(level, sequence))
}
