package sstable

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oarkflow/emberdb/errs"
)

// Writer builds one SSTable file, grounded on the teacher's NewSSTable
// discipline (temp file in the same directory, fsync, atomic rename) but
// writing the spec §6 byte-exact block/index/footer layout instead of the
// teacher's encrypted header-first format.
//
// Keys MUST be added in strictly ascending order (spec §6 "SSTable
// writer"); Add returns an InvalidOperation error otherwise.
type Writer struct {
	tmp       *os.File
	finalPath string
	blockSize int

	pending       []byte // current block body under construction
	pendingLen    int
	blockFirstKey []byte

	offset      int64
	index       []IndexEntry
	entryCount  uint64
	minKey      []byte
	maxKey      []byte
	lastKey     []byte
	haveLastKey bool

	bloom *bloomFilter
}

// NewWriter opens a temp file beside path and prepares to accept entries.
// expectedEntries sizes the bloom filter accelerator.
func NewWriter(path string, blockSize int, expectedEntries int, bloomBitsPerKey int) (*Writer, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-"+uuid.NewString())
	if err != nil {
		return nil, errs.Wrap(errs.Io, "create sstable temp file", err)
	}
	return &Writer{
		tmp:       tmp,
		finalPath: path,
		blockSize: blockSize,
		bloom:     newBloomFilter(expectedEntries, bloomBitsPerKey),
	}, nil
}

// Add buffers one entry, flushing the current block first if it has
// reached blockSize.
func (w *Writer) Add(key, value []byte, tombstone bool, sequence uint64) error {
	if w.haveLastKey && compare(key, w.lastKey) <= 0 {
		return errs.New(errs.InvalidOperation, "sstable writer: keys must be added in strictly ascending order")
	}

	if w.pendingLen >= w.blockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}

	if len(w.pending) == 0 {
		// this entry opens a new block; remember its key for the index.
		w.blockFirstKey = append([]byte(nil), key...)
	}

	enc := encodeEntry(key, value, tombstone, sequence)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(enc)))
	w.pending = append(w.pending, lenBuf[:]...)
	w.pending = append(w.pending, enc...)
	w.pendingLen += 4 + len(enc)

	w.bloom.add(key)
	w.entryCount++
	if w.minKey == nil {
		w.minKey = append([]byte(nil), key...)
	}
	w.maxKey = append([]byte(nil), key...)
	w.lastKey = append([]byte(nil), key...)
	w.haveLastKey = true

	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.pending) == 0 {
		return nil
	}
	crc := crc32.ChecksumIEEE(w.pending)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)

	if _, err := w.tmp.Write(w.pending); err != nil {
		return errs.Wrap(errs.Io, "write sstable block body", err)
	}
	if _, err := w.tmp.Write(crcBuf[:]); err != nil {
		return errs.Wrap(errs.Io, "write sstable block crc", err)
	}

	size := uint32(len(w.pending) + 4)
	w.index = append(w.index, IndexEntry{
		FirstKey: w.blockFirstKey,
		Offset:   uint64(w.offset),
		Size:     size,
	})
	w.offset += int64(size)

	w.pending = w.pending[:0]
	w.pendingLen = 0
	w.blockFirstKey = nil
	return nil
}

// Finish flushes the final partial block, writes the index block and
// footer, fsyncs and atomically renames the file into place. It returns the
// finished table's metadata (Level/Sequence are filled in by the caller,
// who knows them).
func (w *Writer) Finish() (Meta, []byte, error) {
	if err := w.flushBlock(); err != nil {
		return Meta{}, nil, err
	}

	indexOffset := w.offset
	indexBlock := encodeIndexBlock(w.index)
	if _, err := w.tmp.Write(indexBlock); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "write sstable index block", err)
	}
	w.offset += int64(len(indexBlock))

	f := footer{
		IndexOffset: uint64(indexOffset),
		IndexSize:   uint32(len(indexBlock)),
		EntryCount:  w.entryCount,
		MinKey:      w.minKey,
		MaxKey:      w.maxKey,
		Magic:       Magic,
	}
	footerBytes := encodeFooter(f)
	if _, err := w.tmp.Write(footerBytes); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "write sstable footer", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(footerBytes)))
	if _, err := w.tmp.Write(lenBuf[:]); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "write sstable footer length", err)
	}

	if err := w.tmp.Sync(); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "fsync sstable", err)
	}
	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "close sstable temp file", err)
	}
	if err := os.Rename(tmpName, w.finalPath); err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "rename sstable into place", err)
	}

	stat, err := os.Stat(w.finalPath)
	if err != nil {
		return Meta{}, nil, errs.Wrap(errs.Io, "stat finished sstable", err)
	}

	meta := Meta{
		Path:       w.finalPath,
		MinKey:     w.minKey,
		MaxKey:     w.maxKey,
		EntryCount: w.entryCount,
		FileSize:   stat.Size(),
	}
	return meta, w.bloom.marshal(), nil
}

// Abandon removes the temp file without producing an SSTable (used when a
// flush or compaction fails partway through — spec §7 "partial output files
// are orphaned ... but MUST NOT be referenced").
func (w *Writer) Abandon() {
	name := w.tmp.Name()
	w.tmp.Close()
	os.Remove(name)
}

func compare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
