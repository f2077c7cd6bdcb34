package sstable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/oarkflow/emberdb/errs"
)

// Magic is the footer's magic number, given byte-exact in spec §6.
const Magic uint64 = 0x00535354424C4954

// IndexEntry is one entry in the SSTable's index block: the first key of a
// data block, plus where that block lives in the file.
type IndexEntry struct {
	FirstKey []byte
	Offset   uint64
	Size     uint32
}

// encodeIndexBlock serialises the index as count:u32_le followed by, for
// each entry, first_key_len:u32_le | first_key | offset:u64_le | size:u32_le.
func encodeIndexBlock(entries []IndexEntry) []byte {
	size := 4
	for _, e := range entries {
		size += 4 + len(e.FirstKey) + 8 + 4
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.FirstKey)))
		off += 4
		off += copy(buf[off:], e.FirstKey)
		binary.LittleEndian.PutUint64(buf[off:], e.Offset)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], e.Size)
		off += 4
	}
	return buf
}

func decodeIndexBlock(b []byte) ([]IndexEntry, error) {
	if len(b) < 4 {
		return nil, errs.New(errs.Corruption, "sstable index: truncated count")
	}
	count := binary.LittleEndian.Uint32(b)
	off := 4
	entries := make([]IndexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < off+4 {
			return nil, errs.New(errs.Corruption, "sstable index: truncated entry")
		}
		keyLen := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if len(b) < off+int(keyLen)+8+4 {
			return nil, errs.New(errs.Corruption, "sstable index: truncated entry body")
		}
		key := append([]byte(nil), b[off:off+int(keyLen)]...)
		off += int(keyLen)
		offset := binary.LittleEndian.Uint64(b[off:])
		off += 8
		sz := binary.LittleEndian.Uint32(b[off:])
		off += 4
		entries = append(entries, IndexEntry{FirstKey: key, Offset: offset, Size: sz})
	}
	return entries, nil
}

// footer mirrors spec §6's byte-exact footer record.
type footer struct {
	IndexOffset uint64
	IndexSize   uint32
	EntryCount  uint64
	MinKey      []byte
	MaxKey      []byte
	Magic       uint64
}

// encodeFooter serialises f plus a trailing CRC32 computed over the
// preceding bytes, per spec §6 "footer ... and CRC32 of the footer".
func encodeFooter(f footer) []byte {
	size := 8 + 4 + 8 + 4 + len(f.MinKey) + 4 + len(f.MaxKey) + 8
	buf := make([]byte, size, size+4)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], f.IndexOffset)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.IndexSize)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], f.EntryCount)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.MinKey)))
	off += 4
	off += copy(buf[off:], f.MinKey)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.MaxKey)))
	off += 4
	off += copy(buf[off:], f.MaxKey)
	binary.LittleEndian.PutUint64(buf[off:], f.Magic)
	off += 8

	crc := crc32.ChecksumIEEE(buf[:off])
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	return append(buf[:off], crcBuf[:]...)
}

func decodeFooter(b []byte) (footer, error) {
	var f footer
	if len(b) < 8+4+8+4 {
		return f, errs.New(errs.Corruption, "sstable footer: too short")
	}
	off := 0
	f.IndexOffset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.IndexSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	f.EntryCount = binary.LittleEndian.Uint64(b[off:])
	off += 8

	minLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(minLen)+4 {
		return f, errs.New(errs.Corruption, "sstable footer: truncated min key")
	}
	f.MinKey = append([]byte(nil), b[off:off+int(minLen)]...)
	off += int(minLen)

	maxLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(maxLen)+8+4 {
		return f, errs.New(errs.Corruption, "sstable footer: truncated max key/magic/crc")
	}
	f.MaxKey = append([]byte(nil), b[off:off+int(maxLen)]...)
	off += int(maxLen)

	f.Magic = binary.LittleEndian.Uint64(b[off:])
	off += 8

	wantCRC := binary.LittleEndian.Uint32(b[off:])
	gotCRC := crc32.ChecksumIEEE(b[:off])
	if gotCRC != wantCRC {
		return f, errs.New(errs.Corruption, "sstable footer: crc mismatch")
	}
	if f.Magic != Magic {
		return f, errs.New(errs.Corruption, "sstable footer: bad magic")
	}
	return f, nil
}
