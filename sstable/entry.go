package sstable

import (
	"encoding/binary"

	"github.com/oarkflow/emberdb/errs"
)

// entry type tags, written as a single byte per spec §6 "(key, type-tag,
// value) triples".
const (
	tagValue     byte = 0
	tagTombstone byte = 1
)

// encodeEntry serialises one (key, value-or-tombstone, sequence) triple.
// Layout: key_len:u32_le | key | tag:u8 | value_len:u32_le | value |
// sequence:u64_le. value_len is 0 and value is omitted for a tombstone.
func encodeEntry(key, value []byte, tombstone bool, sequence uint64) []byte {
	tag := tagValue
	if tombstone {
		tag = tagTombstone
		value = nil
	}

	size := 4 + len(key) + 1 + 4 + len(value) + 8
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(key)))
	off += 4
	off += copy(buf[off:], key)

	buf[off] = tag
	off++

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(value)))
	off += 4
	off += copy(buf[off:], value)

	binary.LittleEndian.PutUint64(buf[off:], sequence)
	off += 8

	return buf[:off]
}

// decodeEntry parses one entry starting at b[0], returning the entry and
// the number of bytes it consumed.
func decodeEntry(b []byte) (key, value []byte, tombstone bool, sequence uint64, n int, err error) {
	if len(b) < 4 {
		return nil, nil, false, 0, 0, errs.New(errs.Corruption, "sstable entry: truncated key length")
	}
	keyLen := binary.LittleEndian.Uint32(b)
	off := 4
	if len(b) < off+int(keyLen)+1+4 {
		return nil, nil, false, 0, 0, errs.New(errs.Corruption, "sstable entry: truncated key/tag")
	}
	key = b[off : off+int(keyLen)]
	off += int(keyLen)

	tag := b[off]
	off++

	valLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(valLen)+8 {
		return nil, nil, false, 0, 0, errs.New(errs.Corruption, "sstable entry: truncated value/sequence")
	}
	value = b[off : off+int(valLen)]
	off += int(valLen)

	sequence = binary.LittleEndian.Uint64(b[off:])
	off += 8

	return key, value, tag == tagTombstone, sequence, off, nil
}
