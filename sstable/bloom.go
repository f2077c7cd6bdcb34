package sstable

import (
	"encoding/binary"
	"hash/crc64"

	"github.com/oarkflow/emberdb/errs"
)

var crc64Table = crc64.MakeTable(crc64.ISO)

// bloomFilter is a RAM-side read accelerator, not part of the byte-exact
// on-disk SSTable format (SPEC_FULL.md "Supplemented features"): §6 fixes
// the file's bytes exactly (blocks, index, footer) and has no field for it.
// It is rebuilt from the key set at write time and optionally persisted to
// a sidecar `<file>.bloom` file so a reopen doesn't have to re-scan the
// whole table to rebuild it.
type bloomFilter struct {
	bits []uint64
	size uint64
	hash uint64
}

func newBloomFilter(expectedItems, bitsPerItem int) *bloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	size := uint64(expectedItems * bitsPerItem)
	if size == 0 {
		size = 64
	}
	return &bloomFilter{
		bits: make([]uint64, (size+63)/64),
		size: size,
		hash: 2,
	}
}

func (bf *bloomFilter) add(key []byte) {
	h1, h2 := bloomHashPair(key)
	for i := uint64(0); i < bf.hash; i++ {
		bit := (h1 + i*h2) % bf.size
		bf.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (bf *bloomFilter) mayContain(key []byte) bool {
	h1, h2 := bloomHashPair(key)
	for i := uint64(0); i < bf.hash; i++ {
		bit := (h1 + i*h2) % bf.size
		if bf.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// marshal and unmarshal persist the filter to the `.bloom` sidecar file.
func (bf *bloomFilter) marshal() []byte {
	buf := make([]byte, 16+len(bf.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], bf.size)
	binary.LittleEndian.PutUint64(buf[8:16], bf.hash)
	for i, word := range bf.bits {
		binary.LittleEndian.PutUint64(buf[16+i*8:16+(i+1)*8], word)
	}
	return buf
}

func unmarshalBloomFilter(b []byte) (*bloomFilter, error) {
	if len(b) < 16 {
		return nil, errs.New(errs.Corruption, "bloom sidecar: too short")
	}
	bf := &bloomFilter{
		size: binary.LittleEndian.Uint64(b[0:8]),
		hash: binary.LittleEndian.Uint64(b[8:16]),
	}
	words := (bf.size + 63) / 64
	if uint64(len(b)) < 16+words*8 {
		return nil, errs.New(errs.Corruption, "bloom sidecar: truncated bitset")
	}
	bf.bits = make([]uint64, words)
	for i := range bf.bits {
		bf.bits[i] = binary.LittleEndian.Uint64(b[16+uint64(i)*8 : 16+uint64(i+1)*8])
	}
	return bf, nil
}

// bloomHashPair derives the two independent hashes Kirsch-Mitzenmacher
// double hashing needs (g_i(x) = h1(x) + i*h2(x)) from two different real
// hash functions rather than splitting one hash's bits in two: h1 is
// FNV-1a 64-bit (its own avalanche, no shared state with h2), h2 is
// CRC-64/ISO over the key reversed, so the two never agree on which bits
// of the input dominate their output.
func bloomHashPair(key []byte) (h1, h2 uint64) {
	h1 = fnv1a64(key)
	h2 = crc64.Checksum(reversed(key), crc64Table) | 1 // odd, so h2 never degenerates to 0
	return h1, h2
}

func fnv1a64(data []byte) uint64 {
	const (
		offsetBasis = 14695981039346656037
		prime       = 1099511628211
	)
	h := uint64(offsetBasis)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}

func reversed(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}
