package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func buildTable(t *testing.T, dir string, name string, rows []Row) Meta {
	t.Helper()
	w, err := NewWriter(filepath.Join(dir, name), 64, len(rows), 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for _, r := range rows {
		if err := w.Add(r.Key, r.Value, r.Tombstone, r.Sequence); err != nil {
			t.Fatalf("add %s: %v", r.Key, err)
		}
	}
	meta, bloomBytes, err := w.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := os.WriteFile(meta.Path+".bloom", bloomBytes, 0o644); err != nil {
		t.Fatalf("write bloom sidecar: %v", err)
	}
	return meta
}

func TestRoundTripAscendingKeys(t *testing.T) {
	dir := t.TempDir()
	rows := []Row{
		{Key: []byte("a"), Value: []byte("1"), Sequence: 1},
		{Key: []byte("b"), Value: []byte("2"), Sequence: 2},
		{Key: []byte("c"), Tombstone: true, Sequence: 3},
		{Key: []byte("d"), Value: []byte("4"), Sequence: 4},
	}
	buildTable(t, dir, "0-0000000000000001.sst", rows)

	r, err := Open(filepath.Join(dir, "0-0000000000000001.sst"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	got, err := r.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for i, row := range rows {
		if !bytes.Equal(got[i].Key, row.Key) || !bytes.Equal(got[i].Value, row.Value) ||
			got[i].Tombstone != row.Tombstone || got[i].Sequence != row.Sequence {
			t.Fatalf("row %d mismatch: got %+v want %+v", i, got[i], row)
		}
	}

	v, tomb, found, err := r.Get([]byte("c"))
	if err != nil || !found || !tomb || v != nil {
		t.Fatalf("expected tombstone for c: v=%v tomb=%v found=%v err=%v", v, tomb, found, err)
	}
	v, _, found, err = r.Get([]byte("b"))
	if err != nil || !found || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("expected b=2, got v=%v found=%v err=%v", v, found, err)
	}
	_, _, found, err = r.Get([]byte("zzz"))
	if err != nil || found {
		t.Fatalf("expected not found for missing key, got found=%v err=%v", found, err)
	}
}

func TestRejectsNonAscendingKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "bad.sst"), 64, 2, 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Add([]byte("b"), []byte("1"), false, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Add([]byte("a"), []byte("2"), false, 2); err == nil {
		t.Fatal("expected error for out-of-order key")
	}
	w.Abandon()
}

func TestBlockCRCDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	rows := []Row{
		{Key: []byte("a"), Value: []byte("1"), Sequence: 1},
		{Key: []byte("b"), Value: []byte("2"), Sequence: 2},
	}
	meta := buildTable(t, dir, "tbl.sst", rows)

	data, err := os.ReadFile(meta.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// flip a byte inside the first data block's body.
	data[2] ^= 0xFF
	if err := os.WriteFile(meta.Path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	r, err := Open(meta.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if _, _, _, err := r.Get([]byte("a")); err == nil {
		t.Fatal("expected crc error reading corrupted block")
	}
}

func TestMultipleBlocksWithSmallBlockSize(t *testing.T) {
	dir := t.TempDir()
	var rows []Row
	for i := 0; i < 50; i++ {
		rows = append(rows, Row{
			Key:      []byte(fmt.Sprintf("key-%03d", i)),
			Value:    []byte(fmt.Sprintf("value-%03d", i)),
			Sequence: uint64(i),
		})
	}
	meta := buildTable(t, dir, "many.sst", rows)

	r, err := Open(meta.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	for _, row := range rows {
		v, _, found, err := r.Get(row.Key)
		if err != nil || !found || !bytes.Equal(v, row.Value) {
			t.Fatalf("get %s: v=%v found=%v err=%v", row.Key, v, found, err)
		}
	}
	if string(r.Meta().MinKey) != "key-000" || string(r.Meta().MaxKey) != "key-049" {
		t.Fatalf("unexpected min/max: %s/%s", r.Meta().MinKey, r.Meta().MaxKey)
	}
}

func TestBloomFilterReportsInsertedKey(t *testing.T) {
	dir := t.TempDir()
	rows := []Row{{Key: []byte("onlykey"), Value: []byte("v"), Sequence: 1}}
	meta := buildTable(t, dir, "bloom.sst", rows)

	r, err := Open(meta.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.bloom.mayContain([]byte("onlykey")) == false {
		t.Fatal("bloom filter should report true for an inserted key")
	}
}
