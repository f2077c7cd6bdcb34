package wal

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/oarkflow/emberdb/config"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		PutRecord([]byte("k1"), []byte("v1")),
		DeleteRecord([]byte("k2")),
		BeginTxRecord(7),
		CommitTxRecord(7),
		CheckpointRecord(42),
	}
	for _, rec := range cases {
		frame := Encode(rec)
		got, err := decodeFrame(bufio.NewReader(bytes.NewReader(frame)))
		if err != nil {
			t.Fatalf("decode %v: %v", rec.Type, err)
		}
		if got.Type != rec.Type || !bytes.Equal(got.Key, rec.Key) || !bytes.Equal(got.Value, rec.Value) ||
			got.TxID != rec.TxID || got.Sequence != rec.Sequence {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
		}
	}
}

func TestDecodeDetectsBitFlip(t *testing.T) {
	frame := Encode(PutRecord([]byte("key"), []byte("value")))
	flipped := append([]byte(nil), frame...)
	flipped[len(flipped)-1] ^= 0x01 // flip a bit inside the trailing crc32

	_, err := decodeFrame(bufio.NewReader(bytes.NewReader(flipped)))
	if err == nil {
		t.Fatal("expected crc mismatch error, got nil")
	}
}

func TestDecodeDetectsBodyBitFlip(t *testing.T) {
	frame := Encode(PutRecord([]byte("key"), []byte("value")))
	flipped := append([]byte(nil), frame...)
	flipped[6] ^= 0x01 // flip a bit inside the payload body

	_, err := decodeFrame(bufio.NewReader(bytes.NewReader(flipped)))
	if err == nil {
		t.Fatal("expected crc mismatch error, got nil")
	}
}

func TestRecoverCommittedAndIncompleteTransactions(t *testing.T) {
	// spec §5 scenario S5: a committed tx followed by an in-flight one that
	// never commits. recover() must surface only the committed tx's data.
	dir := t.TempDir()
	w, _, _, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	mustAppend(t, w, BeginTxRecord(1))
	mustAppend(t, w, PutRecord([]byte("k1"), []byte("v1")))
	mustAppend(t, w, CommitTxRecord(1))
	mustAppend(t, w, BeginTxRecord(2))
	mustAppend(t, w, PutRecord([]byte("k2"), []byte("v2")))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, records, stats, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 recovered record, got %d: %+v", len(records), records)
	}
	if records[0].Type != TypePut || string(records[0].Key) != "k1" || string(records[0].Value) != "v1" {
		t.Fatalf("unexpected recovered record: %+v", records[0])
	}
	if stats.IncompleteTxCount != 1 {
		t.Fatalf("expected 1 incomplete tx, got %d", stats.IncompleteTxCount)
	}
	if stats.CommitCount != 1 || stats.BeginCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecoverStandaloneRecords(t *testing.T) {
	dir := t.TempDir()
	w, _, _, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustAppend(t, w, PutRecord([]byte("a"), []byte("1")))
	mustAppend(t, w, DeleteRecord([]byte("b")))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, records, _, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Type != TypePut || records[1].Type != TypeDelete {
		t.Fatalf("unexpected order/types: %+v", records)
	}
}

func TestAppendBatchSingleSync(t *testing.T) {
	dir := t.TempDir()
	w, _, _, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seqs, err := w.AppendBatch([]Record{
		PutRecord([]byte("a"), []byte("1")),
		PutRecord([]byte("b"), []byte("2")),
		DeleteRecord([]byte("c")),
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if len(seqs) != 3 || seqs[0] == 0 || seqs[1] != seqs[0]+1 || seqs[2] != seqs[1]+1 {
		t.Fatalf("expected 3 ascending sequences, got %v", seqs)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, records, _, err := Open(dir, config.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Type != TypePut || records[1].Type != TypePut || records[2].Type != TypeDelete {
		t.Fatalf("unexpected order/types: %+v", records)
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	opts := config.Default()
	opts.MaxSegmentSize = 64 // force rotation almost immediately
	w, _, _, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 20; i++ {
		mustAppend(t, w, PutRecord([]byte("key"), []byte("0123456789")))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	count := 0
	for _, e := range entries {
		if _, ok := parseSegmentSeq(e.Name()); ok {
			count++
		}
	}
	if count < 2 {
		t.Fatalf("expected rotation to produce multiple segments, got %d in %s", count, dir)
	}

	_, records, _, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen after rotation: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("expected 20 recovered records across segments, got %d", len(records))
	}
}

func TestSegmentNaming(t *testing.T) {
	name := segmentName(255)
	if filepath.Ext(name) != ".log" {
		t.Fatalf("unexpected extension: %s", name)
	}
	seq, ok := parseSegmentSeq(name)
	if !ok || seq != 255 {
		t.Fatalf("round trip failed: %s -> %d, %v", name, seq, ok)
	}
}

func mustAppend(t *testing.T, w *WAL, r Record) {
	t.Helper()
	if _, err := w.Append(r); err != nil {
		t.Fatalf("append %v: %v", r.Type, err)
	}
}
