package manifest

import (
	"testing"

	"github.com/oarkflow/emberdb/sstable"
)

func TestAddRemoveAndReload(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	meta := sstable.Meta{Path: "0-1.sst", Level: 0, MinKey: []byte("a"), MaxKey: []byte("z"), EntryCount: 10, FileSize: 1024, Sequence: 1}
	if err := m.AddSSTable(meta); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.UpdateSequence(5); err != nil {
		t.Fatalf("update sequence: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m2, err := Open(dir, 1000)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	live := m2.Live()
	if len(live) != 1 || live[0].Path != "0-1.sst" {
		t.Fatalf("expected 1 live sstable, got %+v", live)
	}
	if m2.Sequence() != 5 {
		t.Fatalf("expected sequence 5, got %d", m2.Sequence())
	}

	if err := m2.RemoveSSTable("0-1.sst"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m3, err := Open(dir, 1000)
	if err != nil {
		t.Fatalf("reopen after remove: %v", err)
	}
	if len(m3.Live()) != 0 {
		t.Fatalf("expected 0 live sstables after removal, got %d", len(m3.Live()))
	}
}

func TestRewriteCollapsesLog(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 3) // low threshold forces a rewrite quickly
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 10; i++ {
		meta := sstable.Meta{Path: sstableName(i), Level: 0, MinKey: []byte("a"), MaxKey: []byte("z"), Sequence: uint64(i)}
		if err := m.AddSSTable(meta); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if m.logCount >= 3 {
		t.Fatalf("expected log to have been collapsed below threshold, got logCount=%d", m.logCount)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m2, err := Open(dir, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(m2.Live()) != 10 {
		t.Fatalf("expected 10 live sstables after rewrite+reload, got %d", len(m2.Live()))
	}
}

func sstableName(i int) string {
	return string(rune('a'+i)) + ".sst"
}
