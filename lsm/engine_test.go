package lsm

import (
	"fmt"
	"testing"

	"github.com/oarkflow/emberdb/config"
)

func smallOpts() config.Options {
	o := config.Default()
	o.MemtableSize = 256
	o.BlockSize = 256
	o.Level0Trigger = 2
	o.TargetFileSize = 4096
	o.Level1MaxSize = 1024
	o.ManifestLogThreshold = 1000
	return o
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, found, err := e.Get([]byte("a"))
	if err != nil || !found || string(v) != "1" {
		t.Fatalf("get a: v=%s found=%v err=%v", v, found, err)
	}

	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, found, err = e.Get([]byte("a"))
	if err != nil || found {
		t.Fatalf("expected a deleted, found=%v err=%v", found, err)
	}
}

func TestFlushTriggersOnMemtableSize(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("value-%04d-padding-to-grow-the-memtable", i))
		if err := e.Put(key, val); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	live := e.m.Live()
	if len(live) == 0 {
		t.Fatal("expected at least one flushed sstable after exceeding memtable size repeatedly")
	}

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := fmt.Sprintf("value-%04d-padding-to-grow-the-memtable", i)
		v, found, err := e.Get(key)
		if err != nil || !found || string(v) != want {
			t.Fatalf("get %s: v=%s found=%v err=%v", key, v, found, err)
		}
	}
}

func TestCompactionCollapsesLevel0(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	for round := 0; round < 6; round++ {
		for i := 0; i < 20; i++ {
			key := []byte(fmt.Sprintf("k-%03d", i))
			val := []byte(fmt.Sprintf("round-%d-padding-bytes-here-to-force-flush", round))
			if err := e.Put(key, val); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}

	live := e.m.Live()
	var l0 int
	for _, m := range live {
		if m.Level == 0 {
			l0++
		}
	}
	if l0 >= e.opts.Level0Trigger {
		t.Fatalf("expected level-0 compaction to have kept the table count below the trigger, got %d", l0)
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k-%03d", i))
		want := "round-5-padding-bytes-here-to-force-flush"
		v, found, err := e.Get(key)
		if err != nil || !found || string(v) != want {
			t.Fatalf("get %s after compaction: v=%s found=%v err=%v", key, v, found, err)
		}
	}
}

func TestRecoveryReplaysUnflushedWrites(t *testing.T) {
	dir := t.TempDir()
	opts := config.Default()

	e, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Put([]byte("y"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}
	if err := e.m.Close(); err != nil {
		t.Fatalf("close manifest: %v", err)
	}

	e2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	v, found, err := e2.Get([]byte("x"))
	if err != nil || !found || string(v) != "1" {
		t.Fatalf("get x after recovery: v=%s found=%v err=%v", v, found, err)
	}
	v, found, err = e2.Get([]byte("y"))
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("get y after recovery: v=%s found=%v err=%v", v, found, err)
	}
}

func TestNoOverlapInvariantAboveLevel0(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	for round := 0; round < 8; round++ {
		for i := 0; i < 20; i++ {
			key := []byte(fmt.Sprintf("k-%03d", i))
			val := []byte(fmt.Sprintf("round-%d-padding-bytes-here-to-force-flush", round))
			if err := e.Put(key, val); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}

	live := e.m.Live()
	byLevel := groupByLevel(live, e.opts.MaxLevels)
	for level := 1; level < len(byLevel); level++ {
		metas := byLevel[level]
		for i := 0; i < len(metas); i++ {
			for j := i + 1; j < len(metas); j++ {
				if metas[i].Overlaps(metas[j].MinKey, metas[j].MaxKey) {
					t.Fatalf("level %d: tables %s and %s overlap", level, metas[i].Path, metas[j].Path)
				}
			}
		}
	}
}
