package mvcc

import (
	"testing"
)

func TestSnapshotIsolation(t *testing.T) {
	m := NewManager()

	t1 := m.Begin(RepeatableRead)
	if err := m.Put(t1, []byte("x"), []byte("1000")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := m.Commit(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}

	t2 := m.Begin(RepeatableRead)
	v, found, err := m.Get(t2, []byte("x"))
	if err != nil || !found || string(v) != "1000" {
		t.Fatalf("t2 first read: v=%s found=%v err=%v", v, found, err)
	}

	t3 := m.Begin(RepeatableRead)
	if err := m.Put(t3, []byte("x"), []byte("2000")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := m.Commit(t3); err != nil {
		t.Fatalf("commit t3: %v", err)
	}

	v, found, err = m.Get(t2, []byte("x"))
	if err != nil || !found || string(v) != "1000" {
		t.Fatalf("t2 second read should still see 1000: v=%s found=%v err=%v", v, found, err)
	}

	t4 := m.Begin(RepeatableRead)
	v, found, err = m.Get(t4, []byte("x"))
	if err != nil || !found || string(v) != "2000" {
		t.Fatalf("t4 should see 2000: v=%s found=%v err=%v", v, found, err)
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	m := NewManager()
	tx := m.Begin(RepeatableRead)
	if err := m.Put(tx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, found, err := m.Get(tx, []byte("a"))
	if err != nil || !found || string(v) != "1" {
		t.Fatalf("read-your-own-write: v=%s found=%v err=%v", v, found, err)
	}

	if err := m.Delete(tx, []byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, found, err = m.Get(tx, []byte("a"))
	if err != nil || found {
		t.Fatalf("expected buffered delete to shadow buffered put, found=%v err=%v", found, err)
	}
}

func TestRollbackHasNoGlobalEffect(t *testing.T) {
	m := NewManager()
	tx := m.Begin(RepeatableRead)
	if err := m.Put(tx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	m.Rollback(tx)

	other := m.Begin(RepeatableRead)
	_, found, err := m.Get(other, []byte("a"))
	if err != nil || found {
		t.Fatalf("rolled back write should not be visible, found=%v err=%v", found, err)
	}
}

func TestCommitOrderVisibility(t *testing.T) {
	m := NewManager()

	a := m.Begin(RepeatableRead)
	if err := m.Put(a, []byte("k"), []byte("from-a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := m.Commit(a); err != nil {
		t.Fatalf("commit a: %v", err)
	}

	b := m.Begin(RepeatableRead)
	v, found, err := m.Get(b, []byte("k"))
	if err != nil || !found || string(v) != "from-a" {
		t.Fatalf("b begun after a commits must see a's write: v=%s found=%v err=%v", v, found, err)
	}
}

func TestScanOrdersByKeyAndRespectsSnapshot(t *testing.T) {
	m := NewManager()

	setup := m.Begin(RepeatableRead)
	for _, kv := range [][2]string{{"b", "2"}, {"a", "1"}, {"c", "3"}} {
		if err := m.Put(setup, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if _, err := m.Commit(setup); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := m.Begin(RepeatableRead)
	rows, err := m.Scan(reader, []byte(""))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(rows[i].Key) != want {
			t.Fatalf("row %d: expected key %s, got %s", i, want, rows[i].Key)
		}
	}
}

func TestGCRetainsBaselineBelowWatermark(t *testing.T) {
	m := NewManager()

	tx1 := m.Begin(RepeatableRead)
	m.Put(tx1, []byte("k"), []byte("v1"))
	m.Commit(tx1)

	tx2 := m.Begin(RepeatableRead)
	m.Put(tx2, []byte("k"), []byte("v2"))
	m.Commit(tx2)

	tx3 := m.Begin(RepeatableRead)
	m.Put(tx3, []byte("k"), []byte("v3"))
	m.Commit(tx3)

	// no active transactions: the watermark is unbounded (max uint64), so GC
	// can collapse the chain down to just the newest node.
	m.GC()

	reader := m.Begin(RepeatableRead)
	v, found, err := m.Get(reader, []byte("k"))
	if err != nil || !found || string(v) != "v3" {
		t.Fatalf("expected v3 to remain visible after gc: v=%s found=%v err=%v", v, found, err)
	}

	m.mu.Lock()
	chain := m.chains["k"]
	m.mu.Unlock()
	if chain == nil || chain.Next != nil {
		t.Fatalf("expected gc to collapse the chain to a single baseline node")
	}
}

func TestGCPreservesReaderVisibleVersion(t *testing.T) {
	m := NewManager()

	tx1 := m.Begin(RepeatableRead)
	m.Put(tx1, []byte("k"), []byte("v1"))
	m.Commit(tx1)

	reader := m.Begin(RepeatableRead) // snapshot before v2 commits

	tx2 := m.Begin(RepeatableRead)
	m.Put(tx2, []byte("k"), []byte("v2"))
	m.Commit(tx2)

	// reader is still active with an old snapshot, so GC must not discard
	// the version it can still see.
	m.GC()

	v, found, err := m.Get(reader, []byte("k"))
	if err != nil || !found || string(v) != "v1" {
		t.Fatalf("expected reader to still see v1 after gc: v=%s found=%v err=%v", v, found, err)
	}
}
