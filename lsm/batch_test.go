package lsm

import "testing"

func TestBatchCommitAppliesAllOps(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("x"), []byte("old")); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	b := e.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("x"))
	if b.Len() != 3 {
		t.Fatalf("expected 3 staged ops, got %d", b.Len())
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected batch to reset after commit, got %d", b.Len())
	}

	v, found, err := e.Get([]byte("a"))
	if err != nil || !found || string(v) != "1" {
		t.Fatalf("get a: v=%s found=%v err=%v", v, found, err)
	}
	v, found, err = e.Get([]byte("b"))
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("get b: v=%s found=%v err=%v", v, found, err)
	}
	_, found, err = e.Get([]byte("x"))
	if err != nil || found {
		t.Fatalf("expected x deleted by batch, found=%v err=%v", found, err)
	}
}

func TestEmptyBatchCommitIsNoOp(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	b := e.NewBatch()
	if err := b.Commit(); err != nil {
		t.Fatalf("commit empty batch: %v", err)
	}
}

func TestBatchSurvivesRecovery(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	b := e.NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	b.Put([]byte("k2"), []byte("v2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(dir, smallOpts())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	v, found, err := e2.Get([]byte("k1"))
	if err != nil || !found || string(v) != "v1" {
		t.Fatalf("get k1 after reopen: v=%s found=%v err=%v", v, found, err)
	}
	v, found, err = e2.Get([]byte("k2"))
	if err != nil || !found || string(v) != "v2" {
		t.Fatalf("get k2 after reopen: v=%s found=%v err=%v", v, found, err)
	}
}
